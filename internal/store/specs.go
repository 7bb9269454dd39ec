package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/specflow/specflow/internal/changelog"
	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/pkg/models"
)

// record mirrors one mutation into the change log. Called inside the write
// transaction so an append failure rolls the whole mutation back.
func (s *Store) record(entityType, entityID, changeType string, entity any) error {
	if !s.mirror || s.log == nil {
		return nil
	}
	var data json.RawMessage
	if entity != nil {
		b, err := json.Marshal(entity)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", entityType, entityID, err)
		}
		data = b
	}
	return s.log.Append(&changelog.ChangeRecord{
		Timestamp:  time.Now().UTC(),
		EntityType: entityType,
		EntityID:   entityID,
		ChangeType: changeType,
		Data:       data,
	})
}

// encodeJSON marshals v for TEXT column storage, defaulting to fallback.
func encodeJSON(v any, fallback string) string {
	if v == nil {
		return fallback
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fallback
	}
	return string(b)
}

// CreateSpec persists a new specification.
func (s *Store) CreateSpec(spec *models.Spec) error {
	if spec.ID == "" {
		return errs.New(errs.KindInvalidArgument, "spec id is required")
	}
	if !spec.Status.Valid() {
		return errs.New(errs.KindInvalidStatus, "invalid spec status %q", spec.Status)
	}
	return s.transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO specs (id, title, status, source_type, created_at, updated_at, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			spec.ID, spec.Title, string(spec.Status), nullable(spec.SourceType),
			formatTime(spec.CreatedAt), formatTime(spec.UpdatedAt),
			encodeJSON(spec.Metadata, "{}"),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return errs.New(errs.KindDuplicateID, "spec %s already exists", spec.ID)
			}
			return fmt.Errorf("create spec: %w", err)
		}
		return s.record(changelog.EntitySpec, spec.ID, changelog.ChangeCreate, spec)
	})
}

// GetSpec returns the spec with the given id, or a NotFound error.
func (s *Store) GetSpec(id string) (*models.Spec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.conn.QueryRow("SELECT id, title, status, source_type, created_at, updated_at, metadata FROM specs WHERE id = ?", id)
	spec, err := scanSpec(row)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.KindNotFound, "spec %s not found", id)
	}
	return spec, err
}

// ListSpecs returns specs ordered by updated_at descending, optionally
// filtered by status.
func (s *Store) ListSpecs(status models.SpecStatus) ([]*models.Spec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, title, status, source_type, created_at, updated_at, metadata FROM specs"
	var args []any
	if status != "" {
		if !status.Valid() {
			return nil, errs.New(errs.KindInvalidStatus, "invalid spec status %q", status)
		}
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list specs: %w", err)
	}
	defer rows.Close()

	var specs []*models.Spec
	for rows.Next() {
		spec, err := scanSpec(rows)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

// UpdateSpec persists changes to an existing spec, bumping updated_at.
func (s *Store) UpdateSpec(spec *models.Spec) error {
	if !spec.Status.Valid() {
		return errs.New(errs.KindInvalidStatus, "invalid spec status %q", spec.Status)
	}
	spec.UpdatedAt = time.Now()
	return s.transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE specs SET title = ?, status = ?, source_type = ?, updated_at = ?, metadata = ?
			WHERE id = ?`,
			spec.Title, string(spec.Status), nullable(spec.SourceType),
			formatTime(spec.UpdatedAt), encodeJSON(spec.Metadata, "{}"), spec.ID,
		)
		if err != nil {
			return fmt.Errorf("update spec: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errs.New(errs.KindNotFound, "spec %s not found", spec.ID)
		}
		return s.record(changelog.EntitySpec, spec.ID, changelog.ChangeUpdate, spec)
	})
}

// DeleteSpec removes a spec. Tasks cascade at the SQL level; their delete
// records are mirrored explicitly so the change log replays correctly.
func (s *Store) DeleteSpec(id string) error {
	return s.transaction(func(tx *sql.Tx) error {
		rows, err := tx.Query("SELECT id FROM tasks WHERE spec_id = ?", id)
		if err != nil {
			return fmt.Errorf("list spec tasks: %w", err)
		}
		var taskIDs []string
		for rows.Next() {
			var tid string
			if err := rows.Scan(&tid); err != nil {
				rows.Close()
				return err
			}
			taskIDs = append(taskIDs, tid)
		}
		rows.Close()

		res, err := tx.Exec("DELETE FROM specs WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("delete spec: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errs.New(errs.KindNotFound, "spec %s not found", id)
		}
		for _, tid := range taskIDs {
			if err := s.record(changelog.EntityTask, tid, changelog.ChangeDelete, nil); err != nil {
				return err
			}
		}
		return s.record(changelog.EntitySpec, id, changelog.ChangeDelete, nil)
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpec(row rowScanner) (*models.Spec, error) {
	var (
		spec       models.Spec
		status     string
		sourceType sql.NullString
		createdAt  string
		updatedAt  string
		metadata   string
	)
	if err := row.Scan(&spec.ID, &spec.Title, &status, &sourceType, &createdAt, &updatedAt, &metadata); err != nil {
		return nil, err
	}
	spec.Status = models.SpecStatus(status)
	spec.SourceType = sourceType.String

	var err error
	if spec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, errs.Wrap(errs.KindStoreCorruption, err, "spec %s created_at", spec.ID)
	}
	if spec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, errs.Wrap(errs.KindStoreCorruption, err, "spec %s updated_at", spec.ID)
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &spec.Metadata); err != nil {
			return nil, errs.Wrap(errs.KindStoreCorruption, err, "spec %s metadata", spec.ID)
		}
	}
	return &spec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation reports whether err is a SQLite unique constraint error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
