package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/specflow/specflow/internal/changelog"
	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/pkg/models"
)

// SyncStats summarizes a sync operation.
type SyncStats struct {
	Specs   int `json:"specs"`
	Tasks   int `json:"tasks"`
	Deletes int `json:"deletes,omitempty"`
}

// ExportAll rewrites the change log from current database state: one
// create record per live spec and task, tasks with completion specs
// expanded. The previous log contents are replaced atomically.
func (s *Store) ExportAll() (*SyncStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log == nil {
		return nil, errs.New(errs.KindInvalidArgument, "no change log attached")
	}

	var records []*changelog.ChangeRecord
	stats := &SyncStats{}

	rows, err := s.conn.Query("SELECT id, title, status, source_type, created_at, updated_at, metadata FROM specs ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("export specs: %w", err)
	}
	var specs []*models.Spec
	for rows.Next() {
		spec, err := scanSpec(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		specs = append(specs, spec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, spec := range specs {
		data, err := json.Marshal(spec)
		if err != nil {
			return nil, fmt.Errorf("marshal spec %s: %w", spec.ID, err)
		}
		records = append(records, &changelog.ChangeRecord{
			Timestamp:  spec.UpdatedAt.UTC(),
			EntityType: changelog.EntitySpec,
			EntityID:   spec.ID,
			ChangeType: changelog.ChangeCreate,
			Data:       data,
		})
		stats.Specs++
	}

	tasks, err := s.listTasksLocked("", "")
	if err != nil {
		return nil, err
	}
	for _, task := range tasks {
		if task.CompletionSpec, err = loadCompletionSpecFrom(s.conn, task.ID); err != nil {
			return nil, err
		}
		data, err := json.Marshal(task)
		if err != nil {
			return nil, fmt.Errorf("marshal task %s: %w", task.ID, err)
		}
		records = append(records, &changelog.ChangeRecord{
			Timestamp:  task.UpdatedAt.UTC(),
			EntityType: changelog.EntityTask,
			EntityID:   task.ID,
			ChangeType: changelog.ChangeCreate,
			Data:       data,
		})
		stats.Tasks++
	}

	if err := s.log.Rewrite(records); err != nil {
		return nil, err
	}
	return stats, nil
}

// ImportChanges replays the change log into the database in file order.
// Creates and updates upsert; deletes remove. Mirroring is suspended for
// the duration so the replay does not append its own records.
func (s *Store) ImportChanges() (*SyncStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log == nil {
		return nil, errs.New(errs.KindInvalidArgument, "no change log attached")
	}

	records, err := s.log.ReadAll()
	if err != nil {
		return nil, err
	}

	wasMirroring := s.mirror
	s.mirror = false
	defer func() { s.mirror = wasMirroring }()

	stats := &SyncStats{}
	err = s.transactionLocked(func(tx *sql.Tx) error {
		for i, rec := range records {
			if err := applyRecord(tx, rec, stats); err != nil {
				return fmt.Errorf("import record %d (%s %s): %w", i+1, rec.EntityType, rec.EntityID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func applyRecord(tx *sql.Tx, rec *changelog.ChangeRecord, stats *SyncStats) error {
	if rec.ChangeType == changelog.ChangeDelete {
		table := "specs"
		if rec.EntityType == changelog.EntityTask {
			table = "tasks"
		}
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE id = ?", rec.EntityID); err != nil {
			return err
		}
		stats.Deletes++
		return nil
	}
	if rec.Data == nil {
		return errs.New(errs.KindInvalidArgument, "%s record has no data", rec.ChangeType)
	}

	switch rec.EntityType {
	case changelog.EntitySpec:
		var spec models.Spec
		if err := json.Unmarshal(rec.Data, &spec); err != nil {
			return err
		}
		if !spec.Status.Valid() {
			return errs.New(errs.KindInvalidStatus, "invalid spec status %q", spec.Status)
		}
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO specs (id, title, status, source_type, created_at, updated_at, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			spec.ID, spec.Title, string(spec.Status), nullable(spec.SourceType),
			formatTime(spec.CreatedAt), formatTime(spec.UpdatedAt),
			encodeJSON(spec.Metadata, "{}"),
		)
		if err != nil {
			return err
		}
		stats.Specs++
	case changelog.EntityTask:
		var task models.Task
		if err := json.Unmarshal(rec.Data, &task); err != nil {
			return err
		}
		if !task.Status.Valid() {
			return errs.New(errs.KindInvalidStatus, "invalid task status %q", task.Status)
		}
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO tasks (`+taskColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			task.ID, task.SpecID, task.Title, task.Description,
			string(task.Status), task.Priority,
			encodeJSON(task.Dependencies, "[]"),
			nullable(task.Assignee), nullable(task.Worktree), task.Iteration,
			formatTime(task.CreatedAt), formatTime(task.UpdatedAt),
			encodeJSON(task.Metadata, "{}"),
		)
		if err != nil {
			return err
		}
		if !task.CompletionSpec.Empty() {
			if err := writeCompletionSpec(tx, task.ID, task.CompletionSpec); err != nil {
				return err
			}
		}
		stats.Tasks++
	}
	return nil
}

// Compact collapses the change log to one record per live entity, keeping
// each entity's most recent snapshot and its timestamp. Deleted entities
// leave no trace.
func (s *Store) Compact() (*SyncStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log == nil {
		return nil, errs.New(errs.KindInvalidArgument, "no change log attached")
	}

	records, err := s.log.ReadAll()
	if err != nil {
		return nil, err
	}

	latest := make(map[string]*changelog.ChangeRecord, len(records))
	var order []string
	for _, rec := range records {
		key := rec.EntityType + "/" + rec.EntityID
		if rec.ChangeType == changelog.ChangeDelete {
			delete(latest, key)
			continue
		}
		if _, seen := latest[key]; !seen {
			order = append(order, key)
		}
		latest[key] = rec
	}

	stats := &SyncStats{}
	compacted := make([]*changelog.ChangeRecord, 0, len(latest))
	for _, key := range order {
		rec, ok := latest[key]
		if !ok {
			continue
		}
		compacted = append(compacted, &changelog.ChangeRecord{
			Timestamp:  rec.Timestamp,
			EntityType: rec.EntityType,
			EntityID:   rec.EntityID,
			ChangeType: changelog.ChangeCreate,
			Data:       rec.Data,
		})
		if rec.EntityType == changelog.EntitySpec {
			stats.Specs++
		} else {
			stats.Tasks++
		}
	}

	if err := s.log.Rewrite(compacted); err != nil {
		return nil, err
	}
	return stats, nil
}

// SyncStatus reports divergence between database state and the change log
// snapshot.
type SyncStatus struct {
	DBSpecs     int  `json:"db_specs"`
	DBTasks     int  `json:"db_tasks"`
	LogRecords  int  `json:"log_records"`
	LogSpecs    int  `json:"log_specs"`
	LogTasks    int  `json:"log_tasks"`
	InSync      bool `json:"in_sync"`
	OnlyInDB    int  `json:"only_in_db"`
	OnlyInLog   int  `json:"only_in_log"`
	Conflicting int  `json:"conflicting"`
}

// GetSyncStatus compares live entity ids in the database against the
// folded change log. Conflicting counts ids present in both whose task or
// spec snapshot differs byte-for-byte after re-marshaling.
func (s *Store) GetSyncStatus() (*SyncStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.log == nil {
		return nil, errs.New(errs.KindInvalidArgument, "no change log attached")
	}

	records, err := s.log.ReadAll()
	if err != nil {
		return nil, err
	}
	snap := changelog.Fold(records)

	status := &SyncStatus{
		LogRecords: len(records),
		LogSpecs:   len(snap.SpecIDs),
		LogTasks:   len(snap.TaskIDs),
	}

	dbIDs := make(map[string]json.RawMessage)
	rows, err := s.conn.Query("SELECT id, title, status, source_type, created_at, updated_at, metadata FROM specs")
	if err != nil {
		return nil, fmt.Errorf("sync status specs: %w", err)
	}
	for rows.Next() {
		spec, err := scanSpec(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		data, _ := json.Marshal(spec)
		dbIDs["spec/"+spec.ID] = data
		status.DBSpecs++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tasks, err := s.listTasksLocked("", "")
	if err != nil {
		return nil, err
	}
	for _, task := range tasks {
		if task.CompletionSpec, err = loadCompletionSpecFrom(s.conn, task.ID); err != nil {
			return nil, err
		}
		data, _ := json.Marshal(task)
		dbIDs["task/"+task.ID] = data
		status.DBTasks++
	}

	logIDs := make(map[string]json.RawMessage, len(snap.SpecIDs)+len(snap.TaskIDs))
	for _, id := range snap.SpecIDs {
		logIDs["spec/"+id] = snap.Specs[id]
	}
	for _, id := range snap.TaskIDs {
		logIDs["task/"+id] = snap.Tasks[id]
	}

	for key, dbData := range dbIDs {
		logData, ok := logIDs[key]
		if !ok {
			status.OnlyInDB++
			continue
		}
		if !jsonEqual(dbData, logData) {
			status.Conflicting++
		}
	}
	for key := range logIDs {
		if _, ok := dbIDs[key]; !ok {
			status.OnlyInLog++
		}
	}
	status.InSync = status.OnlyInDB == 0 && status.OnlyInLog == 0 && status.Conflicting == 0
	return status, nil
}

// jsonEqual compares two JSON documents structurally, ignoring key order.
func jsonEqual(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	ab, _ := json.Marshal(av)
	bb, _ := json.Marshal(bv)
	return string(ab) == string(bb)
}
