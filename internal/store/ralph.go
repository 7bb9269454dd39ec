package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/pkg/models"
)

const ralphColumns = "id, task_id, agent_type, iteration, max_iterations, status, verification_results, started_at, completed_at"

// RegisterRalphLoop starts a new iteration loop for a task stage. An
// existing running loop for the same (task, agent type) is superseded:
// it is marked cancelled before the new loop is inserted.
func (s *Store) RegisterRalphLoop(taskID string, agentType models.AgentType, maxIterations int) (*models.RalphLoop, error) {
	if taskID == "" {
		return nil, errs.New(errs.KindInvalidArgument, "task id is required")
	}
	if !agentType.Valid() {
		return nil, errs.New(errs.KindInvalidArgument, "invalid agent type %q", agentType)
	}
	if maxIterations <= 0 {
		return nil, errs.New(errs.KindInvalidArgument, "max iterations must be positive, got %d", maxIterations)
	}

	loop := &models.RalphLoop{
		ID:            uuid.New().String(),
		TaskID:        taskID,
		AgentType:     agentType,
		MaxIterations: maxIterations,
		Status:        models.RalphRunning,
		StartedAt:     time.Now(),
	}
	err := s.transaction(func(tx *sql.Tx) error {
		now := formatTime(time.Now())
		_, err := tx.Exec(`
			UPDATE ralph_loops SET status = ?, completed_at = ?
			WHERE task_id = ? AND agent_type = ? AND status = ?`,
			string(models.RalphCancelled), now,
			taskID, string(agentType), string(models.RalphRunning),
		)
		if err != nil {
			return fmt.Errorf("supersede ralph loop: %w", err)
		}
		_, err = tx.Exec(`
			INSERT INTO ralph_loops (`+ralphColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			loop.ID, loop.TaskID, string(loop.AgentType), loop.Iteration,
			loop.MaxIterations, string(loop.Status), "[]",
			formatTime(loop.StartedAt), nil,
		)
		if err != nil {
			return fmt.Errorf("register ralph loop: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loop, nil
}

// UpdateRalphLoop records the outcome of one iteration: bumps the
// iteration counter and appends the verification result.
func (s *Store) UpdateRalphLoop(id string, result models.VerificationResult) (*models.RalphLoop, error) {
	var loop *models.RalphLoop
	err := s.transaction(func(tx *sql.Tx) error {
		var err error
		loop, err = getRalphLoopTx(tx, id)
		if err != nil {
			return err
		}
		if loop.Status != models.RalphRunning {
			return errs.New(errs.KindInvalidStatus,
				"ralph loop %s is %s, not running", id, loop.Status)
		}
		loop.Iteration = result.Iteration
		loop.VerificationResults = append(loop.VerificationResults, result)
		_, err = tx.Exec(
			"UPDATE ralph_loops SET iteration = ?, verification_results = ? WHERE id = ?",
			loop.Iteration, encodeJSON(loop.VerificationResults, "[]"), id,
		)
		if err != nil {
			return fmt.Errorf("update ralph loop: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loop, nil
}

// CompleteRalphLoop moves a loop to a terminal state.
func (s *Store) CompleteRalphLoop(id string, status models.RalphStatus) error {
	switch status {
	case models.RalphCompleted, models.RalphCancelled, models.RalphFailed:
	default:
		return errs.New(errs.KindInvalidStatus, "%q is not a terminal loop status", status)
	}
	return s.transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"UPDATE ralph_loops SET status = ?, completed_at = ? WHERE id = ?",
			string(status), formatTime(time.Now()), id,
		)
		if err != nil {
			return fmt.Errorf("complete ralph loop: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errs.New(errs.KindNotFound, "ralph loop %s not found", id)
		}
		return nil
	})
}

// CancelRalphLoops cancels every running loop for a task. Returns the
// number of loops cancelled.
func (s *Store) CancelRalphLoops(taskID string) (int, error) {
	return s.cancelRalphLoops(taskID, "")
}

// CancelRalphLoopsForAgent cancels the task's running loops restricted to
// one agent type.
func (s *Store) CancelRalphLoopsForAgent(taskID string, agentType models.AgentType) (int, error) {
	if !agentType.Valid() {
		return 0, errs.New(errs.KindInvalidArgument, "invalid agent type %q", agentType)
	}
	return s.cancelRalphLoops(taskID, agentType)
}

func (s *Store) cancelRalphLoops(taskID string, agentType models.AgentType) (int, error) {
	query := "UPDATE ralph_loops SET status = ?, completed_at = ? WHERE task_id = ? AND status = ?"
	args := []any{string(models.RalphCancelled), formatTime(time.Now()), taskID, string(models.RalphRunning)}
	if agentType != "" {
		query += " AND agent_type = ?"
		args = append(args, string(agentType))
	}

	var n int64
	err := s.transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(query, args...)
		if err != nil {
			return fmt.Errorf("cancel ralph loops: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// GetRalphLoop returns the loop with the given id.
func (s *Store) GetRalphLoop(id string) (*models.RalphLoop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loop, err := scanRalphLoop(s.conn.QueryRow(
		"SELECT "+ralphColumns+" FROM ralph_loops WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.KindNotFound, "ralph loop %s not found", id)
	}
	return loop, err
}

// GetRunningRalphLoop returns the running loop for a task, or nil if none.
func (s *Store) GetRunningRalphLoop(taskID string) (*models.RalphLoop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loop, err := scanRalphLoop(s.conn.QueryRow(
		"SELECT "+ralphColumns+" FROM ralph_loops WHERE task_id = ? AND status = ? ORDER BY started_at DESC LIMIT 1",
		taskID, string(models.RalphRunning)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return loop, err
}

// ListRalphLoops returns loops newest first, optionally filtered by
// status.
func (s *Store) ListRalphLoops(status models.RalphStatus) ([]*models.RalphLoop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + ralphColumns + " FROM ralph_loops"
	var args []any
	if status != "" {
		if !status.Valid() {
			return nil, errs.New(errs.KindInvalidStatus, "invalid loop status %q", status)
		}
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY started_at DESC"

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ralph loops: %w", err)
	}
	defer rows.Close()

	var loops []*models.RalphLoop
	for rows.Next() {
		loop, err := scanRalphLoop(rows)
		if err != nil {
			return nil, err
		}
		loops = append(loops, loop)
	}
	return loops, rows.Err()
}

func getRalphLoopTx(tx *sql.Tx, id string) (*models.RalphLoop, error) {
	loop, err := scanRalphLoop(tx.QueryRow(
		"SELECT "+ralphColumns+" FROM ralph_loops WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.KindNotFound, "ralph loop %s not found", id)
	}
	return loop, err
}

func scanRalphLoop(row rowScanner) (*models.RalphLoop, error) {
	var (
		loop        models.RalphLoop
		agentType   string
		status      string
		results     string
		startedAt   string
		completedAt sql.NullString
	)
	if err := row.Scan(&loop.ID, &loop.TaskID, &agentType, &loop.Iteration,
		&loop.MaxIterations, &status, &results, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	loop.AgentType = models.AgentType(agentType)
	loop.Status = models.RalphStatus(status)
	if err := json.Unmarshal([]byte(results), &loop.VerificationResults); err != nil {
		return nil, errs.Wrap(errs.KindStoreCorruption, err, "ralph loop %s results", loop.ID)
	}
	var err error
	if loop.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, errs.Wrap(errs.KindStoreCorruption, err, "ralph loop %s started_at", loop.ID)
	}
	loop.CompletedAt = parseNullableTime(completedAt)
	return &loop, nil
}
