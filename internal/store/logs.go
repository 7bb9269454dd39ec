package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/pkg/models"
)

// LogExecution appends one execution log entry for a task and returns its
// assigned id.
func (s *Store) LogExecution(entry *models.ExecutionLog) error {
	if entry.TaskID == "" {
		return errs.New(errs.KindInvalidArgument, "task id is required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return s.transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			INSERT INTO execution_logs (task_id, agent_type, action, output, success, duration_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entry.TaskID, string(entry.AgentType), entry.Action, entry.Output,
			boolToInt(entry.Success), entry.DurationMs, formatTime(entry.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("log execution: %w", err)
		}
		entry.ID, err = res.LastInsertId()
		return err
	})
}

// GetExecutionLogs returns a task's log entries oldest first. A limit of
// zero returns all entries.
func (s *Store) GetExecutionLogs(taskID string, limit int) ([]*models.ExecutionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, task_id, agent_type, action, output, success, duration_ms, created_at
		FROM execution_logs WHERE task_id = ? ORDER BY id ASC`
	args := []any{taskID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get execution logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.ExecutionLog
	for rows.Next() {
		var (
			entry     models.ExecutionLog
			agentType string
			success   int
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.TaskID, &agentType, &entry.Action,
			&entry.Output, &success, &entry.DurationMs, &createdAt); err != nil {
			return nil, err
		}
		entry.AgentType = models.AgentType(agentType)
		entry.Success = success != 0
		if entry.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, errs.Wrap(errs.KindStoreCorruption, err, "execution log %d created_at", entry.ID)
		}
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
