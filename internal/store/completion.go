package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/pkg/models"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// writeCompletionSpec replaces the normalized completion rows for a task.
func writeCompletionSpec(tx *sql.Tx, taskID string, cs *models.CompletionSpec) error {
	if _, err := tx.Exec("DELETE FROM task_completion_specs WHERE task_id = ?", taskID); err != nil {
		return fmt.Errorf("clear completion spec: %w", err)
	}
	_, err := tx.Exec(`
		INSERT INTO task_completion_specs (task_id, outcome, acceptance_criteria)
		VALUES (?, ?, ?)`,
		taskID, cs.Outcome, encodeJSON(cs.AcceptanceCriteria, "[]"),
	)
	if err != nil {
		return fmt.Errorf("write completion spec: %w", err)
	}

	roles := []struct {
		role models.AgentType
		c    *models.CompletionCriteria
	}{
		{models.AgentCoder, cs.Coder},
		{models.AgentReviewer, cs.Reviewer},
		{models.AgentTester, cs.Tester},
		{models.AgentQA, cs.QA},
	}
	for _, r := range roles {
		if r.c == nil {
			continue
		}
		if r.c.Method != "" && !r.c.Method.Valid() {
			return errs.New(errs.KindInvalidArgument,
				"task %s %s criteria: unknown verification method %q", taskID, r.role, r.c.Method)
		}
		_, err := tx.Exec(`
			INSERT INTO task_role_criteria
				(task_id, role, promise, description, verification_method, command, success_exit_code, stages, max_iterations)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			taskID, string(r.role), r.c.Promise, r.c.Description,
			string(criteriaMethod(r.c)), r.c.Command, r.c.SuccessExitCode,
			encodeJSON(r.c.Stages, "[]"), r.c.MaxIterations,
		)
		if err != nil {
			return fmt.Errorf("write %s criteria: %w", r.role, err)
		}
	}
	return nil
}

// criteriaMethod defaults an unset method to string_match.
func criteriaMethod(c *models.CompletionCriteria) models.VerificationMethod {
	if c.Method == "" {
		return models.VerifyStringMatch
	}
	return c.Method
}

// loadCompletionSpec loads the completion spec for a task, or nil if the
// task has none.
func (s *Store) loadCompletionSpec(taskID string) (*models.CompletionSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadCompletionSpecFrom(s.conn, taskID)
}

func loadCompletionSpecFrom(q queryer, taskID string) (*models.CompletionSpec, error) {
	var (
		cs       models.CompletionSpec
		criteria string
	)
	row := q.QueryRow(
		"SELECT outcome, acceptance_criteria FROM task_completion_specs WHERE task_id = ?",
		taskID,
	)
	if err := row.Scan(&cs.Outcome, &criteria); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load completion spec: %w", err)
	}
	if err := json.Unmarshal([]byte(criteria), &cs.AcceptanceCriteria); err != nil {
		return nil, errs.Wrap(errs.KindStoreCorruption, err, "task %s acceptance criteria", taskID)
	}

	rows, err := q.Query(`
		SELECT role, promise, description, verification_method, command, success_exit_code, stages, max_iterations
		FROM task_role_criteria WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, fmt.Errorf("load role criteria: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			role   string
			c      models.CompletionCriteria
			method string
			stages string
		)
		if err := rows.Scan(&role, &c.Promise, &c.Description, &method,
			&c.Command, &c.SuccessExitCode, &stages, &c.MaxIterations); err != nil {
			return nil, err
		}
		c.Method = models.VerificationMethod(method)
		if err := json.Unmarshal([]byte(stages), &c.Stages); err != nil {
			return nil, errs.Wrap(errs.KindStoreCorruption, err, "task %s %s stages", taskID, role)
		}
		switch models.AgentType(role) {
		case models.AgentCoder:
			cs.Coder = &c
		case models.AgentReviewer:
			cs.Reviewer = &c
		case models.AgentTester:
			cs.Tester = &c
		case models.AgentQA:
			cs.QA = &c
		default:
			return nil, errs.New(errs.KindStoreCorruption, "task %s: unknown criteria role %q", taskID, role)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &cs, nil
}
