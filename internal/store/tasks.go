package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/specflow/specflow/internal/changelog"
	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/pkg/models"
)

const taskColumns = "id, spec_id, title, description, status, priority, dependencies, assignee, worktree, iteration, created_at, updated_at, metadata"

// CreateTask persists a task and, atomically, its completion spec if one
// is declared. Fails with DuplicateID if the id exists.
func (s *Store) CreateTask(task *models.Task) error {
	if task.ID == "" || task.SpecID == "" {
		return errs.New(errs.KindInvalidArgument, "task id and spec id are required")
	}
	if !task.Status.Valid() {
		return errs.New(errs.KindInvalidStatus, "invalid task status %q", task.Status)
	}
	if task.Priority < models.PriorityHigh || task.Priority > models.PriorityLow {
		return errs.New(errs.KindInvalidArgument, "priority must be 1..3, got %d", task.Priority)
	}
	if task.DependsOn(task.ID) {
		return errs.New(errs.KindInvalidArgument, "task %s cannot depend on itself", task.ID)
	}
	if err := s.checkAcyclic(task); err != nil {
		return err
	}

	return s.transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO tasks (`+taskColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			task.ID, task.SpecID, task.Title, task.Description,
			string(task.Status), task.Priority,
			encodeJSON(task.Dependencies, "[]"),
			nullable(task.Assignee), nullable(task.Worktree), task.Iteration,
			formatTime(task.CreatedAt), formatTime(task.UpdatedAt),
			encodeJSON(task.Metadata, "{}"),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return errs.New(errs.KindDuplicateID, "task %s already exists", task.ID)
			}
			return fmt.Errorf("create task: %w", err)
		}
		if !task.CompletionSpec.Empty() {
			if err := writeCompletionSpec(tx, task.ID, task.CompletionSpec); err != nil {
				return err
			}
		}
		return s.record(changelog.EntityTask, task.ID, changelog.ChangeCreate, task)
	})
}

// checkAcyclic rejects dependency edges that would close a cycle within
// the spec's existing task graph.
func (s *Store) checkAcyclic(task *models.Task) error {
	if len(task.Dependencies) == 0 {
		return nil
	}
	existing, err := s.ListTasks(task.SpecID, "")
	if err != nil {
		return err
	}
	deps := make(map[string][]string, len(existing)+1)
	for _, t := range existing {
		deps[t.ID] = t.Dependencies
	}
	deps[task.ID] = task.Dependencies

	// DFS from the new task; reaching it again means a cycle.
	seen := map[string]bool{}
	var visit func(id string) bool
	visit = func(id string) bool {
		if seen[id] {
			return false
		}
		seen[id] = true
		for _, d := range deps[id] {
			if d == task.ID || visit(d) {
				return true
			}
		}
		return false
	}
	for _, d := range task.Dependencies {
		if d == task.ID || visit(d) {
			return errs.New(errs.KindInvalidArgument,
				"task %s dependencies would form a cycle", task.ID)
		}
	}
	return nil
}

// GetTask returns the task with the given id, with its completion spec
// loaded. Returns a NotFound error if it does not exist.
func (s *Store) GetTask(id string) (*models.Task, error) {
	task, err := s.getTaskBare(id)
	if err != nil {
		return nil, err
	}
	cs, err := s.loadCompletionSpec(id)
	if err != nil {
		return nil, err
	}
	task.CompletionSpec = cs
	return task, nil
}

// GetTaskNoCompletion returns the task without expanding its completion
// spec. Intended for bulk and display paths.
func (s *Store) GetTaskNoCompletion(id string) (*models.Task, error) {
	return s.getTaskBare(id)
}

func (s *Store) getTaskBare(id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.conn.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.KindNotFound, "task %s not found", id)
	}
	return task, err
}

// ListTasks returns tasks ordered by priority ascending then created_at
// ascending, optionally filtered by spec and status. Completion specs are
// not expanded.
func (s *Store) ListTasks(specID string, status models.TaskStatus) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listTasksLocked(specID, status)
}

func (s *Store) listTasksLocked(specID string, status models.TaskStatus) ([]*models.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks WHERE 1=1"
	var args []any
	if specID != "" {
		query += " AND spec_id = ?"
		args = append(args, specID)
	}
	if status != "" {
		if !status.Valid() {
			return nil, errs.New(errs.KindInvalidStatus, "invalid task status %q", status)
		}
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY priority ASC, created_at ASC"

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// GetReadyTasks returns todo tasks whose dependencies are all done,
// ordered like ListTasks.
func (s *Store) GetReadyTasks(specID string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	todo, err := s.listTasksLocked(specID, models.TaskStatusTodo)
	if err != nil {
		return nil, err
	}
	done, err := s.listTasksLocked(specID, models.TaskStatusDone)
	if err != nil {
		return nil, err
	}
	doneIDs := make(map[string]bool, len(done))
	for _, t := range done {
		doneIDs[t.ID] = true
	}

	var ready []*models.Task
	for _, t := range todo {
		blocked := false
		for _, dep := range t.Dependencies {
			if !doneIDs[dep] {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, t)
		}
	}
	return ready, nil
}

// IsTaskBlocked returns true if any declared dependency is not done.
func (s *Store) IsTaskBlocked(task *models.Task) (bool, error) {
	if len(task.Dependencies) == 0 {
		return false, nil
	}
	done, err := s.ListTasks(task.SpecID, models.TaskStatusDone)
	if err != nil {
		return false, err
	}
	doneIDs := make(map[string]bool, len(done))
	for _, t := range done {
		doneIDs[t.ID] = true
	}
	for _, dep := range task.Dependencies {
		if !doneIDs[dep] {
			return true, nil
		}
	}
	return false, nil
}

// UpdateTaskStatus writes a new status, bumps updated_at, and returns the
// updated task. Fails with NotFound if the task does not exist.
func (s *Store) UpdateTaskStatus(id string, status models.TaskStatus) (*models.Task, error) {
	if !status.Valid() {
		return nil, errs.New(errs.KindInvalidStatus, "invalid task status %q", status)
	}
	now := time.Now()
	err := s.transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?",
			string(status), formatTime(now), id,
		)
		if err != nil {
			return fmt.Errorf("update task status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errs.New(errs.KindNotFound, "task %s not found", id)
		}
		task, err := scanTask(tx.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id = ?", id))
		if err != nil {
			return err
		}
		if task.CompletionSpec, err = loadCompletionSpecFrom(tx, id); err != nil {
			return err
		}
		return s.record(changelog.EntityTask, id, changelog.ChangeUpdate, task)
	})
	if err != nil {
		return nil, err
	}
	return s.GetTask(id)
}

// UpdateTaskIteration records the total pipeline iterations spent on a
// task so far, bumping updated_at.
func (s *Store) UpdateTaskIteration(id string, iteration int) error {
	now := time.Now()
	return s.transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"UPDATE tasks SET iteration = ?, updated_at = ? WHERE id = ?",
			iteration, formatTime(now), id,
		)
		if err != nil {
			return fmt.Errorf("update task iteration: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errs.New(errs.KindNotFound, "task %s not found", id)
		}
		task, err := scanTask(tx.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id = ?", id))
		if err != nil {
			return err
		}
		if task.CompletionSpec, err = loadCompletionSpecFrom(tx, id); err != nil {
			return err
		}
		return s.record(changelog.EntityTask, id, changelog.ChangeUpdate, task)
	})
}

// UpdateTask persists changes to an existing task, bumping updated_at.
// The completion spec is rewritten when the task carries one.
func (s *Store) UpdateTask(task *models.Task) error {
	if !task.Status.Valid() {
		return errs.New(errs.KindInvalidStatus, "invalid task status %q", task.Status)
	}
	task.UpdatedAt = time.Now()
	return s.transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?,
				dependencies = ?, assignee = ?, worktree = ?, iteration = ?,
				updated_at = ?, metadata = ?
			WHERE id = ?`,
			task.Title, task.Description, string(task.Status), task.Priority,
			encodeJSON(task.Dependencies, "[]"),
			nullable(task.Assignee), nullable(task.Worktree), task.Iteration,
			formatTime(task.UpdatedAt), encodeJSON(task.Metadata, "{}"),
			task.ID,
		)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errs.New(errs.KindNotFound, "task %s not found", task.ID)
		}
		if !task.CompletionSpec.Empty() {
			if err := writeCompletionSpec(tx, task.ID, task.CompletionSpec); err != nil {
				return err
			}
		}
		return s.record(changelog.EntityTask, task.ID, changelog.ChangeUpdate, task)
	})
}

// DeleteTask removes a task.
func (s *Store) DeleteTask(id string) error {
	return s.transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec("DELETE FROM tasks WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errs.New(errs.KindNotFound, "task %s not found", id)
		}
		return s.record(changelog.EntityTask, id, changelog.ChangeDelete, nil)
	})
}

// GetTasksByStatus returns all tasks for a spec grouped by status.
func (s *Store) GetTasksByStatus(specID string) (map[models.TaskStatus][]*models.Task, error) {
	tasks, err := s.ListTasks(specID, "")
	if err != nil {
		return nil, err
	}
	grouped := map[models.TaskStatus][]*models.Task{
		models.TaskStatusTodo:         nil,
		models.TaskStatusImplementing: nil,
		models.TaskStatusTesting:      nil,
		models.TaskStatusReviewing:    nil,
		models.TaskStatusDone:         nil,
	}
	for _, t := range tasks {
		grouped[t.Status] = append(grouped[t.Status], t)
	}
	return grouped, nil
}

// GetTasksUpdatedSince returns tasks for a spec modified strictly after
// the given instant, most recent first. Observers poll with a held cursor.
func (s *Store) GetTasksUpdatedSince(specID string, since time.Time) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(
		"SELECT "+taskColumns+" FROM tasks WHERE spec_id = ? AND updated_at > ? ORDER BY updated_at DESC",
		specID, formatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("tasks updated since: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task         models.Task
		status       string
		dependencies string
		assignee     sql.NullString
		worktree     sql.NullString
		createdAt    string
		updatedAt    string
		metadata     string
	)
	if err := row.Scan(
		&task.ID, &task.SpecID, &task.Title, &task.Description,
		&status, &task.Priority, &dependencies, &assignee, &worktree,
		&task.Iteration, &createdAt, &updatedAt, &metadata,
	); err != nil {
		return nil, err
	}
	task.Status = models.TaskStatus(status)
	task.Assignee = assignee.String
	task.Worktree = worktree.String

	if err := json.Unmarshal([]byte(dependencies), &task.Dependencies); err != nil {
		return nil, errs.Wrap(errs.KindStoreCorruption, err, "task %s dependencies", task.ID)
	}
	var err error
	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, errs.Wrap(errs.KindStoreCorruption, err, "task %s created_at", task.ID)
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, errs.Wrap(errs.KindStoreCorruption, err, "task %s updated_at", task.ID)
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &task.Metadata); err != nil {
			return nil, errs.Wrap(errs.KindStoreCorruption, err, "task %s metadata", task.ID)
		}
	}
	return &task, nil
}
