package models

import "time"

// TaskStatus represents the workflow state of a task.
type TaskStatus string

const (
	// TaskStatusTodo indicates the task has not started or was reset.
	TaskStatusTodo TaskStatus = "todo"
	// TaskStatusImplementing indicates the coder agent is working.
	TaskStatusImplementing TaskStatus = "implementing"
	// TaskStatusTesting indicates the tester agent is working.
	TaskStatusTesting TaskStatus = "testing"
	// TaskStatusReviewing indicates the reviewer or QA agent is working.
	TaskStatusReviewing TaskStatus = "reviewing"
	// TaskStatusDone indicates the task passed all stages.
	TaskStatusDone TaskStatus = "done"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusImplementing, TaskStatusTesting,
		TaskStatusReviewing, TaskStatusDone:
		return true
	default:
		return false
	}
}

// Task priorities. 1 is highest.
const (
	PriorityHigh   = 1
	PriorityMedium = 2
	PriorityLow    = 3
)

// Task represents the atomic unit of scheduled work.
type Task struct {
	// ID is the unique task identifier (e.g. TASK-001).
	ID string `json:"id"`
	// SpecID references the owning spec. Deleting the spec cascades.
	SpecID string `json:"spec_id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description"`
	// Status is the workflow state.
	Status TaskStatus `json:"status"`
	// Priority is 1 (high) to 3 (low).
	Priority int `json:"priority"`
	// Dependencies lists task IDs within the same spec that must be done
	// before this task is ready.
	Dependencies []string `json:"dependencies"`
	// Assignee is the agent role assigned to the task.
	Assignee string `json:"assignee,omitempty"`
	// Worktree is the path to the task's workspace, if one exists.
	Worktree string `json:"worktree,omitempty"`
	// Iteration counts total pipeline iterations spent on this task.
	Iteration int `json:"iteration"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is bumped on every mutation.
	UpdatedAt time.Time `json:"updated_at"`
	// Metadata holds free-form key/value data (failure_stage, parent, ...).
	Metadata map[string]any `json:"metadata,omitempty"`
	// CompletionSpec defines what "done" means for this task, if declared.
	CompletionSpec *CompletionSpec `json:"completion_spec,omitempty"`
}

// DependsOn returns true if the task declares a dependency on the given id.
func (t *Task) DependsOn(id string) bool {
	for _, d := range t.Dependencies {
		if d == id {
			return true
		}
	}
	return false
}
