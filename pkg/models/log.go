package models

import "time"

// ExecutionLog is an immutable audit row recording one agent invocation.
type ExecutionLog struct {
	// ID is the auto-assigned row id.
	ID int64 `json:"id"`
	// TaskID is the task the invocation belonged to.
	TaskID string `json:"task_id"`
	// AgentType is the role that ran.
	AgentType AgentType `json:"agent_type"`
	// Action is the stage name (e.g. "Implementation").
	Action string `json:"action"`
	// Output is the truncated agent output.
	Output string `json:"output"`
	// Success records whether the iteration passed its criterion.
	Success bool `json:"success"`
	// DurationMs is the wall-clock duration of the invocation.
	DurationMs int64 `json:"duration_ms"`
	// CreatedAt is when the row was written.
	CreatedAt time.Time `json:"created_at"`
}
