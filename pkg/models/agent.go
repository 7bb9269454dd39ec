package models

import "time"

// MaxAgentSlots is the size of the concurrent agent slot pool.
const MaxAgentSlots = 6

// ActiveAgent represents a currently-running pipeline stage registered in
// the store's agent registry.
type ActiveAgent struct {
	// ID is the unique identifier for this registration.
	ID string `json:"id"`
	// TaskID is the task the agent is working on. At most one active
	// agent exists per task.
	TaskID string `json:"task_id"`
	// AgentType is the role of the running stage.
	AgentType AgentType `json:"agent_type"`
	// Slot is the allocated slot number in 1..MaxAgentSlots.
	Slot int `json:"slot"`
	// PID is the OS process id, if known. Agents registered without a
	// PID are never auto-expired.
	PID int `json:"pid,omitempty"`
	// Worktree is the workspace path the agent runs in, if any.
	Worktree string `json:"worktree,omitempty"`
	// StartedAt is when the agent was registered.
	StartedAt time.Time `json:"started_at"`
}
