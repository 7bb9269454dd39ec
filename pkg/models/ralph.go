package models

import "time"

// RalphStatus represents the state of a stage's bounded retry loop.
type RalphStatus string

const (
	// RalphRunning indicates the loop is iterating.
	RalphRunning RalphStatus = "running"
	// RalphCompleted indicates the stage criterion was met.
	RalphCompleted RalphStatus = "completed"
	// RalphCancelled indicates an external cancel request was honored.
	RalphCancelled RalphStatus = "cancelled"
	// RalphFailed indicates the iteration budget was exhausted.
	RalphFailed RalphStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s RalphStatus) Valid() bool {
	switch s {
	case RalphRunning, RalphCompleted, RalphCancelled, RalphFailed:
		return true
	default:
		return false
	}
}

// VerificationResult records the outcome of one loop iteration.
type VerificationResult struct {
	// Iteration is the 1-based iteration number.
	Iteration int `json:"iteration"`
	// PromiseFound is true if the expected promise string was emitted.
	PromiseFound bool `json:"promise_found"`
	// Verified is true if the full completion check passed.
	Verified bool `json:"verified"`
	// Reason explains the outcome.
	Reason string `json:"reason,omitempty"`
}

// RalphLoop is the observable record of a running pipeline stage's
// iteration loop. At most one running loop exists per (task, agent type).
type RalphLoop struct {
	// ID is the unique identifier for this loop.
	ID string `json:"id"`
	// TaskID is the task being iterated on.
	TaskID string `json:"task_id"`
	// AgentType is the role of the stage.
	AgentType AgentType `json:"agent_type"`
	// Iteration is the current iteration count, starting at 0.
	Iteration int `json:"iteration"`
	// MaxIterations is the stage's iteration budget.
	MaxIterations int `json:"max_iterations"`
	// Status is the loop state.
	Status RalphStatus `json:"status"`
	// VerificationResults are appended in iteration order.
	VerificationResults []VerificationResult `json:"verification_results,omitempty"`
	// StartedAt is when the loop was registered.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is when the loop reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ElapsedSeconds returns how long the loop has been running.
func (r *RalphLoop) ElapsedSeconds() float64 {
	end := time.Now()
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}
	return end.Sub(r.StartedAt).Seconds()
}

// ProgressPercent returns 100*iteration/max_iterations, clamped to 100.
func (r *RalphLoop) ProgressPercent() float64 {
	if r.MaxIterations <= 0 {
		return 0
	}
	p := 100 * float64(r.Iteration) / float64(r.MaxIterations)
	if p > 100 {
		return 100
	}
	return p
}
