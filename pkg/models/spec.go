// Package models defines the core record types shared across SpecFlow
// components. The store is the sole owner of persisted records; everything
// else works on snapshots of these types.
package models

import "time"

// SpecStatus represents the lifecycle state of a specification.
type SpecStatus string

const (
	// SpecStatusDraft indicates the spec was just ingested.
	SpecStatusDraft SpecStatus = "draft"
	// SpecStatusClarifying indicates open questions are being resolved.
	SpecStatusClarifying SpecStatus = "clarifying"
	// SpecStatusSpecified indicates the spec document is written.
	SpecStatusSpecified SpecStatus = "specified"
	// SpecStatusApproved indicates a human approved the spec.
	SpecStatusApproved SpecStatus = "approved"
	// SpecStatusPlanning indicates planning is underway.
	SpecStatusPlanning SpecStatus = "planning"
	// SpecStatusPlanned indicates the implementation plan exists.
	SpecStatusPlanned SpecStatus = "planned"
	// SpecStatusImplementing indicates tasks are being executed.
	SpecStatusImplementing SpecStatus = "implementing"
	// SpecStatusCompleted indicates all work is done.
	SpecStatusCompleted SpecStatus = "completed"
	// SpecStatusArchived indicates the spec was retired.
	SpecStatusArchived SpecStatus = "archived"
)

// Valid returns true if the status is a known value.
func (s SpecStatus) Valid() bool {
	switch s {
	case SpecStatusDraft, SpecStatusClarifying, SpecStatusSpecified,
		SpecStatusApproved, SpecStatusPlanning, SpecStatusPlanned,
		SpecStatusImplementing, SpecStatusCompleted, SpecStatusArchived:
		return true
	default:
		return false
	}
}

// Spec represents a unit of work above the task level, typically one
// human-authored requirement document.
type Spec struct {
	// ID is the stable kebab-case identifier.
	ID string `json:"id"`
	// Title is the human-readable title.
	Title string `json:"title"`
	// Status is the lifecycle state.
	Status SpecStatus `json:"status"`
	// SourceType is "brd", "prd", or empty.
	SourceType string `json:"source_type,omitempty"`
	// CreatedAt is when the spec was ingested.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is bumped on every mutation.
	UpdatedAt time.Time `json:"updated_at"`
	// Metadata holds free-form key/value data.
	Metadata map[string]any `json:"metadata,omitempty"`
}
