// Package errs defines the classified error kinds surfaced by SpecFlow
// components. Callers match on kind with Is or KindOf instead of parsing
// error strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for uniform handling at the CLI boundary.
type Kind string

const (
	// KindNotAProject indicates the .specflow directory is missing.
	KindNotAProject Kind = "not_a_project"
	// KindNotFound indicates a referenced id does not exist.
	KindNotFound Kind = "not_found"
	// KindDuplicateID indicates a create with an existing id.
	KindDuplicateID Kind = "duplicate_id"
	// KindInvalidStatus indicates an out-of-range status value.
	KindInvalidStatus Kind = "invalid_status"
	// KindInvalidArgument indicates otherwise bad input.
	KindInvalidArgument Kind = "invalid_argument"
	// KindDependencyNotMet indicates execution of a blocked task.
	KindDependencyNotMet Kind = "dependency_not_met"
	// KindSlotsExhausted indicates the agent registry is full.
	KindSlotsExhausted Kind = "slots_exhausted"
	// KindWorkspaceExists indicates the worktree or branch already exists.
	KindWorkspaceExists Kind = "workspace_exists"
	// KindWorkspaceDirty indicates uncommitted changes block the operation.
	KindWorkspaceDirty Kind = "workspace_dirty"
	// KindVcs indicates an unclassified git failure.
	KindVcs Kind = "vcs_error"
	// KindMergeFailed indicates all merge tiers declined.
	KindMergeFailed Kind = "merge_failed"
	// KindAgentTimeout indicates the agent subprocess hit its deadline.
	KindAgentTimeout Kind = "agent_timeout"
	// KindAgentNotInstalled indicates the agent executable is missing.
	KindAgentNotInstalled Kind = "agent_not_installed"
	// KindAgentBadOutput indicates unusable agent output.
	KindAgentBadOutput Kind = "agent_bad_output"
	// KindStoreCorruption indicates an unknown schema version or a
	// violated store invariant.
	KindStoreCorruption Kind = "store_corruption"
)

// Error is a classified error with an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return e.Msg + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.Msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. Returns nil if err is nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or "" if err carries no classification.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is classified with the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
