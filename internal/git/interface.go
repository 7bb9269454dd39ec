// Package git provides an interface for git operations.
package git

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// CheckoutBranch switches to the specified branch.
	CheckoutBranch(name string) error
	// BranchExists returns true if the branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch force-deletes the specified branch.
	DeleteBranch(name string) error
	// RevParse resolves a ref to a commit hash.
	RevParse(ref string) (string, error)
}

// StatusOperations defines the interface for status and diff queries.
type StatusOperations interface {
	// Status returns the output of git status --porcelain.
	Status() (string, error)
	// HasChanges returns true if there are uncommitted changes.
	HasChanges() (bool, error)
	// ConflictedFiles returns files with unmerged changes.
	ConflictedFiles() ([]string, error)
	// ChangedFilesBetween returns files changed between two refs.
	ChangedFilesBetween(ref1, ref2 string) ([]string, error)
	// ShowFile returns the contents of a file at a specific ref.
	ShowFile(ref, path string) (string, error)
}

// CommitOperations defines the interface for staging and committing.
type CommitOperations interface {
	// AddAll stages all changes in the working tree.
	AddAll() error
	// Add stages the specified paths.
	Add(paths ...string) error
	// Commit creates a commit with the given message and returns its hash.
	Commit(message string) (string, error)
}

// MergeOperations defines the interface for merge operations.
type MergeOperations interface {
	// MergeNoFF merges the branch with --no-ff and the given message.
	MergeNoFF(branch, message string) error
	// MergeAbort aborts an in-progress merge.
	MergeAbort() error
	// MergeInProgress returns true if a merge is currently in progress.
	MergeInProgress() (bool, error)
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAddNewBranch creates a worktree on a fresh branch derived
	// from the given base (git worktree add -b <branch> <path> <base>).
	WorktreeAddNewBranch(path, branch, base string) error
	// WorktreeAdd creates a worktree for an existing branch.
	WorktreeAdd(path, branch string) error
	// WorktreeRemove removes the worktree, optionally with force.
	WorktreeRemove(path string, force bool) error
	// WorktreeListPorcelain returns the raw porcelain listing.
	WorktreeListPorcelain() (string, error)
	// WorktreePrune removes stale worktree entries.
	WorktreePrune() error
}

// Runner defines the complete interface for git operations used by
// SpecFlow. Consumers should prefer the focused interfaces when possible.
type Runner interface {
	BranchOperations
	StatusOperations
	CommitOperations
	MergeOperations
	WorktreeOperations
	// Run executes an arbitrary git command and returns its output.
	Run(args ...string) (string, error)
}
