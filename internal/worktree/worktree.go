// Package worktree manages isolated per-task working copies of the main
// repository. Each task gets its own git worktree at .worktrees/<task_id>
// on a dedicated task/<task_id> branch.
package worktree

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/git"
)

// DefaultBaseBranch is the branch new task branches derive from.
const DefaultBaseBranch = "main"

// BranchForTask returns the branch name for a task's workspace.
func BranchForTask(taskID string) string {
	return "task/" + taskID
}

// Workspace describes one checked-out working copy.
type Workspace struct {
	Path   string `json:"path"`
	Branch string `json:"branch"`
	Commit string `json:"commit"`
}

// Manager creates and destroys task workspaces in a repository.
type Manager struct {
	repoRoot string
	git      git.Runner
}

// NewManager creates a workspace manager rooted at the repository.
func NewManager(repoRoot string) *Manager {
	return &Manager{repoRoot: repoRoot, git: git.NewRunner(repoRoot)}
}

// NewManagerWithRunner creates a manager with an explicit git runner, for
// testing.
func NewManagerWithRunner(repoRoot string, runner git.Runner) *Manager {
	return &Manager{repoRoot: repoRoot, git: runner}
}

// workspacePath returns the on-disk path for a task's workspace.
func (m *Manager) workspacePath(taskID string) string {
	return filepath.Join(m.repoRoot, ".worktrees", taskID)
}

// CreateWorkspace checks out a fresh branch task/<task_id> derived from
// baseBranch into .worktrees/<task_id>. Creating a workspace that already
// exists is a no-op returning the existing path.
func (m *Manager) CreateWorkspace(taskID, baseBranch string) (string, error) {
	if taskID == "" {
		return "", errs.New(errs.KindInvalidArgument, "task id is required")
	}
	if baseBranch == "" {
		baseBranch = DefaultBaseBranch
	}
	path := m.workspacePath(taskID)
	branch := BranchForTask(taskID)

	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	exists, err := m.git.BranchExists(branch)
	if err != nil {
		return "", errs.Wrap(errs.KindVcs, err, "create workspace for %s", taskID)
	}
	if exists {
		// Branch survived a removed workspace; re-attach it.
		if err := m.git.WorktreeAdd(path, branch); err != nil {
			return "", errs.Wrap(errs.KindVcs, err, "re-attach workspace for %s", taskID)
		}
		return path, nil
	}

	if err := m.git.WorktreeAddNewBranch(path, branch, baseBranch); err != nil {
		return "", errs.Wrap(errs.KindVcs, err, "create workspace for %s", taskID)
	}
	return path, nil
}

// ListWorkspaces returns every task workspace currently checked out.
func (m *Manager) ListWorkspaces() ([]Workspace, error) {
	out, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return nil, errs.Wrap(errs.KindVcs, err, "list workspaces")
	}
	return parsePorcelain(out, filepath.Join(m.repoRoot, ".worktrees")), nil
}

// parsePorcelain extracts workspaces under the given prefix from
// `git worktree list --porcelain` output. The main working tree and any
// unrelated worktrees are skipped.
func parsePorcelain(out, prefix string) []Workspace {
	var (
		workspaces []Workspace
		current    Workspace
	)
	flush := func() {
		if current.Path != "" && strings.HasPrefix(current.Path, prefix) {
			workspaces = append(workspaces, current)
		}
		current = Workspace{}
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	flush()
	return workspaces
}

// CommitChanges stages everything in the task's workspace and commits.
// Fails if the workspace has no changes.
func (m *Manager) CommitChanges(taskID, message string) (string, error) {
	path := m.workspacePath(taskID)
	if _, err := os.Stat(path); err != nil {
		return "", errs.New(errs.KindNotFound, "workspace for %s not found", taskID)
	}
	wt := git.NewRunner(path)
	changed, err := wt.HasChanges()
	if err != nil {
		return "", errs.Wrap(errs.KindVcs, err, "commit in workspace %s", taskID)
	}
	if !changed {
		return "", errs.New(errs.KindInvalidArgument, "workspace %s has no changes to commit", taskID)
	}
	if err := wt.AddAll(); err != nil {
		return "", errs.Wrap(errs.KindVcs, err, "stage workspace %s", taskID)
	}
	hash, err := wt.Commit(message)
	if err != nil {
		return "", errs.Wrap(errs.KindVcs, err, "commit workspace %s", taskID)
	}
	return hash, nil
}

// RemoveWorkspace removes a task's working copy. When force is false the
// removal fails if uncommitted changes remain.
func (m *Manager) RemoveWorkspace(taskID string, force bool) error {
	path := m.workspacePath(taskID)
	if _, err := os.Stat(path); err != nil {
		return errs.New(errs.KindNotFound, "workspace for %s not found", taskID)
	}
	if !force {
		wt := git.NewRunner(path)
		changed, err := wt.HasChanges()
		if err != nil {
			return errs.Wrap(errs.KindVcs, err, "check workspace %s", taskID)
		}
		if changed {
			return errs.New(errs.KindWorkspaceDirty,
				"workspace %s has uncommitted changes (use force to discard)", taskID)
		}
	}
	if err := m.git.WorktreeRemove(path, force); err != nil {
		return errs.Wrap(errs.KindVcs, err, "remove workspace %s", taskID)
	}
	return nil
}

// CleanupBranch deletes a task's branch after its workspace is gone.
func (m *Manager) CleanupBranch(taskID string) error {
	branch := BranchForTask(taskID)
	exists, err := m.git.BranchExists(branch)
	if err != nil {
		return errs.Wrap(errs.KindVcs, err, "cleanup branch for %s", taskID)
	}
	if !exists {
		return nil
	}
	if err := m.git.DeleteBranch(branch); err != nil {
		return errs.Wrap(errs.KindVcs, err, "delete branch %s", branch)
	}
	return nil
}

// Prune drops stale worktree registrations whose directories are gone.
func (m *Manager) Prune() error {
	if err := m.git.WorktreePrune(); err != nil {
		return errs.Wrap(errs.KindVcs, err, "prune workspaces")
	}
	return nil
}

// RepoRoot returns the repository root this manager operates on.
func (m *Manager) RepoRoot() string {
	return m.repoRoot
}
