package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/specflow/specflow/internal/errs"
)

// initTestRepo creates a git repository with one commit on main.
func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	commands := [][]string{
		{"init", "-b", "main"},
		{"config", "user.name", "Test"},
		{"config", "user.email", "test@test.com"},
	}
	for _, args := range commands {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v: %s", args, err, out)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test\n"), 0644); err != nil {
		t.Fatalf("write README: %v", err)
	}
	for _, args := range [][]string{{"add", "."}, {"commit", "-m", "initial"}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v: %s", args, err, out)
		}
	}
	return dir
}

func TestCreateWorkspace(t *testing.T) {
	repo := initTestRepo(t)
	m := NewManager(repo)

	path, err := m.CreateWorkspace("TASK-001", "")
	if err != nil {
		t.Fatalf("CreateWorkspace failed: %v", err)
	}
	want := filepath.Join(repo, ".worktrees", "TASK-001")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if _, err := os.Stat(filepath.Join(path, "README.md")); err != nil {
		t.Errorf("workspace missing repo contents: %v", err)
	}
}

func TestCreateWorkspace_Idempotent(t *testing.T) {
	repo := initTestRepo(t)
	m := NewManager(repo)

	first, err := m.CreateWorkspace("TASK-001", "main")
	if err != nil {
		t.Fatalf("CreateWorkspace failed: %v", err)
	}
	second, err := m.CreateWorkspace("TASK-001", "main")
	if err != nil {
		t.Fatalf("second CreateWorkspace failed: %v", err)
	}
	if first != second {
		t.Errorf("idempotent create returned %q then %q", first, second)
	}
}

func TestCreateWorkspace_ReattachesSurvivingBranch(t *testing.T) {
	repo := initTestRepo(t)
	m := NewManager(repo)

	path, err := m.CreateWorkspace("TASK-001", "main")
	if err != nil {
		t.Fatalf("CreateWorkspace failed: %v", err)
	}
	if err := m.RemoveWorkspace("TASK-001", false); err != nil {
		t.Fatalf("RemoveWorkspace failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("workspace still present after remove")
	}

	// The branch still exists; re-create must attach it, not fail.
	again, err := m.CreateWorkspace("TASK-001", "main")
	if err != nil {
		t.Fatalf("re-create failed: %v", err)
	}
	if again != path {
		t.Errorf("re-create path = %q, want %q", again, path)
	}
}

func TestListWorkspaces(t *testing.T) {
	repo := initTestRepo(t)
	m := NewManager(repo)

	for _, id := range []string{"TASK-001", "TASK-002"} {
		if _, err := m.CreateWorkspace(id, "main"); err != nil {
			t.Fatalf("CreateWorkspace(%s) failed: %v", id, err)
		}
	}

	workspaces, err := m.ListWorkspaces()
	if err != nil {
		t.Fatalf("ListWorkspaces failed: %v", err)
	}
	if len(workspaces) != 2 {
		t.Fatalf("got %d workspaces, want 2", len(workspaces))
	}
	byBranch := map[string]Workspace{}
	for _, ws := range workspaces {
		byBranch[ws.Branch] = ws
	}
	ws, ok := byBranch["task/TASK-001"]
	if !ok {
		t.Fatalf("task/TASK-001 not listed: %v", workspaces)
	}
	if ws.Commit == "" {
		t.Error("workspace commit not populated")
	}
}

func TestCommitChanges(t *testing.T) {
	repo := initTestRepo(t)
	m := NewManager(repo)
	path, err := m.CreateWorkspace("TASK-001", "main")
	if err != nil {
		t.Fatalf("CreateWorkspace failed: %v", err)
	}

	// Nothing to commit yet.
	if _, err := m.CommitChanges("TASK-001", "empty"); !errs.Is(err, errs.KindInvalidArgument) {
		t.Errorf("commit with no changes: got %v, want invalid argument", err)
	}

	if err := os.WriteFile(filepath.Join(path, "feature.go"), []byte("package feature\n"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	hash, err := m.CommitChanges("TASK-001", "add feature")
	if err != nil {
		t.Fatalf("CommitChanges failed: %v", err)
	}
	if len(hash) != 40 {
		t.Errorf("commit hash = %q", hash)
	}
}

func TestRemoveWorkspace_DirtyNeedsForce(t *testing.T) {
	repo := initTestRepo(t)
	m := NewManager(repo)
	path, err := m.CreateWorkspace("TASK-001", "main")
	if err != nil {
		t.Fatalf("CreateWorkspace failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(path, "dirty.txt"), []byte("wip"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	err = m.RemoveWorkspace("TASK-001", false)
	if !errs.Is(err, errs.KindWorkspaceDirty) {
		t.Errorf("remove dirty workspace: got %v, want dirty", err)
	}
	if err := m.RemoveWorkspace("TASK-001", true); err != nil {
		t.Errorf("forced remove failed: %v", err)
	}
}

func TestRemoveWorkspace_NotFound(t *testing.T) {
	repo := initTestRepo(t)
	m := NewManager(repo)
	if err := m.RemoveWorkspace("missing", false); !errs.Is(err, errs.KindNotFound) {
		t.Errorf("remove missing workspace: got %v, want not found", err)
	}
}

func TestCleanupBranch(t *testing.T) {
	repo := initTestRepo(t)
	m := NewManager(repo)
	if _, err := m.CreateWorkspace("TASK-001", "main"); err != nil {
		t.Fatalf("CreateWorkspace failed: %v", err)
	}
	if err := m.RemoveWorkspace("TASK-001", false); err != nil {
		t.Fatalf("RemoveWorkspace failed: %v", err)
	}
	if err := m.CleanupBranch("TASK-001"); err != nil {
		t.Fatalf("CleanupBranch failed: %v", err)
	}
	// Second cleanup is a no-op.
	if err := m.CleanupBranch("TASK-001"); err != nil {
		t.Errorf("repeat CleanupBranch failed: %v", err)
	}
}
