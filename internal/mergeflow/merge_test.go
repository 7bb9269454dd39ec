package mergeflow

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/specflow/specflow/internal/agentexec"
	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/worktree"
)

// gitCmd runs a git command in dir, failing the test on error.
func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v: %s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// initRepo creates a repository with one commit on main.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	gitCmd(t, dir, "init", "-b", "main")
	gitCmd(t, dir, "config", "user.name", "Test")
	gitCmd(t, dir, "config", "user.email", "test@test.com")
	writeFile(t, dir, "shared.txt", "line one\nline two\nline three\n")
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-m", "initial")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

// makeTaskBranch creates task/<id> with the given file contents committed.
func makeTaskBranch(t *testing.T, dir, taskID, file, content string) {
	t.Helper()
	gitCmd(t, dir, "checkout", "-b", worktree.BranchForTask(taskID), "main")
	writeFile(t, dir, file, content)
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-m", "task work")
	gitCmd(t, dir, "checkout", "main")
}

// resolverRunner answers conflict-resolution prompts with fixed content.
type resolverRunner struct {
	output string
	calls  int
}

func (r *resolverRunner) Run(ctx context.Context, req agentexec.Request) (*agentexec.Result, error) {
	r.calls++
	return &agentexec.Result{Output: r.output, OK: true}, nil
}

func TestMergeTask_Tier1Clean(t *testing.T) {
	repo := initRepo(t)
	makeTaskBranch(t, repo, "TASK-001", "feature.txt", "new feature\n")

	o := New(repo, &resolverRunner{}, time.Minute, nil)
	ok, msg, err := o.MergeTask(context.Background(), "TASK-001", "main")
	if err != nil {
		t.Fatalf("MergeTask failed: %v", err)
	}
	if !ok || !strings.Contains(msg, "auto-merge") {
		t.Errorf("ok=%v msg=%q", ok, msg)
	}
	if _, err := os.Stat(filepath.Join(repo, "feature.txt")); err != nil {
		t.Errorf("merged file missing on main: %v", err)
	}
	if branch := gitCmd(t, repo, "rev-parse", "--abbrev-ref", "HEAD"); branch != "main" {
		t.Errorf("left on branch %q, want main", branch)
	}
}

func TestMergeTask_SourceMissing(t *testing.T) {
	repo := initRepo(t)
	o := New(repo, &resolverRunner{}, time.Minute, nil)
	_, _, err := o.MergeTask(context.Background(), "ghost", "main")
	if !errs.Is(err, errs.KindNotFound) {
		t.Errorf("got %v, want not found", err)
	}
}

// divergeMain commits a conflicting change to shared.txt on main.
func divergeMain(t *testing.T, repo string) {
	t.Helper()
	writeFile(t, repo, "shared.txt", "line one\nmain version\nline three\n")
	gitCmd(t, repo, "add", ".")
	gitCmd(t, repo, "commit", "-m", "main change")
}

func TestMergeTask_Tier2AIResolution(t *testing.T) {
	repo := initRepo(t)
	makeTaskBranch(t, repo, "TASK-001", "shared.txt", "line one\ntask version\nline three\n")
	divergeMain(t, repo)

	resolver := &resolverRunner{output: "line one\nmerged version\nline three\n"}
	o := New(repo, resolver, time.Minute, nil)

	ok, msg, err := o.MergeTask(context.Background(), "TASK-001", "main")
	if err != nil {
		t.Fatalf("MergeTask failed: %v", err)
	}
	if !ok || !strings.Contains(msg, "AI conflict resolution") {
		t.Errorf("ok=%v msg=%q", ok, msg)
	}
	if resolver.calls != 1 {
		t.Errorf("resolver called %d times, want 1", resolver.calls)
	}

	content, err := os.ReadFile(filepath.Join(repo, "shared.txt"))
	if err != nil {
		t.Fatalf("read merged file: %v", err)
	}
	if !strings.Contains(string(content), "merged version") {
		t.Errorf("merged content = %q", content)
	}
	// Repository must be clean after the merge commit.
	if status := gitCmd(t, repo, "status", "--porcelain"); status != "" {
		t.Errorf("dirty tree after merge: %q", status)
	}
}

func TestMergeTask_RejectsLeftoverMarkers(t *testing.T) {
	repo := initRepo(t)
	makeTaskBranch(t, repo, "TASK-001", "shared.txt", "line one\ntask version\nline three\n")
	divergeMain(t, repo)

	// The agent echoes back unresolved markers; all tiers then fail.
	resolver := &resolverRunner{output: "<<<<<<< HEAD\nmain version\n=======\ntask version\n>>>>>>> task/TASK-001\n"}
	o := New(repo, resolver, time.Minute, nil)

	_, _, err := o.MergeTask(context.Background(), "TASK-001", "main")
	if !errs.Is(err, errs.KindMergeFailed) {
		t.Fatalf("got %v, want merge failed", err)
	}
	// Failure must leave the repository clean.
	if status := gitCmd(t, repo, "status", "--porcelain"); status != "" {
		t.Errorf("dirty tree after failed merge: %q", status)
	}
}

func TestMergeTask_RejectsEmptyResolution(t *testing.T) {
	repo := initRepo(t)
	makeTaskBranch(t, repo, "TASK-001", "shared.txt", "line one\ntask version\nline three\n")
	divergeMain(t, repo)

	resolver := &resolverRunner{output: "   \n"}
	o := New(repo, resolver, time.Minute, nil)

	_, _, err := o.MergeTask(context.Background(), "TASK-001", "main")
	if !errs.Is(err, errs.KindMergeFailed) {
		t.Fatalf("got %v, want merge failed", err)
	}
	if status := gitCmd(t, repo, "status", "--porcelain"); status != "" {
		t.Errorf("dirty tree after failed merge: %q", status)
	}
}

func TestMergeTask_StripsCodeFence(t *testing.T) {
	repo := initRepo(t)
	makeTaskBranch(t, repo, "TASK-001", "shared.txt", "line one\ntask version\nline three\n")
	divergeMain(t, repo)

	resolver := &resolverRunner{output: "```\nline one\nfenced merge\nline three\n```"}
	o := New(repo, resolver, time.Minute, nil)

	ok, _, err := o.MergeTask(context.Background(), "TASK-001", "main")
	if err != nil || !ok {
		t.Fatalf("MergeTask failed: ok=%v err=%v", ok, err)
	}
	content, err := os.ReadFile(filepath.Join(repo, "shared.txt"))
	if err != nil {
		t.Fatalf("read merged file: %v", err)
	}
	if strings.Contains(string(content), "```") {
		t.Errorf("code fence leaked into file: %q", content)
	}
}

func TestCleanupBranch(t *testing.T) {
	repo := initRepo(t)
	makeTaskBranch(t, repo, "TASK-001", "feature.txt", "new feature\n")

	o := New(repo, &resolverRunner{}, time.Minute, nil)
	if _, _, err := o.MergeTask(context.Background(), "TASK-001", "main"); err != nil {
		t.Fatalf("MergeTask failed: %v", err)
	}

	deleted, err := o.CleanupBranch("TASK-001")
	if err != nil {
		t.Fatalf("CleanupBranch failed: %v", err)
	}
	if !deleted {
		t.Error("branch not deleted")
	}
	// Second cleanup reports nothing to delete.
	deleted, err = o.CleanupBranch("TASK-001")
	if err != nil || deleted {
		t.Errorf("repeat cleanup: deleted=%v err=%v", deleted, err)
	}
}

func TestGetStatus(t *testing.T) {
	repo := initRepo(t)
	o := New(repo, &resolverRunner{}, time.Minute, nil)
	status, err := o.GetStatus()
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status.InProgress {
		t.Error("no merge should be in progress")
	}
	if status.CurrentBranch != "main" {
		t.Errorf("current branch = %q", status.CurrentBranch)
	}
}

func TestHasConflictMarkers(t *testing.T) {
	if hasConflictMarkers("clean content\nno markers here\n") {
		t.Error("false positive on clean content")
	}
	if !hasConflictMarkers("a\n<<<<<<< HEAD\nb\n") {
		t.Error("missed start marker")
	}
	if !hasConflictMarkers("a\n=======\nb\n") {
		t.Error("missed separator")
	}
}
