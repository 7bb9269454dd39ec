// Package mergeflow brings task branches into the base branch with a
// tiered strategy: plain merge, per-file AI conflict resolution, then
// whole-file AI reconciliation. Each tier runs only if the previous one
// failed, and at most one merge executes at a time.
package mergeflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/specflow/specflow/internal/agentexec"
	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/git"
	"github.com/specflow/specflow/internal/project"
	"github.com/specflow/specflow/internal/worktree"
)

// DefaultAITimeout bounds each conflict-resolution agent call.
const DefaultAITimeout = 5 * time.Minute

// Orchestrator merges task branches using the tiered strategy.
type Orchestrator struct {
	repoRoot string
	git      git.Runner
	runner   agentexec.Runner
	timeout  time.Duration
	logger   *project.DebugLogger

	// mu serializes merges; the target working tree is shared state.
	mu sync.Mutex
}

// New creates an orchestrator for the repository at repoRoot. runner
// resolves conflicts via the agent tool; nil logger disables debug lines.
func New(repoRoot string, runner agentexec.Runner, timeout time.Duration, logger *project.DebugLogger) *Orchestrator {
	if timeout <= 0 {
		timeout = DefaultAITimeout
	}
	return &Orchestrator{
		repoRoot: repoRoot,
		git:      git.NewRunner(repoRoot),
		runner:   runner,
		timeout:  timeout,
		logger:   logger,
	}
}

// NewWithRunner creates an orchestrator with an explicit git runner, for
// testing.
func NewWithRunner(repoRoot string, gitRunner git.Runner, runner agentexec.Runner, timeout time.Duration) *Orchestrator {
	o := New(repoRoot, runner, timeout, nil)
	o.git = gitRunner
	return o
}

// MergeTask merges task/<task_id> into target, trying each tier in
// order. On success the working tree is left on target with the merge
// committed; on failure every attempted merge is aborted.
func (o *Orchestrator) MergeTask(ctx context.Context, taskID, target string) (bool, string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if target == "" {
		target = worktree.DefaultBaseBranch
	}
	source := worktree.BranchForTask(taskID)

	if _, err := o.git.RevParse(source); err != nil {
		return false, "", errs.New(errs.KindNotFound, "source branch not found: %s", source)
	}

	ok, msg := o.plainMerge(source, target)
	if ok {
		return true, "Merged using auto-merge: " + msg, nil
	}
	o.log("plain merge of %s failed: %s", source, msg)

	ok, msg = o.conflictAIMerge(ctx, source, target)
	if ok {
		return true, "Merged using AI conflict resolution: " + msg, nil
	}
	o.log("AI conflict resolution for %s failed: %s", source, msg)

	ok, msg = o.fullFileAIMerge(source, target)
	if ok {
		return true, "Merged using AI file regeneration: " + msg, nil
	}

	return false, "", errs.New(errs.KindMergeFailed,
		"all merge strategies failed for %s: %s", source, msg)
}

// plainMerge is tier 1: a no-fast-forward merge, aborted on conflict.
func (o *Orchestrator) plainMerge(source, target string) (bool, string) {
	if err := o.git.CheckoutBranch(target); err != nil {
		return false, fmt.Sprintf("failed to checkout %s: %v", target, err)
	}
	message := fmt.Sprintf("Merge %s into %s", source, target)
	if err := o.git.MergeNoFF(source, message); err != nil {
		o.abortIfInProgress()
		return false, fmt.Sprintf("merge conflicts detected: %v", err)
	}
	return true, fmt.Sprintf("merged %s into %s", source, target)
}

// conflictAIMerge is tier 2: redo the merge, then have the agent resolve
// each conflicted file in place.
func (o *Orchestrator) conflictAIMerge(ctx context.Context, source, target string) (bool, string) {
	if err := o.git.CheckoutBranch(target); err != nil {
		return false, fmt.Sprintf("failed to checkout %s: %v", target, err)
	}
	mergeErr := o.git.MergeNoFF(source, fmt.Sprintf("Merge %s into %s", source, target))
	if mergeErr == nil {
		return true, "no conflicts"
	}

	conflicted, err := o.git.ConflictedFiles()
	if err != nil {
		o.abortIfInProgress()
		return false, fmt.Sprintf("failed to list conflicts: %v", err)
	}
	if len(conflicted) == 0 {
		o.abortIfInProgress()
		return false, fmt.Sprintf("merge failed without resolvable conflicts: %v", mergeErr)
	}

	var failures []string
	for _, file := range conflicted {
		if err := o.resolveFile(ctx, file, source, target); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", file, err))
			continue
		}
		if err := o.git.Add(file); err != nil {
			failures = append(failures, fmt.Sprintf("%s: stage failed: %v", file, err))
		}
	}
	if len(failures) > 0 {
		o.abortIfInProgress()
		if len(failures) > 3 {
			failures = failures[:3]
		}
		return false, fmt.Sprintf("AI resolution failed for %d file(s): %s",
			len(failures), strings.Join(failures, "; "))
	}

	message := fmt.Sprintf("Merge %s into %s (AI-resolved conflicts)", source, target)
	if _, err := o.git.Commit(message); err != nil {
		o.abortIfInProgress()
		return false, fmt.Sprintf("failed to commit resolution: %v", err)
	}
	return true, fmt.Sprintf("AI resolved conflicts in %d file(s)", len(conflicted))
}

// fullFileAIMerge is tier 3, reserved. It declines with a structured
// message so callers can distinguish "not implemented" from a real error.
func (o *Orchestrator) fullFileAIMerge(source, target string) (bool, string) {
	return false, "AI file regeneration not yet implemented"
}

// resolveFile asks the agent to resolve one conflicted file and writes
// the result back, rejecting output that still carries markers.
func (o *Orchestrator) resolveFile(ctx context.Context, file, source, target string) error {
	path := filepath.Join(o.repoRoot, file)
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read conflicted file: %w", err)
	}
	if !strings.Contains(string(content), "<<<<<<<") {
		return nil
	}

	prompt := resolutionPrompt(file, source, target, string(content))
	result, err := o.runner.Run(ctx, agentexec.Request{
		Prompt:  prompt,
		Dir:     o.repoRoot,
		Timeout: o.timeout,
	})
	if err != nil {
		return fmt.Errorf("agent resolution: %w", err)
	}
	if !result.OK {
		return fmt.Errorf("agent returned failure: %s", firstLine(result.Output))
	}

	resolved := stripCodeFence(strings.TrimSpace(result.Output))
	if hasConflictMarkers(resolved) {
		return errs.New(errs.KindAgentBadOutput,
			"resolution for %s still contains conflict markers", file)
	}
	if resolved == "" {
		return errs.New(errs.KindAgentBadOutput, "empty resolution for %s", file)
	}
	if !strings.HasSuffix(resolved, "\n") {
		resolved += "\n"
	}
	if err := os.WriteFile(path, []byte(resolved), 0644); err != nil {
		return fmt.Errorf("write resolved file: %w", err)
	}
	return nil
}

func resolutionPrompt(file, source, target, content string) string {
	return fmt.Sprintf(`You are resolving a git merge conflict. The file below contains conflict markers.

FILE: %s
SOURCE BRANCH: %s (the incoming changes)
TARGET BRANCH: %s (HEAD, the current branch)

CONFLICT MARKERS EXPLAINED:
- `+"`<<<<<<< HEAD`"+` marks the start of the TARGET branch version
- `+"`=======`"+` separates the two versions
- `+"`>>>>>>> %s`"+` marks the end of the SOURCE branch version

YOUR TASK:
1. Analyze each conflict section
2. Decide how to merge the changes (keep one side, combine both, or create a new version)
3. Output ONLY the fully resolved file content with NO conflict markers
4. Do NOT include any explanation - output ONLY the resolved file content

CONFLICTED FILE CONTENT:
`+"```"+`
%s
`+"```"+`

OUTPUT the resolved file content below (no markdown code blocks, no explanations):`,
		filepath.Base(file), source, target, source, content)
}

// hasConflictMarkers reports whether any marker token survives.
func hasConflictMarkers(content string) bool {
	return strings.Contains(content, "<<<<<<< ") ||
		strings.Contains(content, "\n=======") ||
		strings.HasPrefix(content, "=======") ||
		strings.Contains(content, ">>>>>>> ")
}

// stripCodeFence unwraps output the agent wrapped in a markdown block.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= 2 {
		return s
	}
	return strings.Join(lines[1:len(lines)-1], "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// abortIfInProgress cleans up a half-done merge.
func (o *Orchestrator) abortIfInProgress() {
	inProgress, err := o.git.MergeInProgress()
	if err != nil || !inProgress {
		return
	}
	if err := o.git.MergeAbort(); err != nil {
		o.log("merge abort failed: %v", err)
	}
}

// CleanupBranch deletes task/<task_id> after a successful merge.
func (o *Orchestrator) CleanupBranch(taskID string) (bool, error) {
	branch := worktree.BranchForTask(taskID)
	exists, err := o.git.BranchExists(branch)
	if err != nil {
		return false, errs.Wrap(errs.KindVcs, err, "cleanup branch %s", branch)
	}
	if !exists {
		return false, nil
	}
	if err := o.git.DeleteBranch(branch); err != nil {
		return false, errs.Wrap(errs.KindVcs, err, "delete branch %s", branch)
	}
	return true, nil
}

// Status describes the orchestrator's view of the repository.
type Status struct {
	InProgress    bool   `json:"in_progress"`
	CurrentBranch string `json:"current_branch"`
}

// GetStatus reports whether a merge is in progress and the current branch.
func (o *Orchestrator) GetStatus() (*Status, error) {
	inProgress, err := o.git.MergeInProgress()
	if err != nil {
		return nil, errs.Wrap(errs.KindVcs, err, "merge status")
	}
	branch, err := o.git.CurrentBranch()
	if err != nil {
		return nil, errs.Wrap(errs.KindVcs, err, "merge status")
	}
	return &Status{InProgress: inProgress, CurrentBranch: branch}, nil
}

func (o *Orchestrator) log(format string, args ...interface{}) {
	o.logger.Log(format, args...)
}
