// Package scheduler runs ready tasks through the pipeline in parallel,
// respecting the dependency graph and a global parallelism cap. Merges
// back to the base branch are serialized by the merge orchestrator.
package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/mergeflow"
	"github.com/specflow/specflow/internal/pipeline"
	"github.com/specflow/specflow/internal/project"
	"github.com/specflow/specflow/internal/store"
	"github.com/specflow/specflow/internal/worktree"
	"github.com/specflow/specflow/pkg/models"
)

// DefaultMaxParallel caps simultaneous pipelines when none is configured.
const DefaultMaxParallel = 6

// Filter selects which tasks the scheduler picks up. Zero value means
// every ready task; SpecID narrows to one spec; TaskID to a single task.
type Filter struct {
	SpecID string
	TaskID string
}

// TaskOutcome is the per-task result reported in the summary.
type TaskOutcome struct {
	TaskID        string `json:"task_id"`
	Success       bool   `json:"success"`
	FinalStatus   string `json:"final_status"`
	Merged        bool   `json:"merged"`
	MergeMessage  string `json:"merge_message,omitempty"`
	FailureStage  string `json:"failure_stage,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Summary aggregates one Execute run.
type Summary struct {
	Outcomes  []TaskOutcome `json:"outcomes"`
	Executed  int           `json:"executed"`
	Succeeded int           `json:"succeeded"`
	Merged    int           `json:"merged"`
	NoWork    bool          `json:"no_work,omitempty"`
}

// Options configures a Scheduler.
type Options struct {
	// MaxParallel bounds simultaneous pipelines; defaults to 6.
	MaxParallel int
	// BaseBranch is the merge target; defaults to main.
	BaseBranch string
	// StopRequested, when set, is checked before each admission; a true
	// return stops new tasks from starting while in-flight ones finish.
	StopRequested func() bool
	// Logger receives debug lines; nil disables.
	Logger *project.DebugLogger
}

// Scheduler drives tasks through workspace, pipeline and merge.
type Scheduler struct {
	store         *store.Store
	workspaces    *worktree.Manager
	pipeline      *pipeline.Pipeline
	merger        *mergeflow.Orchestrator
	maxParallel   int
	baseBranch    string
	stopRequested func() bool
	logger        *project.DebugLogger
}

// New creates a scheduler over the given components.
func New(s *store.Store, wm *worktree.Manager, p *pipeline.Pipeline, m *mergeflow.Orchestrator, opts Options) *Scheduler {
	sched := &Scheduler{
		store:         s,
		workspaces:    wm,
		pipeline:      p,
		merger:        m,
		maxParallel:   opts.MaxParallel,
		baseBranch:    opts.BaseBranch,
		stopRequested: opts.StopRequested,
		logger:        opts.Logger,
	}
	if sched.maxParallel <= 0 {
		sched.maxParallel = DefaultMaxParallel
	}
	if sched.baseBranch == "" {
		sched.baseBranch = worktree.DefaultBaseBranch
	}
	return sched
}

// completion is what a worker reports back to the main loop.
type completion struct {
	outcome TaskOutcome
}

// Execute runs every task matching the filter, admitting up to the
// parallelism cap at once. The ready set is re-queried after each
// completion so follow-up tasks created during execution are picked up.
// A failing task never cancels its peers.
func (s *Scheduler) Execute(ctx context.Context, filter Filter) (*Summary, error) {
	if expired, err := s.store.CleanupStaleAgents(); err == nil && len(expired) > 0 {
		s.log("cleaned up %d stale agent(s)", len(expired))
	}

	ready, err := s.readyTasks(filter)
	if err != nil {
		return nil, err
	}
	if len(ready) == 0 {
		return &Summary{NoWork: true}, nil
	}

	summary := &Summary{}
	pending := ready
	inFlight := map[string]bool{}
	done := map[string]bool{}
	results := make(chan completion)

	// Workspace creation happens here, serially, before the worker is
	// spawned; concurrent worktree additions would race on the git lock.
	admit := func() {
		for len(inFlight) < s.maxParallel && len(pending) > 0 {
			if ctx.Err() != nil {
				return
			}
			if s.stopRequested != nil && s.stopRequested() {
				s.log("stop requested, not admitting further tasks")
				return
			}
			task := pending[0]
			pending = pending[1:]

			workspace, err := s.workspaces.CreateWorkspace(task.ID, s.baseBranch)
			if err != nil {
				done[task.ID] = true
				summary.Outcomes = append(summary.Outcomes, TaskOutcome{
					TaskID:      task.ID,
					FinalStatus: string(task.Status),
					Error:       fmt.Sprintf("create workspace: %v", err),
				})
				summary.Executed++
				continue
			}

			inFlight[task.ID] = true
			s.log("admitting task %s (priority %d)", task.ID, task.Priority)
			go s.runTask(ctx, task, workspace, results)
		}
	}

	admit()
	for len(inFlight) > 0 {
		c := <-results
		delete(inFlight, c.outcome.TaskID)
		done[c.outcome.TaskID] = true
		summary.Outcomes = append(summary.Outcomes, c.outcome)
		summary.Executed++
		if c.outcome.Success {
			summary.Succeeded++
		}
		if c.outcome.Merged {
			summary.Merged++
		}

		// Agents can create follow-up tasks mid-run; the graph grows.
		if ctx.Err() == nil {
			ready, err := s.readyTasks(filter)
			if err != nil {
				s.log("re-query ready tasks failed: %v", err)
			} else {
				pending = mergeReady(pending, ready, inFlight, done)
			}
		}
		admit()
	}
	return summary, nil
}

// runTask is the worker body: pipeline, then merge on success.
func (s *Scheduler) runTask(ctx context.Context, task *models.Task, workspace string, results chan<- completion) {
	outcome := TaskOutcome{TaskID: task.ID}

	res, err := s.pipeline.ExecuteTask(ctx, task, workspace)
	if err != nil {
		outcome.Error = err.Error()
	}
	if res != nil {
		outcome.Success = res.Success
		outcome.FailureStage = res.FailureStage
		outcome.FailureReason = res.FailureReason
	}

	if fresh, err := s.store.GetTaskNoCompletion(task.ID); err == nil {
		outcome.FinalStatus = string(fresh.Status)
	}

	if outcome.Success {
		s.mergeTask(ctx, task.ID, &outcome)
	}
	results <- completion{outcome: outcome}
}

// mergeTask merges the task branch and, on success, releases the
// workspace and branch. The orchestrator serializes concurrent merges.
func (s *Scheduler) mergeTask(ctx context.Context, taskID string, outcome *TaskOutcome) {
	ok, msg, err := s.merger.MergeTask(ctx, taskID, s.baseBranch)
	if err != nil {
		outcome.MergeMessage = err.Error()
		s.log("merge of task %s failed: %v", taskID, err)
		return
	}
	outcome.Merged = ok
	outcome.MergeMessage = msg

	if err := s.workspaces.RemoveWorkspace(taskID, true); err != nil && !errs.Is(err, errs.KindNotFound) {
		s.log("remove workspace for %s failed: %v", taskID, err)
		return
	}
	if _, err := s.merger.CleanupBranch(taskID); err != nil {
		s.log("cleanup branch for %s failed: %v", taskID, err)
	}
}

// readyTasks resolves the filter to the current ready set, sorted by
// priority ascending.
func (s *Scheduler) readyTasks(filter Filter) ([]*models.Task, error) {
	if filter.TaskID != "" {
		task, err := s.store.GetTask(filter.TaskID)
		if err != nil {
			return nil, err
		}
		if task.Status != models.TaskStatusTodo {
			return nil, nil
		}
		blocked, err := s.store.IsTaskBlocked(task)
		if err != nil {
			return nil, err
		}
		if blocked {
			return nil, errs.New(errs.KindDependencyNotMet,
				"task %s has unfinished dependencies", task.ID)
		}
		return []*models.Task{task}, nil
	}
	return s.store.GetReadyTasks(filter.SpecID)
}

// mergeReady folds newly-ready tasks into the pending queue, skipping
// anything in flight, already finished, or already queued.
func mergeReady(pending, ready []*models.Task, inFlight, done map[string]bool) []*models.Task {
	queued := map[string]bool{}
	for _, t := range pending {
		queued[t.ID] = true
	}
	for _, t := range ready {
		if inFlight[t.ID] || done[t.ID] || queued[t.ID] {
			continue
		}
		pending = append(pending, t)
		queued[t.ID] = true
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Priority < pending[j].Priority
	})
	return pending
}

func (s *Scheduler) log(format string, args ...interface{}) {
	s.logger.Log(format, args...)
}
