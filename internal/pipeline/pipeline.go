// Package pipeline drives a single task through the ordered execution
// stages. Each stage iterates its agent inside a bounded ralph loop until
// the stage's completion criterion is met or the budget runs out.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/specflow/specflow/internal/agentexec"
	"github.com/specflow/specflow/internal/project"
	"github.com/specflow/specflow/internal/store"
	"github.com/specflow/specflow/pkg/models"
)

// Stage is one step of the execution pipeline.
type Stage struct {
	Name          string
	Role          models.AgentType
	MaxIterations int
}

// DefaultStages returns the standard four-stage pipeline.
func DefaultStages() []Stage {
	return []Stage{
		{Name: "Implementation", Role: models.AgentCoder, MaxIterations: 3},
		{Name: "Code Review", Role: models.AgentReviewer, MaxIterations: 2},
		{Name: "Testing", Role: models.AgentTester, MaxIterations: 2},
		{Name: "QA Validation", Role: models.AgentQA, MaxIterations: 10},
	}
}

// MaxTotalIterations caps the iteration sum across all stages of one task.
const MaxTotalIterations = 10

// Output stored in the execution log is truncated to this many bytes.
const maxLoggedOutput = 10000

// failure_reason stored in task metadata is truncated to this many bytes.
const maxFailureReason = 1000

// allowedTools maps each role to its tool allow-list.
var allowedTools = map[models.AgentType]string{
	models.AgentCoder:    "Task,Read,Write,Edit,Bash,Grep,Glob",
	models.AgentReviewer: "Task,Read,Grep,Glob,Bash",
	models.AgentTester:   "Task,Read,Write,Edit,Bash,Grep",
	models.AgentQA:       "Task,Read,Bash,Grep,Glob",
}

// AllowedTools returns the tool allow-list for a role.
func AllowedTools(role models.AgentType) string {
	if tools, ok := allowedTools[role]; ok {
		return tools
	}
	return "Read,Grep,Glob"
}

// Options configures a Pipeline.
type Options struct {
	// Stages overrides the default pipeline when non-empty.
	Stages []Stage
	// MaxTotal overrides MaxTotalIterations when positive.
	MaxTotal int
	// Timeout bounds each agent invocation.
	Timeout time.Duration
	// ModelFor optionally pins a model per role.
	ModelFor func(models.AgentType) string
	// Shell runs external verification commands; defaults to sh -c in the
	// workspace.
	Shell ShellRunner
	// Logger receives debug lines; nil disables.
	Logger *project.DebugLogger
}

// Pipeline executes tasks stage by stage.
type Pipeline struct {
	store    *store.Store
	runner   agentexec.Runner
	specDir  func(specID string) string
	stages   []Stage
	maxTotal int
	timeout  time.Duration
	modelFor func(models.AgentType) string
	shell    ShellRunner
	logger   *project.DebugLogger
}

// New creates a pipeline over the given store and agent runner. specDir
// resolves a spec id to its directory for prompt context loading.
func New(s *store.Store, runner agentexec.Runner, specDir func(string) string, opts Options) *Pipeline {
	p := &Pipeline{
		store:    s,
		runner:   runner,
		specDir:  specDir,
		stages:   opts.Stages,
		maxTotal: opts.MaxTotal,
		timeout:  opts.Timeout,
		modelFor: opts.ModelFor,
		shell:    opts.Shell,
		logger:   opts.Logger,
	}
	if len(p.stages) == 0 {
		p.stages = DefaultStages()
	}
	if p.maxTotal <= 0 {
		p.maxTotal = MaxTotalIterations
	}
	if p.shell == nil {
		p.shell = execShell{}
	}
	if p.modelFor == nil {
		p.modelFor = func(models.AgentType) string { return "" }
	}
	return p
}

// Result summarizes one task's trip through the pipeline.
type Result struct {
	TaskID        string `json:"task_id"`
	Success       bool   `json:"success"`
	FailureStage  string `json:"failure_stage,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	Iterations    int    `json:"iterations"`
	Cancelled     bool   `json:"cancelled,omitempty"`
}

// ExecuteTask runs the task through every stage in its workspace. A stage
// failure resets the task to todo with failure metadata; success across
// all stages marks it done.
func (p *Pipeline) ExecuteTask(ctx context.Context, task *models.Task, workspace string) (*Result, error) {
	res := &Result{TaskID: task.ID}
	totalIterations := 0

	for _, stage := range p.stages {
		outcome, err := p.runStage(ctx, task, stage, workspace, &totalIterations)
		if err != nil {
			return res, err
		}
		res.Iterations = totalIterations
		if outcome.cancelled {
			res.Cancelled = true
			res.FailureStage = stage.Name
			res.FailureReason = "cancelled"
			return res, nil
		}
		if !outcome.success {
			res.FailureStage = stage.Name
			res.FailureReason = truncate(outcome.lastOutput, maxFailureReason)
			if err := p.recordFailure(task, stage.Name, outcome.lastOutput); err != nil {
				return res, err
			}
			return res, nil
		}
	}

	if _, err := p.store.UpdateTaskStatus(task.ID, models.TaskStatusDone); err != nil {
		return res, err
	}
	res.Success = true
	return res, nil
}

// stageOutcome is the internal result of one stage's loop.
type stageOutcome struct {
	success    bool
	cancelled  bool
	lastOutput string
}

func (p *Pipeline) runStage(ctx context.Context, task *models.Task, stage Stage, workspace string, totalIterations *int) (stageOutcome, error) {
	loop, err := p.store.RegisterRalphLoop(task.ID, stage.Role, stage.MaxIterations)
	if err != nil {
		return stageOutcome{}, err
	}

	var outcome stageOutcome
	iteration := 0
	for iteration < stage.MaxIterations && *totalIterations < p.maxTotal {
		iteration++
		*totalIterations++
		task.Iteration = *totalIterations
		if err := p.store.UpdateTaskIteration(task.ID, *totalIterations); err != nil {
			return outcome, err
		}

		// Cancellation is honored at the iteration boundary.
		current, err := p.store.GetRalphLoop(loop.ID)
		if err != nil {
			return outcome, err
		}
		if current.Status == models.RalphCancelled {
			outcome.cancelled = true
			return outcome, nil
		}

		if _, err := p.store.RegisterAgent(task.ID, stage.Role, 0, workspace); err != nil {
			p.store.CompleteRalphLoop(loop.ID, models.RalphFailed)
			return outcome, err
		}

		if _, err := p.store.UpdateTaskStatus(task.ID, stageStatus(stage.Role)); err != nil {
			p.store.DeregisterAgentByTask(task.ID)
			return outcome, err
		}

		output, verified := p.runIteration(ctx, task, stage, workspace, iteration)
		outcome.lastOutput = output

		if _, err := p.store.DeregisterAgentByTask(task.ID); err != nil {
			return outcome, err
		}

		// The verification boundary also honors cancellation requested
		// while the agent was running.
		current, err = p.store.GetRalphLoop(loop.ID)
		if err != nil {
			return outcome, err
		}
		if current.Status == models.RalphCancelled {
			outcome.cancelled = true
			return outcome, nil
		}

		reason := "criterion not met"
		if verified {
			reason = "criterion met"
		}
		if _, err := p.store.UpdateRalphLoop(loop.ID, models.VerificationResult{
			Iteration:    iteration,
			PromiseFound: strings.Contains(output, promiseFor(task, stage.Role)),
			Verified:     verified,
			Reason:       reason,
		}); err != nil {
			return outcome, err
		}

		if verified {
			outcome.success = true
			if err := p.store.CompleteRalphLoop(loop.ID, models.RalphCompleted); err != nil {
				return outcome, err
			}
			return outcome, nil
		}
		p.log("task %s stage %s iteration %d/%d failed", task.ID, stage.Name, iteration, stage.MaxIterations)
	}

	if err := p.store.CompleteRalphLoop(loop.ID, models.RalphFailed); err != nil {
		return outcome, err
	}
	return outcome, nil
}

// runIteration invokes the agent once and evaluates the stage criterion.
func (p *Pipeline) runIteration(ctx context.Context, task *models.Task, stage Stage, workspace string, iteration int) (string, bool) {
	prompt := p.buildPrompt(task, stage, workspace, iteration)

	start := time.Now()
	result, runErr := p.runner.Run(ctx, agentexec.Request{
		Prompt:       prompt,
		Dir:          workspace,
		AllowedTools: AllowedTools(stage.Role),
		Model:        p.modelFor(stage.Role),
		Timeout:      p.timeout,
	})
	duration := time.Since(start)

	output := ""
	if result != nil {
		output = result.Output
	}
	if runErr != nil && output == "" {
		output = fmt.Sprintf("ERROR: %v", runErr)
	}

	verified := p.verifyStage(ctx, task, stage, workspace, output)

	entry := &models.ExecutionLog{
		TaskID:     task.ID,
		AgentType:  stage.Role,
		Action:     stage.Name,
		Output:     truncate(output, maxLoggedOutput),
		Success:    verified,
		DurationMs: duration.Milliseconds(),
	}
	if err := p.store.LogExecution(entry); err != nil {
		p.log("task %s: log execution failed: %v", task.ID, err)
	}
	return output, verified
}

// recordFailure resets the task to todo and stores failure metadata.
func (p *Pipeline) recordFailure(task *models.Task, stageName, output string) error {
	fresh, err := p.store.GetTask(task.ID)
	if err != nil {
		return err
	}
	fresh.Status = models.TaskStatusTodo
	if fresh.Metadata == nil {
		fresh.Metadata = map[string]any{}
	}
	fresh.Metadata["failure_stage"] = stageName
	fresh.Metadata["failure_reason"] = truncate(output, maxFailureReason)
	return p.store.UpdateTask(fresh)
}

// stageStatus maps a role to the task status shown while it runs.
func stageStatus(role models.AgentType) models.TaskStatus {
	switch role {
	case models.AgentCoder:
		return models.TaskStatusImplementing
	case models.AgentTester:
		return models.TaskStatusTesting
	case models.AgentReviewer, models.AgentQA:
		return models.TaskStatusReviewing
	default:
		return models.TaskStatusImplementing
	}
}

// promiseFor returns the promise string the loop records, either from the
// task's criteria or the role's built-in success indicator.
func promiseFor(task *models.Task, role models.AgentType) string {
	if c := task.CompletionSpec.ForRole(role); c != nil && c.Promise != "" {
		return c.Promise
	}
	return builtinSuccess[role]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (p *Pipeline) log(format string, args ...interface{}) {
	p.logger.Log(format, args...)
}
