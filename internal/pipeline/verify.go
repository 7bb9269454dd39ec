package pipeline

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/specflow/specflow/internal/agentexec"
	"github.com/specflow/specflow/pkg/models"
)

// builtinSuccess is the per-role success indicator used when a task
// declares no completion criteria.
var builtinSuccess = map[models.AgentType]string{
	models.AgentCoder:    "IMPLEMENTATION COMPLETE",
	models.AgentReviewer: "REVIEW PASSED",
	models.AgentTester:   "TESTS PASSED",
	models.AgentQA:       "QA PASSED",
}

// builtinFailure lists indicators that mark an iteration as failed.
var builtinFailure = []string{
	"BLOCKED:",
	"REVIEW FAILED",
	"TESTS FAILED",
	"QA FAILED",
	"ERROR:",
	"FAILED",
	"TIMEOUT:",
}

// ShellRunner executes external verification commands in a workspace.
type ShellRunner interface {
	RunShell(ctx context.Context, dir, command string) (exitCode int, err error)
}

// execShell is the default ShellRunner using sh -c.
type execShell struct{}

func (execShell) RunShell(ctx context.Context, dir, command string) (int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if dir != "" {
		cmd.Dir = dir
	}
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// verifyStage evaluates the stage output against the task's completion
// criteria for this role, falling back to built-in string indicators.
func (p *Pipeline) verifyStage(ctx context.Context, task *models.Task, stage Stage, workspace, output string) bool {
	criteria := task.CompletionSpec.ForRole(stage.Role)
	if criteria == nil {
		return checkIndicators(stage.Role, output)
	}
	return p.verifyCriteria(ctx, criteria, stage.Role, workspace, output)
}

func (p *Pipeline) verifyCriteria(ctx context.Context, c *models.CompletionCriteria, role models.AgentType, workspace, output string) bool {
	switch c.Method {
	case models.VerifyExternal:
		if c.Command == "" {
			return false
		}
		code, err := p.shell.RunShell(ctx, workspace, c.Command)
		if err != nil {
			p.log("external verification %q failed to run: %v", c.Command, err)
			return false
		}
		return code == c.SuccessExitCode
	case models.VerifySemantic:
		return p.verifySemantic(ctx, c, workspace, output)
	case models.VerifyMultiStage:
		if len(c.Stages) == 0 {
			return false
		}
		for i := range c.Stages {
			if !p.verifyCriteria(ctx, &c.Stages[i], role, workspace, output) {
				return false
			}
		}
		return true
	default:
		// string_match, also the default for an unset method.
		if c.Promise == "" {
			return checkIndicators(role, output)
		}
		return strings.Contains(output, c.Promise)
	}
}

// verifySemantic asks the agent tool itself to grade the output against
// the criterion description with a yes/no call.
func (p *Pipeline) verifySemantic(ctx context.Context, c *models.CompletionCriteria, workspace, output string) bool {
	prompt := fmt.Sprintf(`You are grading an agent's work output against a completion criterion.

## Criterion
%s

## Agent Output
%s

Does the output satisfy the criterion? Reply with exactly YES or NO.`,
		c.Description, truncate(output, maxLoggedOutput))

	result, err := p.runner.Run(ctx, agentexec.Request{
		Prompt:       prompt,
		Dir:          workspace,
		AllowedTools: "Read",
		Timeout:      p.timeout,
	})
	if err != nil || result == nil {
		p.log("semantic verification failed: %v", err)
		return false
	}
	reply := strings.ToUpper(strings.TrimSpace(result.Output))
	return strings.HasPrefix(reply, "YES")
}

// checkIndicators applies the built-in success/failure string indicators.
// Ambiguous output counts as success only when it is substantial and
// carries no mention of an error.
func checkIndicators(role models.AgentType, output string) bool {
	upper := strings.ToUpper(output)

	if indicator, ok := builtinSuccess[role]; ok && strings.Contains(upper, indicator) {
		return true
	}
	// Cross-role success markers still count.
	for _, indicator := range builtinSuccess {
		if strings.Contains(upper, indicator) {
			return true
		}
	}
	for _, indicator := range builtinFailure {
		if strings.Contains(upper, indicator) {
			return false
		}
	}
	return len(output) >= 100 && !strings.Contains(strings.ToLower(output), "error")
}
