// Package agentexec invokes the external coding-agent CLI in headless
// mode. Each invocation runs in a task workspace with a prompt, a tool
// allow-list and a wall-clock timeout.
package agentexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/specflow/specflow/internal/errs"
)

// DefaultCommand is the agent CLI executable name.
const DefaultCommand = "claude"

// Request describes one agent invocation.
type Request struct {
	// Prompt is passed as the single -p argument.
	Prompt string
	// Dir is the working directory, usually a task workspace.
	Dir string
	// AllowedTools is the comma-separated tool allow-list.
	AllowedTools string
	// Model optionally pins a model; empty uses the tool default.
	Model string
	// Timeout bounds wall-clock time for the subprocess.
	Timeout time.Duration
}

// Result is the parsed outcome of an invocation.
type Result struct {
	// Output is the agent's result text (the "result" field of the JSON
	// envelope, or raw stdout when the envelope does not parse).
	Output string
	// SessionID identifies the agent session when the tool reports one.
	SessionID string
	// OK is true when the subprocess exited zero.
	OK bool
	// Duration is the wall-clock time the invocation took.
	Duration time.Duration
}

// Runner runs agent invocations. The CLI implementation shells out;
// tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// CLIRunner invokes the agent CLI as a subprocess.
type CLIRunner struct {
	command string
}

// NewCLIRunner creates a runner for the given executable. An empty
// command uses the default.
func NewCLIRunner(command string) *CLIRunner {
	if command == "" {
		command = DefaultCommand
	}
	return &CLIRunner{command: command}
}

// envelope is the JSON object the CLI emits with --output-format json.
type envelope struct {
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
}

// Run executes the agent. A nonzero exit is a normal failed Result, not
// an error; timeouts and a missing executable return classified errors
// alongside a Result whose Output explains the failure.
func (r *CLIRunner) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	args := []string{"-p", req.Prompt, "--output-format", "json"}
	if req.AllowedTools != "" {
		args = append(args, "--allowedTools", req.AllowedTools)
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}

	cmd := exec.CommandContext(ctx, r.command, args...)
	if req.Dir != "" {
		cmd.Dir = req.Dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		res := &Result{
			Output:   fmt.Sprintf("TIMEOUT: Agent execution exceeded %s", req.Timeout),
			Duration: elapsed,
		}
		return res, errs.New(errs.KindAgentTimeout, "agent timed out after %s", req.Timeout)
	}
	if runErr != nil && isNotFound(runErr) {
		res := &Result{
			Output:   fmt.Sprintf("ERROR: agent CLI not found at %q", r.command),
			Duration: elapsed,
		}
		return res, errs.Wrap(errs.KindAgentNotInstalled, runErr, "agent CLI %q", r.command)
	}

	output, sessionID := parseEnvelope(stdout.Bytes())
	res := &Result{
		Output:    output,
		SessionID: sessionID,
		OK:        runErr == nil,
		Duration:  elapsed,
	}
	if runErr != nil && stderr.Len() > 0 {
		res.Output += "\n\nSTDERR:\n" + stderr.String()
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return res, fmt.Errorf("run agent: %w", runErr)
		}
	}
	return res, nil
}

// parseEnvelope extracts the result text and session id from the JSON
// envelope. Non-JSON output is passed through untouched.
func parseEnvelope(raw []byte) (string, string) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return string(raw), ""
	}
	if env.Result == "" && env.SessionID == "" {
		return string(raw), ""
	}
	return env.Result, env.SessionID
}

func isNotFound(err error) bool {
	var execErr *exec.Error
	return errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound)
}

var _ Runner = (*CLIRunner)(nil)
