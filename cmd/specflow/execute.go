package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/specflow/specflow/internal/agentexec"
	"github.com/specflow/specflow/internal/mergeflow"
	"github.com/specflow/specflow/internal/pipeline"
	"github.com/specflow/specflow/internal/project"
	"github.com/specflow/specflow/internal/scheduler"
	"github.com/specflow/specflow/internal/worktree"
)

var (
	executeSpec        string
	executeTask        string
	executeMaxParallel int
)

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Execute ready tasks through the agent pipeline",
	Long: `Execute every ready task, or a subset, through the staged pipeline.

Each admitted task gets an isolated git worktree, passes through the
implementation, review, testing and QA stages, and is merged back to the
base branch on success. Dependencies gate admission; follow-up tasks
created by agents during the run are picked up as they become ready.

Examples:
  specflow execute                     # Everything that is ready
  specflow execute --spec user-auth    # One spec's tasks
  specflow execute --task TASK-003     # A single task
  specflow execute --max-parallel 2`,
	Args: cobra.NoArgs,
	RunE: runExecute,
}

func init() {
	executeCmd.Flags().StringVar(&executeSpec, "spec", "", "Limit to one spec's tasks")
	executeCmd.Flags().StringVar(&executeTask, "task", "", "Execute a single task")
	executeCmd.Flags().IntVar(&executeMaxParallel, "max-parallel", 0, "Maximum concurrent tasks (default from config)")
}

func runExecute(cmd *cobra.Command, args []string) error {
	if _, err := exec.LookPath(agentexec.DefaultCommand); err != nil {
		return fmt.Errorf("%s CLI not found in PATH\n\n"+
			"SpecFlow drives the Claude Code CLI to execute tasks.\n\n"+
			"Install it with:\n"+
			"  npm install -g @anthropic-ai/claude-code", agentexec.DefaultCommand)
	}

	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	logger := project.NewDebugLoggerForProject(p.Root, "execute")
	defer logger.Close()

	runner := agentexec.NewCLIRunner("")
	pipe := pipeline.New(p.Store, runner, p.SpecDir, pipeline.Options{
		Timeout:  p.Config.AgentTimeout(),
		ModelFor: p.Config.ModelFor,
		Logger:   logger,
	})
	manager := worktree.NewManager(p.Root)
	merger := mergeflow.New(p.Root, runner, mergeflow.DefaultAITimeout, logger)

	maxParallel := executeMaxParallel
	if maxParallel <= 0 {
		maxParallel = p.Config.MaxParallel
	}

	// A leftover stop file would halt the run before it starts.
	if err := project.ClearSignals(p.Root); err != nil {
		return err
	}
	signals, err := project.NewSignalWatcher(p.Root)
	if err != nil {
		return err
	}
	defer signals.Close()

	sched := scheduler.New(p.Store, manager, pipe, merger, scheduler.Options{
		MaxParallel:   maxParallel,
		StopRequested: signals.StopRequested,
		Logger:        logger,
	})

	// Ctrl-C stops admitting new tasks; in-flight agents finish their
	// current invocation.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := sched.Execute(ctx, scheduler.Filter{
		SpecID: executeSpec,
		TaskID: executeTask,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		return emitSuccess(map[string]any{"summary": summary})
	}
	if summary.NoWork {
		fmt.Println("No ready tasks to execute.")
		return nil
	}
	fmt.Printf("Executed %d task(s): %d succeeded, %d merged\n\n",
		summary.Executed, summary.Succeeded, summary.Merged)
	for _, outcome := range summary.Outcomes {
		switch {
		case outcome.Success && outcome.Merged:
			printStatus("✓", fmt.Sprintf("%s  %s", outcome.TaskID, outcome.MergeMessage), color.FgGreen)
		case outcome.Success:
			printStatus("⚠", fmt.Sprintf("%s  done but not merged: %s", outcome.TaskID, outcome.MergeMessage), color.FgYellow)
		default:
			reason := outcome.FailureReason
			if outcome.Error != "" {
				reason = outcome.Error
			}
			printStatus("✗", fmt.Sprintf("%s  failed at %s: %s", outcome.TaskID, outcome.FailureStage, firstLineOf(reason)), color.FgRed)
		}
	}
	return nil
}

func firstLineOf(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
