package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/pkg/models"
)

var (
	ralphStatusTask   string
	ralphStatusFilter string
	ralphCancelType   string
)

var ralphStatusCmd = &cobra.Command{
	Use:   "ralph-status",
	Short: "Show retry-loop state",
	Long: `Show the bounded retry loops recorded for pipeline stages, newest
first, optionally filtered by task or status.`,
	Args: cobra.NoArgs,
	RunE: runRalphStatus,
}

var ralphCancelCmd = &cobra.Command{
	Use:   "ralph-cancel <task_id>",
	Short: "Cancel a task's running retry loops",
	Long: `Cancel the running loops for a task. The worker observes the
cancellation at its next iteration boundary and aborts the stage,
leaving the task status as-is.`,
	Args: cobra.ExactArgs(1),
	RunE: runRalphCancel,
}

func init() {
	ralphStatusCmd.Flags().StringVar(&ralphStatusTask, "task-id", "", "Filter by task")
	ralphStatusCmd.Flags().StringVar(&ralphStatusFilter, "status", "", "Filter by loop status")

	ralphCancelCmd.Flags().StringVar(&ralphCancelType, "agent-type", "", "Cancel only this agent type's loop")
}

func runRalphStatus(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	loops, err := p.Store.ListRalphLoops(models.RalphStatus(ralphStatusFilter))
	if err != nil {
		return err
	}
	if ralphStatusTask != "" {
		filtered := loops[:0]
		for _, loop := range loops {
			if loop.TaskID == ralphStatusTask {
				filtered = append(filtered, loop)
			}
		}
		loops = filtered
	}

	if jsonOutput {
		return emitSuccess(map[string]any{"loops": loops, "count": len(loops)})
	}
	if len(loops) == 0 {
		fmt.Println("No ralph loops found.")
		return nil
	}
	for _, loop := range loops {
		fmt.Printf("%-20s %-9s %-10s iteration %d/%d (%.0f%%)\n",
			loop.TaskID, loop.AgentType, loop.Status,
			loop.Iteration, loop.MaxIterations, loop.ProgressPercent())
	}
	return nil
}

func runRalphCancel(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	var cancelled int
	if ralphCancelType != "" {
		cancelled, err = p.Store.CancelRalphLoopsForAgent(args[0], models.AgentType(ralphCancelType))
	} else {
		cancelled, err = p.Store.CancelRalphLoops(args[0])
	}
	if err != nil {
		return err
	}
	if cancelled == 0 {
		return errs.New(errs.KindNotFound, "no running loops for task %s", args[0])
	}

	if jsonOutput {
		return emitSuccess(map[string]any{"cancelled": cancelled})
	}
	fmt.Printf("Cancelled %d loop(s) for %s\n", cancelled, args[0])
	return nil
}
