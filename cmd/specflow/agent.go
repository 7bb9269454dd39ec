package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/pkg/models"
)

var (
	agentStartType     string
	agentStartWorktree string
	agentStartPID      int
	agentStopTask      string
	agentStopSlot      int
)

var agentStartCmd = &cobra.Command{
	Use:   "agent-start <task_id>",
	Short: "Register an agent in the slot pool",
	Long: `Register an external agent working on a task. A slot from the finite
pool is allocated; registration fails when all slots are taken.
Re-registering the same task keeps its slot.

Example:
  specflow agent-start TASK-001 --type architect --pid $$`,
	Args: cobra.ExactArgs(1),
	RunE: runAgentStart,
}

var agentStopCmd = &cobra.Command{
	Use:   "agent-stop",
	Short: "Deregister an agent by task or slot",
	RunE:  runAgentStop,
}

var listAgentsCmd = &cobra.Command{
	Use:   "list-agents",
	Short: "List active agents",
	Args:  cobra.NoArgs,
	RunE:  runListAgents,
}

func init() {
	agentStartCmd.Flags().StringVar(&agentStartType, "type", string(models.AgentArchitect), "Agent role")
	agentStartCmd.Flags().StringVar(&agentStartWorktree, "worktree", "", "Workspace path the agent runs in")
	agentStartCmd.Flags().IntVar(&agentStartPID, "pid", 0, "Agent process id (enables stale cleanup)")

	agentStopCmd.Flags().StringVar(&agentStopTask, "task", "", "Deregister the agent working on this task")
	agentStopCmd.Flags().IntVar(&agentStopSlot, "slot", 0, "Deregister the agent in this slot")
}

func runAgentStart(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	agentType := models.AgentType(agentStartType)
	if !agentType.Valid() {
		return errs.New(errs.KindInvalidArgument, "invalid agent type %q", agentStartType)
	}
	agent, err := p.Store.RegisterAgent(args[0], agentType, agentStartPID, agentStartWorktree)
	if err != nil {
		return err
	}

	if jsonOutput {
		return emitSuccess(map[string]any{"agent": agent})
	}
	fmt.Printf("Registered %s agent for %s in slot %d\n", agent.AgentType, agent.TaskID, agent.Slot)
	return nil
}

func runAgentStop(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	var removed bool
	switch {
	case agentStopTask != "":
		removed, err = p.Store.DeregisterAgentByTask(agentStopTask)
	case agentStopSlot > 0:
		removed, err = p.Store.DeregisterAgentBySlot(agentStopSlot)
	default:
		return errs.New(errs.KindInvalidArgument, "agent-stop requires --task or --slot")
	}
	if err != nil {
		return err
	}
	if !removed {
		return errs.New(errs.KindNotFound, "no matching active agent")
	}

	if jsonOutput {
		return emitSuccess(map[string]any{"removed": true})
	}
	fmt.Println("Agent deregistered.")
	return nil
}

func runListAgents(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	expired, err := p.Store.CleanupStaleAgents()
	if err != nil {
		return err
	}
	agents, err := p.Store.ListActiveAgents()
	if err != nil {
		return err
	}

	if jsonOutput {
		return emitSuccess(map[string]any{
			"agents":  agents,
			"count":   len(agents),
			"expired": len(expired),
		})
	}
	if len(agents) == 0 {
		fmt.Println("No active agents.")
		return nil
	}
	for _, a := range agents {
		line := fmt.Sprintf("slot %d: %-9s %s", a.Slot, a.AgentType, a.TaskID)
		if a.PID > 0 {
			line += fmt.Sprintf(" (pid %d)", a.PID)
		}
		fmt.Println(line)
	}
	return nil
}
