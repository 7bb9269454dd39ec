package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/specflow/specflow/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show project status",
	Long:  `Show the project name, spec and task counts by status, active agents, and the change log size.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	specs, err := p.Store.ListSpecs("")
	if err != nil {
		return err
	}
	specCounts := map[string]int{}
	for _, spec := range specs {
		specCounts[string(spec.Status)]++
	}

	tasks, err := p.Store.ListTasks("", "")
	if err != nil {
		return err
	}
	taskCounts := map[string]int{}
	for _, task := range tasks {
		taskCounts[string(task.Status)]++
	}

	if _, err := p.Store.CleanupStaleAgents(); err != nil {
		return err
	}
	agents, err := p.Store.ListActiveAgents()
	if err != nil {
		return err
	}

	logRecords := 0
	if p.Log != nil {
		if logRecords, err = p.Log.Count(); err != nil {
			return err
		}
	}

	if jsonOutput {
		return emitSuccess(map[string]any{
			"project":       p.Config.ProjectName,
			"root":          p.Root,
			"specs":         len(specs),
			"spec_counts":   specCounts,
			"tasks":         len(tasks),
			"task_counts":   taskCounts,
			"active_agents": agents,
			"log_records":   logRecords,
		})
	}

	fmt.Printf("Project: %s\n", color.CyanString(p.Config.ProjectName))
	fmt.Printf("Root:    %s\n\n", p.Root)

	fmt.Printf("Specs (%d):\n", len(specs))
	for status, n := range specCounts {
		fmt.Printf("  %-14s %d\n", status, n)
	}
	fmt.Printf("\nTasks (%d):\n", len(tasks))
	for _, status := range []models.TaskStatus{
		models.TaskStatusTodo, models.TaskStatusImplementing,
		models.TaskStatusTesting, models.TaskStatusReviewing, models.TaskStatusDone,
	} {
		if n := taskCounts[string(status)]; n > 0 {
			fmt.Printf("  %-14s %d\n", status, n)
		}
	}

	fmt.Printf("\nActive agents: %d/%d\n", len(agents), models.MaxAgentSlots)
	for _, a := range agents {
		fmt.Printf("  slot %d: %s on %s\n", a.Slot, a.AgentType, a.TaskID)
	}
	if p.Log != nil {
		fmt.Printf("\nChange log: %d record(s)\n", logRecords)
	}
	return nil
}
