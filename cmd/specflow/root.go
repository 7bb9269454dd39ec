package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/specflow/specflow/internal/project"
)

// jsonOutput switches every command from human output to a single JSON
// object with at least {"success": bool}.
var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "specflow",
	Short: "Spec-driven development orchestrator",
	Long: `SpecFlow turns approved specifications into working code by driving
coding agents through a staged pipeline.

Specs and tasks live in a local SQLite database mirrored to an append-only
JSONL change log. Each task executes in its own git worktree, passes through
implementation, review, testing and QA stages with bounded retries, and is
merged back to the base branch when every stage's completion criteria hold.

Typical flow:
  specflow init
  specflow spec-create user-auth --title "User authentication"
  specflow task-create TASK-001 user-auth "Add login endpoint"
  specflow execute --spec user-auth`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if jsonOutput {
			printJSON(map[string]any{"success": false, "error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// openProject loads the project containing the current directory.
func openProject() (*project.Project, error) {
	return project.Load(".")
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(specCreateCmd)
	rootCmd.AddCommand(specUpdateCmd)
	rootCmd.AddCommand(specGetCmd)
	rootCmd.AddCommand(listSpecsCmd)
	rootCmd.AddCommand(taskCreateCmd)
	rootCmd.AddCommand(taskFollowupCmd)
	rootCmd.AddCommand(taskUpdateCmd)
	rootCmd.AddCommand(taskImportCmd)
	rootCmd.AddCommand(listTasksCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(agentStartCmd)
	rootCmd.AddCommand(agentStopCmd)
	rootCmd.AddCommand(listAgentsCmd)
	rootCmd.AddCommand(ralphStatusCmd)
	rootCmd.AddCommand(ralphCancelCmd)
	rootCmd.AddCommand(syncExportCmd)
	rootCmd.AddCommand(syncImportCmd)
	rootCmd.AddCommand(syncCompactCmd)
	rootCmd.AddCommand(syncStatusCmd)
	rootCmd.AddCommand(worktreeCreateCmd)
	rootCmd.AddCommand(worktreeRemoveCmd)
	rootCmd.AddCommand(worktreeListCmd)
	rootCmd.AddCommand(worktreeCommitCmd)
	rootCmd.AddCommand(mergeTaskCmd)
	rootCmd.AddCommand(versionCmd)
}
