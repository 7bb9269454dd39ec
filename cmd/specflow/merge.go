package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/specflow/specflow/internal/agentexec"
	"github.com/specflow/specflow/internal/mergeflow"
	"github.com/specflow/specflow/internal/project"
	"github.com/specflow/specflow/internal/worktree"
)

var (
	mergeTarget  string
	mergeCleanup bool
)

var mergeTaskCmd = &cobra.Command{
	Use:   "merge-task <task_id>",
	Short: "Merge a task branch into the base branch",
	Long: `Merge task/<task_id> into the target branch using the tiered
strategy: plain merge first, then AI conflict resolution for each
conflicted file. With --cleanup the workspace and branch are removed
after a successful merge.

Examples:
  specflow merge-task TASK-001
  specflow merge-task TASK-001 --target develop --cleanup`,
	Args: cobra.ExactArgs(1),
	RunE: runMergeTask,
}

func init() {
	mergeTaskCmd.Flags().StringVar(&mergeTarget, "target", "", "Target branch (default main)")
	mergeTaskCmd.Flags().BoolVar(&mergeCleanup, "cleanup", false, "Remove the workspace and branch after merging")
}

func runMergeTask(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	logger := project.NewDebugLoggerForProject(p.Root, "merge")
	defer logger.Close()

	taskID := args[0]
	merger := mergeflow.New(p.Root, agentexec.NewCLIRunner(""), mergeflow.DefaultAITimeout, logger)

	merged, message, err := merger.MergeTask(cmd.Context(), taskID, mergeTarget)
	if err != nil {
		return err
	}

	cleaned := false
	if merged && mergeCleanup {
		manager := worktree.NewManager(p.Root)
		if err := manager.RemoveWorkspace(taskID, true); err == nil {
			if _, err := merger.CleanupBranch(taskID); err == nil {
				cleaned = true
			}
		}
	}

	if jsonOutput {
		return emitSuccess(map[string]any{
			"merged":  merged,
			"message": message,
			"cleaned": cleaned,
		})
	}
	fmt.Println(message)
	if cleaned {
		fmt.Printf("Removed workspace and branch for %s\n", taskID)
	}
	return nil
}
