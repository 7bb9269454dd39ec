package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/specflow/specflow/internal/worktree"
)

var (
	worktreeCreateBase  string
	worktreeRemoveForce bool
)

var worktreeCreateCmd = &cobra.Command{
	Use:   "worktree-create <task_id>",
	Short: "Create an isolated workspace for a task",
	Long: `Check out a fresh task/<task_id> branch into .worktrees/<task_id>.
Creating an existing workspace is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorktreeCreate,
}

var worktreeRemoveCmd = &cobra.Command{
	Use:   "worktree-remove <task_id>",
	Short: "Remove a task's workspace",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorktreeRemove,
}

var worktreeListCmd = &cobra.Command{
	Use:   "worktree-list",
	Short: "List task workspaces",
	Args:  cobra.NoArgs,
	RunE:  runWorktreeList,
}

var worktreeCommitCmd = &cobra.Command{
	Use:   "worktree-commit <task_id> <message>",
	Short: "Commit all changes in a task's workspace",
	Args:  cobra.ExactArgs(2),
	RunE:  runWorktreeCommit,
}

func init() {
	worktreeCreateCmd.Flags().StringVar(&worktreeCreateBase, "base", "", "Base branch (default main)")
	worktreeRemoveCmd.Flags().BoolVar(&worktreeRemoveForce, "force", false, "Discard uncommitted changes")
}

func runWorktreeCreate(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	path, err := worktree.NewManager(p.Root).CreateWorkspace(args[0], worktreeCreateBase)
	if err != nil {
		return err
	}
	if jsonOutput {
		return emitSuccess(map[string]any{
			"path":   path,
			"branch": worktree.BranchForTask(args[0]),
		})
	}
	fmt.Printf("Workspace ready at %s (branch %s)\n", path, worktree.BranchForTask(args[0]))
	return nil
}

func runWorktreeRemove(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	if err := worktree.NewManager(p.Root).RemoveWorkspace(args[0], worktreeRemoveForce); err != nil {
		return err
	}
	if jsonOutput {
		return emitSuccess(map[string]any{"removed": args[0]})
	}
	fmt.Printf("Removed workspace for %s\n", args[0])
	return nil
}

func runWorktreeList(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	workspaces, err := worktree.NewManager(p.Root).ListWorkspaces()
	if err != nil {
		return err
	}
	if jsonOutput {
		return emitSuccess(map[string]any{"workspaces": workspaces, "count": len(workspaces)})
	}
	if len(workspaces) == 0 {
		fmt.Println("No workspaces.")
		return nil
	}
	for _, ws := range workspaces {
		commit := ws.Commit
		if len(commit) > 8 {
			commit = commit[:8]
		}
		fmt.Printf("%-40s %-24s %s\n", ws.Path, ws.Branch, commit)
	}
	return nil
}

func runWorktreeCommit(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	hash, err := worktree.NewManager(p.Root).CommitChanges(args[0], args[1])
	if err != nil {
		return err
	}
	if jsonOutput {
		return emitSuccess(map[string]any{"commit": hash})
	}
	fmt.Printf("Committed %s in workspace %s\n", hash[:8], args[0])
	return nil
}
