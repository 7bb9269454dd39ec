package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/specflow/specflow/internal/project"
)

var (
	initPath   string
	initUpdate bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a SpecFlow project",
	Long: `Initialize a directory for use with SpecFlow.

Creates the .specflow directory (config.yaml, constitution.md, memory/,
logs/), the specs/ tree and the .worktrees/ build area. Safe to re-run;
existing data is never touched. With --update only template files like
the constitution are refreshed.

Examples:
  specflow init                # Initialize current directory
  specflow init --path ./app   # Initialize a specific directory
  specflow init --update       # Refresh templates in an existing project`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initPath, "path", ".", "Directory to initialize")
	initCmd.Flags().BoolVar(&initUpdate, "update", false, "Refresh template files in an existing project")
}

func runInit(cmd *cobra.Command, args []string) error {
	p, err := project.Init(initPath, initUpdate)
	if err != nil {
		return err
	}
	defer p.Close()

	if jsonOutput {
		return emitSuccess(map[string]any{
			"root":    p.Root,
			"project": p.Config.ProjectName,
			"updated": initUpdate,
		})
	}

	printStatus("✓", "Created .specflow directory structure", color.FgGreen)
	printStatus("✓", "Created specs/ and .worktrees/", color.FgGreen)
	fmt.Printf("\n%s SpecFlow project ready at %s\n\n", color.GreenString("✓"), p.Root)
	fmt.Println("Next steps:")
	fmt.Println("  specflow spec-create <id> --title \"...\"")
	fmt.Println("  specflow task-create <id> <spec_id> \"<title>\"")
	fmt.Println("  specflow execute")
	return nil
}
