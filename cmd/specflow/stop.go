package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/specflow/specflow/internal/project"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal a running execute loop to wind down",
	Long: `Write the stop signal for this project. A running execute loop stops
admitting new tasks and exits once in-flight tasks finish. The signal is
cleared automatically when the next run starts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := project.FindRoot(".")
		if err != nil {
			return err
		}
		if err := project.RequestStop(root); err != nil {
			return err
		}
		if jsonOutput {
			return emitSuccess(nil)
		}
		fmt.Println("Stop signal written; the running execute loop will wind down.")
		return nil
	},
}
