package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/specflow/specflow/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	RunE: func(cmd *cobra.Command, args []string) error {
		if jsonOutput {
			return emitSuccess(map[string]any{"version": version.Get()})
		}
		fmt.Printf("specflow version %s\n", version.Get())
		return nil
	},
}
