package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/project"
)

var syncExportCmd = &cobra.Command{
	Use:   "sync-export",
	Short: "Rewrite the change log from the database",
	Long: `Rewrite the JSONL change log as one create record per live spec and
task, dropping all intermediate history.`,
	Args: cobra.NoArgs,
	RunE: runSyncExport,
}

var syncImportCmd = &cobra.Command{
	Use:   "sync-import",
	Short: "Replay the change log into the database",
	Args:  cobra.NoArgs,
	RunE:  runSyncImport,
}

var syncCompactCmd = &cobra.Command{
	Use:   "sync-compact",
	Short: "Collapse the change log to one record per live entity",
	Args:  cobra.NoArgs,
	RunE:  runSyncCompact,
}

var syncStatusCmd = &cobra.Command{
	Use:   "sync-status",
	Short: "Compare the database against the change log",
	Args:  cobra.NoArgs,
	RunE:  runSyncStatus,
}

// openSyncedProject loads the project and requires the change log.
func openSyncedProject() (*project.Project, error) {
	p, err := openProject()
	if err != nil {
		return nil, err
	}
	if p.Log == nil {
		p.Close()
		return nil, errs.New(errs.KindInvalidArgument,
			"sync_jsonl is disabled in config.yaml")
	}
	return p, nil
}

func runSyncExport(cmd *cobra.Command, args []string) error {
	p, err := openSyncedProject()
	if err != nil {
		return err
	}
	defer p.Close()

	stats, err := p.Store.ExportAll()
	if err != nil {
		return err
	}
	if jsonOutput {
		return emitSuccess(map[string]any{"stats": stats})
	}
	fmt.Printf("Exported %d spec(s) and %d task(s) to %s\n", stats.Specs, stats.Tasks, p.Log.Path())
	return nil
}

func runSyncImport(cmd *cobra.Command, args []string) error {
	p, err := openSyncedProject()
	if err != nil {
		return err
	}
	defer p.Close()

	stats, err := p.Store.ImportChanges()
	if err != nil {
		return err
	}
	if jsonOutput {
		return emitSuccess(map[string]any{"stats": stats})
	}
	fmt.Printf("Imported %d spec(s), %d task(s), %d delete(s)\n", stats.Specs, stats.Tasks, stats.Deletes)
	return nil
}

func runSyncCompact(cmd *cobra.Command, args []string) error {
	p, err := openSyncedProject()
	if err != nil {
		return err
	}
	defer p.Close()

	stats, err := p.Store.Compact()
	if err != nil {
		return err
	}
	if jsonOutput {
		return emitSuccess(map[string]any{"stats": stats})
	}
	fmt.Printf("Compacted log to %d spec(s) and %d task(s)\n", stats.Specs, stats.Tasks)
	return nil
}

func runSyncStatus(cmd *cobra.Command, args []string) error {
	p, err := openSyncedProject()
	if err != nil {
		return err
	}
	defer p.Close()

	status, err := p.Store.GetSyncStatus()
	if err != nil {
		return err
	}
	if jsonOutput {
		return emitSuccess(map[string]any{"status": status, "log_path": p.Log.Path()})
	}

	fmt.Printf("Log:  %s (%d records)\n", p.Log.Path(), status.LogRecords)
	fmt.Printf("DB:   %d spec(s), %d task(s)\n", status.DBSpecs, status.DBTasks)
	if status.InSync {
		fmt.Println("In sync.")
		return nil
	}
	fmt.Printf("Out of sync: %d only in DB, %d only in log, %d conflicting\n",
		status.OnlyInDB, status.OnlyInLog, status.Conflicting)
	return nil
}
