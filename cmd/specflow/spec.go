package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/pkg/models"
)

var (
	specCreateTitle  string
	specCreateSource string
	specCreateStatus string
	specUpdateTitle  string
	specUpdateStatus string
	listSpecsStatus  string
)

var specCreateCmd = &cobra.Command{
	Use:   "spec-create <id>",
	Short: "Create a specification",
	Long: `Create a specification record and its directory under specs/<id>/.

Examples:
  specflow spec-create user-auth --title "User authentication"
  specflow spec-create billing --source-type prd --status approved`,
	Args: cobra.ExactArgs(1),
	RunE: runSpecCreate,
}

var specUpdateCmd = &cobra.Command{
	Use:   "spec-update <id>",
	Short: "Update a specification's title or status",
	Args:  cobra.ExactArgs(1),
	RunE:  runSpecUpdate,
}

var specGetCmd = &cobra.Command{
	Use:   "spec-get <id>",
	Short: "Show one specification",
	Args:  cobra.ExactArgs(1),
	RunE:  runSpecGet,
}

var listSpecsCmd = &cobra.Command{
	Use:   "list-specs",
	Short: "List specifications",
	Args:  cobra.NoArgs,
	RunE:  runListSpecs,
}

func init() {
	specCreateCmd.Flags().StringVar(&specCreateTitle, "title", "", "Spec title (defaults to the id)")
	specCreateCmd.Flags().StringVar(&specCreateSource, "source-type", "", "Source document type: brd or prd")
	specCreateCmd.Flags().StringVar(&specCreateStatus, "status", string(models.SpecStatusDraft), "Initial status")

	specUpdateCmd.Flags().StringVar(&specUpdateTitle, "title", "", "New title")
	specUpdateCmd.Flags().StringVar(&specUpdateStatus, "status", "", "New status")

	listSpecsCmd.Flags().StringVar(&listSpecsStatus, "status", "", "Filter by status")
}

func runSpecCreate(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	id := args[0]
	title := specCreateTitle
	if title == "" {
		title = id
	}
	status := models.SpecStatus(specCreateStatus)
	if !status.Valid() {
		return errs.New(errs.KindInvalidArgument, "invalid spec status %q", specCreateStatus)
	}
	if specCreateSource != "" && specCreateSource != "brd" && specCreateSource != "prd" {
		return errs.New(errs.KindInvalidArgument, "source-type must be brd or prd, got %q", specCreateSource)
	}

	now := time.Now().UTC()
	spec := &models.Spec{
		ID:         id,
		Title:      title,
		Status:     status,
		SourceType: specCreateSource,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.Store.CreateSpec(spec); err != nil {
		return err
	}
	if _, err := p.EnsureSpecDir(id); err != nil {
		return err
	}

	if jsonOutput {
		return emitSuccess(map[string]any{"spec": spec})
	}
	fmt.Printf("Created spec %s (%s)\n", id, status)
	return nil
}

func runSpecUpdate(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	spec, err := p.Store.GetSpec(args[0])
	if err != nil {
		return err
	}
	if specUpdateTitle != "" {
		spec.Title = specUpdateTitle
	}
	if specUpdateStatus != "" {
		status := models.SpecStatus(specUpdateStatus)
		if !status.Valid() {
			return errs.New(errs.KindInvalidArgument, "invalid spec status %q", specUpdateStatus)
		}
		spec.Status = status
	}
	if err := p.Store.UpdateSpec(spec); err != nil {
		return err
	}

	if jsonOutput {
		return emitSuccess(map[string]any{"spec": spec})
	}
	fmt.Printf("Updated spec %s (%s)\n", spec.ID, spec.Status)
	return nil
}

func runSpecGet(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	spec, err := p.Store.GetSpec(args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return emitSuccess(map[string]any{"spec": spec})
	}
	fmt.Printf("%s  %s\n", spec.ID, specStatusColor(spec.Status).Sprint(spec.Status))
	fmt.Printf("Title:   %s\n", spec.Title)
	if spec.SourceType != "" {
		fmt.Printf("Source:  %s\n", spec.SourceType)
	}
	fmt.Printf("Created: %s\n", spec.CreatedAt.Local().Format(time.RFC3339))
	fmt.Printf("Updated: %s\n", spec.UpdatedAt.Local().Format(time.RFC3339))
	return nil
}

func runListSpecs(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	if listSpecsStatus != "" && !models.SpecStatus(listSpecsStatus).Valid() {
		return errs.New(errs.KindInvalidArgument, "invalid spec status %q", listSpecsStatus)
	}
	specs, err := p.Store.ListSpecs(models.SpecStatus(listSpecsStatus))
	if err != nil {
		return err
	}

	if jsonOutput {
		return emitSuccess(map[string]any{"specs": specs, "count": len(specs)})
	}
	if len(specs) == 0 {
		fmt.Println("No specs found.")
		return nil
	}
	for _, spec := range specs {
		fmt.Printf("%-24s %-14s %s\n", spec.ID,
			specStatusColor(spec.Status).Sprint(spec.Status), spec.Title)
	}
	return nil
}
