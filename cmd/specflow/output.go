package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/specflow/specflow/pkg/models"
)

// printJSON writes one indented JSON object to stdout.
func printJSON(payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}

// emitSuccess prints the payload with success=true in JSON mode.
func emitSuccess(fields map[string]any) error {
	out := map[string]any{"success": true}
	for k, v := range fields {
		out[k] = v
	}
	return printJSON(out)
}

// printStatus prints a colored status symbol followed by a message.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

// taskStatusColor picks a display color for a task status.
func taskStatusColor(status models.TaskStatus) *color.Color {
	switch status {
	case models.TaskStatusDone:
		return color.New(color.FgGreen)
	case models.TaskStatusImplementing, models.TaskStatusTesting, models.TaskStatusReviewing:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgWhite)
	}
}

// specStatusColor picks a display color for a spec status.
func specStatusColor(status models.SpecStatus) *color.Color {
	switch status {
	case models.SpecStatusCompleted, models.SpecStatusApproved:
		return color.New(color.FgGreen)
	case models.SpecStatusImplementing, models.SpecStatusPlanning:
		return color.New(color.FgYellow)
	case models.SpecStatusArchived:
		return color.New(color.FgHiBlack)
	default:
		return color.New(color.FgWhite)
	}
}
