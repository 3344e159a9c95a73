package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var getJSON bool

var getCmd = &cobra.Command{
	Use:   "get [external-key]",
	Short: "Look up one test by its tracker issue key",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	getCmd.Flags().BoolVar(&getJSON, "json", false, "output the test as JSON")
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	if searchService == nil {
		return errors.New("search service not configured")
	}

	doc, err := searchService.GetByExternalKey(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("lookup failed: %w", err)
	}

	if getJSON {
		return printJSON(cmd, doc)
	}

	cmd.Printf("%s  %s\n", doc.ExternalKey, doc.Title)
	if doc.Priority != "" {
		cmd.Printf("Priority: %s\n", doc.Priority)
	}
	if doc.TestType != "" {
		cmd.Printf("Type: %s\n", doc.TestType)
	}
	if len(doc.FolderPath) > 0 {
		cmd.Printf("Folder: %s\n", strings.Join(doc.FolderPath, "/"))
	}
	if len(doc.Tags) > 0 {
		cmd.Printf("Tags: %s\n", strings.Join(doc.Tags, ", "))
	}
	if doc.Description != "" {
		cmd.Printf("\n%s\n", doc.Description)
	}
	if len(doc.Steps) > 0 {
		cmd.Println("\nSteps:")
		for _, step := range doc.Steps {
			cmd.Printf("  %d. %s\n", step.Index, step.Action)
			if step.Data != "" {
				cmd.Printf("     Data: %s\n", step.Data)
			}
			for _, expected := range step.Expected {
				cmd.Printf("     Expect: %s\n", expected)
			}
		}
	}
	return nil
}
