package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var ingestJSON bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [corpus.json...]",
	Short: "Ingest test corpora from JSON export files",
	Long: `Streams each corpus file through normalisation, batch embedding and
idempotent upsert into the vector store. Progress is checkpointed per
chunk; re-running an interrupted ingest resumes where it stopped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "output reports as JSON")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestService == nil || openSource == nil {
		return errors.New("ingest service not configured")
	}

	for _, path := range args {
		source, err := openSource(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}

		report, err := ingestService.Ingest(cmd.Context(), source)
		source.Close()
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}

		if ingestJSON {
			if err := printJSON(cmd, report); err != nil {
				return err
			}
			continue
		}

		cmd.Printf("%s: %d records in, %d docs written, %d steps written (%s)\n",
			report.SourceID, report.DocsIn, report.DocsWritten, report.StepsWritten,
			report.Duration.Round(time.Millisecond))
		if report.Errors > 0 {
			cmd.Printf("  %d records or chunks failed\n", report.Errors)
		}
		for _, warning := range report.Warnings {
			cmd.Printf("  warning: %s\n", warning)
		}
		if len(report.DeferredChunks) > 0 {
			cmd.Printf("  chunks still deferred after retry: %v\n", report.DeferredChunks)
		}
	}
	return nil
}
