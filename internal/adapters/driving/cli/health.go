package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var healthJSON bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the service's backends",
	RunE:  runHealth,
}

func init() {
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "output the snapshot as JSON")
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, _ []string) error {
	if healthService == nil {
		return errors.New("health service not configured")
	}

	snap, err := healthService.Check(cmd.Context())
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if healthJSON {
		return printJSON(cmd, snap)
	}

	cmd.Printf("Store reachable:    %t\n", snap.StoreReachable)
	cmd.Printf("Docs indexed:       %d\n", snap.DocCount)
	cmd.Printf("Steps indexed:      %d\n", snap.StepCount)
	cmd.Printf("Embedding provider: ok=%t model=%s\n", snap.EmbedProviderOK, snap.EmbedModel)
	if !snap.LastSuccessfulEmbedAt.IsZero() {
		cmd.Printf("Last embed:         %s\n", snap.LastSuccessfulEmbedAt.Format("2006-01-02 15:04:05 MST"))
	}
	cmd.Printf("Version:            %s\n", snap.Version)

	if !snap.StoreReachable || !snap.EmbedProviderOK {
		return errors.New("one or more backends are unhealthy")
	}
	return nil
}
