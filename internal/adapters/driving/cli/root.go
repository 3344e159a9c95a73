// Package cli provides the cobra command-line interface for Testseek.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	mcpserver "github.com/custodia-labs/testseek/internal/adapters/driving/mcp"
	"github.com/custodia-labs/testseek/internal/core/ports/driving"
	"github.com/custodia-labs/testseek/internal/logger"
)

var (
	// Services injected by cmd before Execute.
	searchService driving.SearchService
	ingestService driving.IngestService
	healthService driving.HealthService
	openSource    mcpserver.SourceOpener
	mcpPorts      *mcpserver.Ports

	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "testseek",
	Short: "Semantic retrieval over test-case corpora",
	Long: `Testseek indexes test cases and their execution steps in a two-tier
vector store and retrieves them by meaning rather than keywords.
It serves AI assistants over MCP and humans through this CLI.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verboseFlag)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable verbose logging")
}

// Services bundles everything the commands need.
type Services struct {
	Search     driving.SearchService
	Ingest     driving.IngestService
	Health     driving.HealthService
	OpenSource mcpserver.SourceOpener
	MCPPorts   *mcpserver.Ports
}

// SetServices injects the core services. Called by cmd during startup.
func SetServices(s Services) {
	searchService = s.Search
	ingestService = s.Ingest
	healthService = s.Health
	openSource = s.OpenSource
	mcpPorts = s.MCPPorts
}

// Execute runs the root command with the given context.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
