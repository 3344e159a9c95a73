package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	mcpserver "github.com/custodia-labs/testseek/internal/adapters/driving/mcp"
	"github.com/custodia-labs/testseek/internal/logger"
)

var (
	serveHTTP  string
	serveGrace time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the MCP tool surface",
	Long: `Starts the MCP server over stdio (the default, for assistant
integration) or over streamable HTTP with --http.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHTTP, "http", "", "serve over HTTP on this address instead of stdio")
	serveCmd.Flags().DurationVar(&serveGrace, "shutdown-grace", 30*time.Second, "graceful shutdown window")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if mcpPorts == nil {
		return errors.New("mcp ports not configured")
	}

	server, err := mcpserver.NewServer(mcpPorts)
	if err != nil {
		return fmt.Errorf("create mcp server: %w", err)
	}

	if serveHTTP != "" {
		logger.Info("Serving MCP over HTTP on %s", serveHTTP)
		return server.RunHTTP(cmd.Context(), serveHTTP, serveGrace)
	}
	logger.Info("Serving MCP over stdio")
	return server.Run(cmd.Context())
}
