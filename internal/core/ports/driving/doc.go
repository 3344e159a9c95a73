// Package driving provides interfaces for primary adapters (driving
// ports): the operations the MCP tool surface, the CLI and the TUI call
// into the core with.
package driving
