package mcp

import (
	"github.com/custodia-labs/testseek/internal/core/ports/driving"
)

// Limiter gates tool calls. Implemented by the core's tool limiter.
type Limiter interface {
	// Allow reserves one call for the tool or returns a rate-limited
	// error with a retry-after hint.
	Allow(tool string) error
}

// SourceOpener resolves an ingest source descriptor (a corpus file
// path) into a record source.
type SourceOpener func(path string) (driving.RecordSource, error)

// Ports aggregates all driving port interfaces required by the MCP
// server. This provides a single injection point for dependency
// injection.
type Ports struct {
	// Search provides retrieval capabilities.
	Search driving.SearchService

	// Ingest runs the ingestion pipeline. Optional; when nil the
	// ingest_tests tool reports the capability as unavailable.
	Ingest driving.IngestService

	// Health reports service health.
	Health driving.HealthService

	// OpenSource resolves ingest source descriptors. Required when
	// Ingest is set.
	OpenSource SourceOpener

	// Limiter gates tool calls. Optional; nil disables rate caps.
	Limiter Limiter
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p.Search == nil {
		return ErrMissingSearchService
	}
	if p.Health == nil {
		return ErrMissingHealthService
	}
	return nil
}

// allow consults the limiter when one is configured.
func (p *Ports) allow(tool string) error {
	if p.Limiter == nil {
		return nil
	}
	return p.Limiter.Allow(tool)
}
