package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/testseek/internal/core/domain"
	"github.com/custodia-labs/testseek/internal/core/ports/driving"
)

// mockSearchService implements driving.SearchService for testing.
type mockSearchService struct {
	result     *domain.SearchResult
	doc        *domain.TestDoc
	searchErr  error
	similarErr error
	lookupErr  error

	lastQuery string
	lastOpts  domain.SearchOptions
	lastUID   string
}

func (m *mockSearchService) Search(
	_ context.Context, query string, opts domain.SearchOptions,
) (*domain.SearchResult, error) {
	m.lastQuery = query
	m.lastOpts = opts
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.result, nil
}

func (m *mockSearchService) FindSimilar(
	_ context.Context, uid string, opts domain.SearchOptions,
) (*domain.SearchResult, error) {
	m.lastUID = uid
	m.lastOpts = opts
	if m.similarErr != nil {
		return nil, m.similarErr
	}
	return m.result, nil
}

func (m *mockSearchService) GetByExternalKey(_ context.Context, key string) (*domain.TestDoc, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	if m.doc == nil || m.doc.ExternalKey != key {
		return nil, fmt.Errorf("no test with external key %q: %w", key, domain.ErrNotFound)
	}
	return m.doc, nil
}

var _ driving.SearchService = (*mockSearchService)(nil)

// mockIngestService implements driving.IngestService for testing.
type mockIngestService struct {
	report    *domain.IngestReport
	ingestErr error
	sources   []string
}

func (m *mockIngestService) Ingest(
	_ context.Context, source driving.RecordSource,
) (*domain.IngestReport, error) {
	m.sources = append(m.sources, source.ID())
	if m.ingestErr != nil {
		return nil, m.ingestErr
	}
	report := *m.report
	report.SourceID = source.ID()
	return &report, nil
}

var _ driving.IngestService = (*mockIngestService)(nil)

// mockHealthService implements driving.HealthService for testing.
type mockHealthService struct {
	snap     *domain.HealthSnapshot
	checkErr error
}

func (m *mockHealthService) Check(context.Context) (*domain.HealthSnapshot, error) {
	if m.checkErr != nil {
		return nil, m.checkErr
	}
	return m.snap, nil
}

var _ driving.HealthService = (*mockHealthService)(nil)

// mockLimiter rejects the tools listed in blocked.
type mockLimiter struct {
	blocked map[string]bool
	calls   []string
}

func (m *mockLimiter) Allow(tool string) error {
	m.calls = append(m.calls, tool)
	if m.blocked[tool] {
		return &domain.RateLimitError{Tool: tool, RetryAfter: 1500 * time.Millisecond}
	}
	return nil
}

// stubSource is a no-op record source.
type stubSource struct{ id string }

func (s *stubSource) ID() string                       { return s.id }
func (s *stubSource) Next() (*domain.RawRecord, error) { return nil, nil }
func (s *stubSource) Close() error                     { return nil }
