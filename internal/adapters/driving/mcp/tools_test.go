package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/testseek/internal/core/domain"
	"github.com/custodia-labs/testseek/internal/core/ports/driving"
)

func testDoc() domain.TestDoc {
	return domain.TestDoc{
		UID:         "FRAMED-1390",
		ExternalKey: "FRAMED-1390",
		Title:       "login page loads",
		Priority:    domain.PriorityHigh,
		IngestedAt:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newTestServer(t *testing.T, ports *Ports) *Server {
	t.Helper()
	server, err := NewServer(ports)
	require.NoError(t, err)
	return server
}

func defaultPorts() (*Ports, *mockSearchService, *mockIngestService, *mockHealthService) {
	doc := testDoc()
	search := &mockSearchService{
		result: &domain.SearchResult{Hits: []domain.SearchHit{
			{Doc: doc, Score: 0.91, MatchedStepIndices: []int{1}},
		}},
		doc: &doc,
	}
	ingest := &mockIngestService{report: &domain.IngestReport{DocsIn: 3, DocsWritten: 3, StepsWritten: 5}}
	health := &mockHealthService{snap: &domain.HealthSnapshot{
		StoreReachable: true, DocCount: 10, StepCount: 40,
		EmbedProviderOK: true, Version: Version,
	}}
	ports := &Ports{
		Search:     search,
		Ingest:     ingest,
		Health:     health,
		OpenSource: func(path string) (driving.RecordSource, error) { return &stubSource{id: path}, nil },
	}
	return ports, search, ingest, health
}

func TestNewServerValidatesPorts(t *testing.T) {
	_, err := NewServer(&Ports{})
	assert.ErrorIs(t, err, ErrMissingSearchService)

	_, err = NewServer(&Ports{Search: &mockSearchService{}})
	assert.ErrorIs(t, err, ErrMissingHealthService)

	_, err = NewServer(&Ports{Search: &mockSearchService{}, Health: &mockHealthService{}})
	assert.NoError(t, err)
}

func TestHandleSearch(t *testing.T) {
	ports, search, _, _ := defaultPorts()
	server := newTestServer(t, ports)

	_, out, err := server.handleSearch(context.Background(), nil, SearchInput{
		Query: "user login",
		TopK:  5,
		Scope: "all",
		Filters: &FilterInput{
			Priority: "High",
			Tags:     []string{"smoke"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, out.Count)
	require.Len(t, out.Hits, 1)
	assert.Equal(t, "FRAMED-1390", out.Hits[0].UID)
	assert.Equal(t, []int{1}, out.Hits[0].MatchedStepIndices)
	assert.Equal(t, "login page loads", out.Hits[0].Doc.Title)

	assert.Equal(t, "user login", search.lastQuery)
	assert.Equal(t, 5, search.lastOpts.TopK)
	assert.Equal(t, domain.Scope("all"), search.lastOpts.Scope)
	require.NotNil(t, search.lastOpts.Filter)
	assert.Equal(t, "High", search.lastOpts.Filter.Priority)
}

func TestHandleSearchMapsErrorKind(t *testing.T) {
	ports, search, _, _ := defaultPorts()
	search.searchErr = fmt.Errorf("%w: query text is required", domain.ErrInvalidInput)
	server := newTestServer(t, ports)

	_, _, err := server.handleSearch(context.Background(), nil, SearchInput{})
	require.Error(t, err)

	var envelope toolError
	require.NoError(t, json.Unmarshal([]byte(err.Error()), &envelope))
	assert.Equal(t, domain.KindInvalidInput, envelope.Kind)
}

func TestHandleSearchPartialWarningPassesThrough(t *testing.T) {
	ports, search, _, _ := defaultPorts()
	search.result.Warning = "step tier unavailable, results from doc tier only"
	server := newTestServer(t, ports)

	_, out, err := server.handleSearch(context.Background(), nil, SearchInput{Query: "q"})
	require.NoError(t, err)
	assert.Contains(t, out.Warning, "step tier unavailable")
}

func TestHandleGetTestByKey(t *testing.T) {
	ports, _, _, _ := defaultPorts()
	server := newTestServer(t, ports)

	_, out, err := server.handleGetTestByKey(context.Background(), nil, GetTestInput{ExternalKey: "FRAMED-1390"})
	require.NoError(t, err)
	assert.Equal(t, "login page loads", out.Doc.Title)

	_, _, err = server.handleGetTestByKey(context.Background(), nil, GetTestInput{ExternalKey: "NOPE-1"})
	require.Error(t, err)
	var envelope toolError
	require.NoError(t, json.Unmarshal([]byte(err.Error()), &envelope))
	assert.Equal(t, domain.KindNotFound, envelope.Kind)
}

func TestHandleFindSimilarAddressing(t *testing.T) {
	ports, search, _, _ := defaultPorts()
	server := newTestServer(t, ports)
	ctx := context.Background()

	// By uid.
	_, out, err := server.handleFindSimilar(ctx, nil, SimilarInput{UID: "FRAMED-1390", TopK: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, "FRAMED-1390", search.lastUID)

	// By external key, resolved through lookup.
	_, _, err = server.handleFindSimilar(ctx, nil, SimilarInput{ExternalKey: "FRAMED-1390"})
	require.NoError(t, err)
	assert.Equal(t, "FRAMED-1390", search.lastUID)

	// Both or neither are invalid.
	_, _, err = server.handleFindSimilar(ctx, nil, SimilarInput{UID: "a", ExternalKey: "b"})
	require.Error(t, err)
	_, _, err = server.handleFindSimilar(ctx, nil, SimilarInput{})
	require.Error(t, err)
}

func TestHandleIngest(t *testing.T) {
	ports, _, ingest, _ := defaultPorts()
	server := newTestServer(t, ports)

	_, out, err := server.handleIngest(context.Background(), nil, IngestInput{
		Paths: []string{"functional.json", "api.json"},
	})
	require.NoError(t, err)
	require.Len(t, out.Reports, 2)
	assert.Equal(t, "functional.json", out.Reports[0].SourceID)
	assert.Equal(t, []string{"functional.json", "api.json"}, ingest.sources)
}

func TestHandleIngestValidation(t *testing.T) {
	ports, _, _, _ := defaultPorts()
	server := newTestServer(t, ports)

	_, _, err := server.handleIngest(context.Background(), nil, IngestInput{})
	require.Error(t, err)

	ports.Ingest = nil
	server = newTestServer(t, ports)
	_, _, err = server.handleIngest(context.Background(), nil, IngestInput{Paths: []string{"x"}})
	require.Error(t, err)
}

func TestHandleCheckHealth(t *testing.T) {
	ports, _, _, _ := defaultPorts()
	server := newTestServer(t, ports)

	_, out, err := server.handleCheckHealth(context.Background(), nil, struct{}{})
	require.NoError(t, err)
	assert.True(t, out.StoreReachable)
	assert.Equal(t, int64(10), out.DocCount)
	assert.Equal(t, Version, out.Version)
}

func TestRateLimitEnvelope(t *testing.T) {
	ports, _, _, _ := defaultPorts()
	ports.Limiter = &mockLimiter{blocked: map[string]bool{toolSearchTests: true}}
	server := newTestServer(t, ports)

	_, _, err := server.handleSearch(context.Background(), nil, SearchInput{Query: "q"})
	require.Error(t, err)

	var envelope toolError
	require.NoError(t, json.Unmarshal([]byte(err.Error()), &envelope))
	assert.Equal(t, domain.KindRateLimited, envelope.Kind)
	assert.Equal(t, int64(1500), envelope.RetryAfterMS)

	// Other tools are unaffected.
	_, _, err = server.handleCheckHealth(context.Background(), nil, struct{}{})
	assert.NoError(t, err)
}

func TestInternalErrorsAreRedacted(t *testing.T) {
	ports, _, _, health := defaultPorts()
	health.checkErr = fmt.Errorf("pq: connection string contained a password")
	server := newTestServer(t, ports)

	_, _, err := server.handleCheckHealth(context.Background(), nil, struct{}{})
	require.Error(t, err)

	var envelope toolError
	require.NoError(t, json.Unmarshal([]byte(err.Error()), &envelope))
	assert.Equal(t, domain.KindInternal, envelope.Kind)
	assert.Equal(t, "internal error", envelope.Message)
	assert.NotContains(t, err.Error(), "password")
}
