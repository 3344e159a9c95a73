package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/testseek/internal/core/domain"
)

// Tool names, stable across versions.
const (
	toolSearchTests  = "search_tests"
	toolGetTestByKey = "get_test_by_key"
	toolFindSimilar  = "find_similar_tests"
	toolIngestTests  = "ingest_tests"
	toolCheckHealth  = "check_health"
)

// FilterInput is the whitelisted filter object accepted by the search
// tools.
type FilterInput struct {
	Tags               []string `json:"tags,omitempty" jsonschema:"require all of these tags"`
	Platforms          []string `json:"platforms,omitempty" jsonschema:"require all of these platforms"`
	Priority           string   `json:"priority,omitempty" jsonschema:"exact priority (Critical, High, Medium, Low)"`
	TestType           string   `json:"test_type,omitempty" jsonschema:"exact test type"`
	FolderPrefix       []string `json:"folder_prefix,omitempty" jsonschema:"folder path must start with this prefix"`
	RelatedKeys        []string `json:"related_keys,omitempty" jsonschema:"require any of these related issue keys"`
	ExternalKeyPattern string   `json:"external_key_pattern,omitempty" jsonschema:"anchored glob over the external key (* and ? only)"`
}

func (f *FilterInput) toDomain() *domain.Filter {
	if f == nil {
		return nil
	}
	return &domain.Filter{
		Tags:               f.Tags,
		Platforms:          f.Platforms,
		Priority:           f.Priority,
		TestType:           f.TestType,
		FolderPrefix:       f.FolderPrefix,
		RelatedKeys:        f.RelatedKeys,
		ExternalKeyPattern: f.ExternalKeyPattern,
	}
}

// SearchInput is the input schema for the search_tests tool.
type SearchInput struct {
	Query   string       `json:"query" jsonschema:"the search query text"`
	TopK    int          `json:"top_k,omitempty" jsonschema:"number of results to return (1-100, default 20)"`
	Filters *FilterInput `json:"filters,omitempty" jsonschema:"optional metadata filters"`
	Scope   string       `json:"scope,omitempty" jsonschema:"search scope: all, docs or steps (default all)"`
}

// HitOutput is one ranked search result.
type HitOutput struct {
	UID                string         `json:"uid"`
	Score              float64        `json:"score"`
	MatchedStepIndices []int          `json:"matched_step_indices"`
	Doc                domain.TestDoc `json:"doc"`
}

// SearchOutput is the output shape of the search tools.
type SearchOutput struct {
	Hits    []HitOutput `json:"hits"`
	Count   int         `json:"count"`
	Warning string      `json:"warning,omitempty"`
}

// GetTestInput is the input schema for the get_test_by_key tool.
type GetTestInput struct {
	ExternalKey string `json:"external_key" jsonschema:"tracker issue key to look up (e.g. FRAMED-1390)"`
}

// GetTestOutput is the output shape of the get_test_by_key tool.
type GetTestOutput struct {
	Doc domain.TestDoc `json:"doc"`
}

// SimilarInput is the input schema for the find_similar_tests tool.
// Exactly one of uid and external_key must be set.
type SimilarInput struct {
	UID         string `json:"uid,omitempty" jsonschema:"uid of the reference test"`
	ExternalKey string `json:"external_key,omitempty" jsonschema:"external key of the reference test"`
	TopK        int    `json:"top_k,omitempty" jsonschema:"number of similar tests to return (default 20)"`
	Scope       string `json:"scope,omitempty" jsonschema:"search scope: all, docs or steps (default all)"`
}

// IngestInput is the input schema for the ingest_tests tool.
type IngestInput struct {
	Paths []string `json:"paths" jsonschema:"corpus file paths to ingest"`
}

// IngestOutput is the output shape of the ingest_tests tool.
type IngestOutput struct {
	Reports []domain.IngestReport `json:"reports"`
}

// HealthOutput is the output shape of the check_health tool.
type HealthOutput struct {
	domain.HealthSnapshot
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        toolSearchTests,
		Description: "Search for tests using semantic search with optional metadata filters",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        toolGetTestByKey,
		Description: "Get a test by its tracker issue key",
	}, s.handleGetTestByKey)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        toolFindSimilar,
		Description: "Find tests similar to a given test, addressed by uid or external key",
	}, s.handleFindSimilar)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        toolIngestTests,
		Description: "Ingest test corpora from JSON export files",
	}, s.handleIngest)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        toolCheckHealth,
		Description: "Check the health of the retrieval service",
	}, s.handleCheckHealth)
}

func searchOutput(result *domain.SearchResult) SearchOutput {
	out := SearchOutput{
		Hits:    make([]HitOutput, len(result.Hits)),
		Count:   len(result.Hits),
		Warning: result.Warning,
	}
	for i, hit := range result.Hits {
		out.Hits[i] = HitOutput{
			UID:                hit.Doc.UID,
			Score:              hit.Score,
			MatchedStepIndices: hit.MatchedStepIndices,
			Doc:                hit.Doc,
		}
	}
	return out
}

// handleSearch handles the search_tests tool invocation.
func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	if err := s.ports.allow(toolSearchTests); err != nil {
		return nil, SearchOutput{}, mapError(err)
	}

	opts := domain.SearchOptions{
		TopK:   input.TopK,
		Filter: input.Filters.toDomain(),
		Scope:  domain.Scope(input.Scope),
	}
	result, err := s.ports.Search.Search(ctx, input.Query, opts)
	if err != nil {
		return nil, SearchOutput{}, mapError(err)
	}
	return nil, searchOutput(result), nil
}

// handleGetTestByKey handles the get_test_by_key tool invocation.
func (s *Server) handleGetTestByKey(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetTestInput,
) (*mcp.CallToolResult, GetTestOutput, error) {
	if err := s.ports.allow(toolGetTestByKey); err != nil {
		return nil, GetTestOutput{}, mapError(err)
	}

	doc, err := s.ports.Search.GetByExternalKey(ctx, input.ExternalKey)
	if err != nil {
		return nil, GetTestOutput{}, mapError(err)
	}
	return nil, GetTestOutput{Doc: *doc}, nil
}

// handleFindSimilar handles the find_similar_tests tool invocation.
func (s *Server) handleFindSimilar(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SimilarInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	if err := s.ports.allow(toolFindSimilar); err != nil {
		return nil, SearchOutput{}, mapError(err)
	}

	uid := input.UID
	switch {
	case uid != "" && input.ExternalKey != "":
		return nil, SearchOutput{}, mapError(fmt.Errorf(
			"%w: pass exactly one of uid and external_key", domain.ErrInvalidInput))
	case uid == "" && input.ExternalKey == "":
		return nil, SearchOutput{}, mapError(fmt.Errorf(
			"%w: pass one of uid and external_key", domain.ErrInvalidInput))
	case uid == "":
		doc, err := s.ports.Search.GetByExternalKey(ctx, input.ExternalKey)
		if err != nil {
			return nil, SearchOutput{}, mapError(err)
		}
		uid = doc.UID
	}

	opts := domain.SearchOptions{TopK: input.TopK, Scope: domain.Scope(input.Scope)}
	result, err := s.ports.Search.FindSimilar(ctx, uid, opts)
	if err != nil {
		return nil, SearchOutput{}, mapError(err)
	}
	return nil, searchOutput(result), nil
}

// handleIngest handles the ingest_tests tool invocation. Sources are
// processed in order; the first failure aborts the remainder.
func (s *Server) handleIngest(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input IngestInput,
) (*mcp.CallToolResult, IngestOutput, error) {
	if err := s.ports.allow(toolIngestTests); err != nil {
		return nil, IngestOutput{}, mapError(err)
	}
	if s.ports.Ingest == nil || s.ports.OpenSource == nil {
		return nil, IngestOutput{}, mapError(fmt.Errorf(
			"%w: ingestion is not configured on this server", domain.ErrInvalidInput))
	}
	if len(input.Paths) == 0 {
		return nil, IngestOutput{}, mapError(fmt.Errorf(
			"%w: at least one corpus path is required", domain.ErrInvalidInput))
	}

	var out IngestOutput
	for _, path := range input.Paths {
		report, err := s.ingestOne(ctx, path)
		if err != nil {
			return nil, IngestOutput{}, mapError(err)
		}
		out.Reports = append(out.Reports, *report)
	}
	return nil, out, nil
}

func (s *Server) ingestOne(ctx context.Context, path string) (*domain.IngestReport, error) {
	source, err := s.ports.OpenSource(path)
	if err != nil {
		return nil, err
	}
	defer source.Close()
	return s.ports.Ingest.Ingest(ctx, source)
}

// handleCheckHealth handles the check_health tool invocation.
func (s *Server) handleCheckHealth(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ struct{},
) (*mcp.CallToolResult, HealthOutput, error) {
	if err := s.ports.allow(toolCheckHealth); err != nil {
		return nil, HealthOutput{}, mapError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	snap, err := s.ports.Health.Check(ctx)
	if err != nil {
		return nil, HealthOutput{}, mapError(err)
	}
	return nil, HealthOutput{HealthSnapshot: *snap}, nil
}
