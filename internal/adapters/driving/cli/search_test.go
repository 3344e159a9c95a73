package cli

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/testseek/internal/core/domain"
)

// mockSearch implements driving.SearchService for command tests.
type mockSearch struct {
	result    *domain.SearchResult
	doc       *domain.TestDoc
	err       error
	lastQuery string
	lastOpts  domain.SearchOptions
}

func (m *mockSearch) Search(
	_ context.Context, query string, opts domain.SearchOptions,
) (*domain.SearchResult, error) {
	m.lastQuery = query
	m.lastOpts = opts
	return m.result, m.err
}

func (m *mockSearch) FindSimilar(
	_ context.Context, _ string, opts domain.SearchOptions,
) (*domain.SearchResult, error) {
	m.lastOpts = opts
	return m.result, m.err
}

func (m *mockSearch) GetByExternalKey(_ context.Context, key string) (*domain.TestDoc, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.doc == nil {
		return nil, fmt.Errorf("no test with external key %q: %w", key, domain.ErrNotFound)
	}
	return m.doc, nil
}

// runCommand executes the root command with args and captures output.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSearchCommandPrintsHits(t *testing.T) {
	search := &mockSearch{result: &domain.SearchResult{Hits: []domain.SearchHit{
		{
			Doc:                domain.TestDoc{UID: "A", ExternalKey: "K-1", Title: "login page loads"},
			Score:              0.91,
			MatchedStepIndices: []int{1, 2},
		},
	}}}
	SetServices(Services{Search: search})

	out, err := runCommand(t, "search", "user login", "--top-k", "5", "--priority", "High")
	require.NoError(t, err)

	assert.Contains(t, out, "login page loads")
	assert.Contains(t, out, "K-1")
	assert.Contains(t, out, "Matched steps: 1, 2")

	assert.Equal(t, "user login", search.lastQuery)
	assert.Equal(t, 5, search.lastOpts.TopK)
	require.NotNil(t, search.lastOpts.Filter)
	assert.Equal(t, "High", search.lastOpts.Filter.Priority)
}

func TestSearchCommandEmptyResults(t *testing.T) {
	SetServices(Services{Search: &mockSearch{result: &domain.SearchResult{}}})

	out, err := runCommand(t, "search", "nothing matches", "--priority", "")
	require.NoError(t, err)
	assert.Contains(t, out, "No results found.")
}

func TestSearchCommandRequiresService(t *testing.T) {
	SetServices(Services{})
	_, err := runCommand(t, "search", "query")
	assert.Error(t, err)
}

func TestGetCommand(t *testing.T) {
	doc := &domain.TestDoc{
		UID:         "K-1",
		ExternalKey: "K-1",
		Title:       "login page loads",
		Priority:    domain.PriorityHigh,
		FolderPath:  []string{"Auth", "Login"},
		Steps: []domain.TestStep{
			{Index: 1, Action: "enter username", Expected: []string{"field accepts input"}},
		},
	}
	SetServices(Services{Search: &mockSearch{doc: doc}})

	out, err := runCommand(t, "get", "K-1")
	require.NoError(t, err)
	assert.Contains(t, out, "login page loads")
	assert.Contains(t, out, "Folder: Auth/Login")
	assert.Contains(t, out, "1. enter username")
	assert.Contains(t, out, "Expect: field accepts input")
}

func TestGetCommandNotFound(t *testing.T) {
	SetServices(Services{Search: &mockSearch{}})
	_, err := runCommand(t, "get", "MISSING-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSimilarCommandAddressing(t *testing.T) {
	search := &mockSearch{
		result: &domain.SearchResult{},
		doc:    &domain.TestDoc{UID: "A", ExternalKey: "K-1", Title: "t"},
	}
	SetServices(Services{Search: search})

	_, err := runCommand(t, "similar", "A", "--key", "")
	require.NoError(t, err)

	_, err = runCommand(t, "similar", "--key", "K-1")
	require.NoError(t, err)

	_, err = runCommand(t, "similar", "A", "--key", "K-1")
	assert.Error(t, err)

	_, err = runCommand(t, "similar", "--key", "")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "testseek")
}
