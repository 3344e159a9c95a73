package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/testseek/internal/core/domain"
)

// stubSearch returns a canned result.
type stubSearch struct {
	result *domain.SearchResult
	err    error
}

func (s *stubSearch) Search(context.Context, string, domain.SearchOptions) (*domain.SearchResult, error) {
	return s.result, s.err
}

func (s *stubSearch) FindSimilar(context.Context, string, domain.SearchOptions) (*domain.SearchResult, error) {
	return s.result, s.err
}

func (s *stubSearch) GetByExternalKey(context.Context, string) (*domain.TestDoc, error) {
	return nil, domain.ErrNotFound
}

func twoHits() *domain.SearchResult {
	return &domain.SearchResult{Hits: []domain.SearchHit{
		{Doc: domain.TestDoc{UID: "A", ExternalKey: "K-1", Title: "login page loads"}, Score: 0.9,
			MatchedStepIndices: []int{1}},
		{Doc: domain.TestDoc{UID: "B", Title: "reset password"}, Score: 0.5},
	}}
}

func TestInitSearchesWhenQueryGiven(t *testing.T) {
	m := NewModel(context.Background(), &stubSearch{result: twoHits()}, "login")
	cmd := m.Init()
	require.NotNil(t, cmd)

	msg, ok := cmd().(searchResultMsg)
	require.True(t, ok)
	assert.Len(t, msg.result.Hits, 2)
}

func TestResultsRenderAndSelect(t *testing.T) {
	m := NewModel(context.Background(), &stubSearch{result: twoHits()}, "login")

	updated, _ := m.Update(searchResultMsg{result: twoHits()})
	model := updated.(Model)
	view := model.View()
	assert.Contains(t, view, "login page loads")
	assert.Contains(t, view, "reset password")
	assert.Contains(t, view, "K-1")

	// Selection keys only apply while the input is blurred.
	model.input.Blur()
	updated, _ = model.Update(tea.KeyMsg{Type: tea.KeyDown})
	model = updated.(Model)
	assert.Equal(t, 1, model.selected)

	updated, _ = model.Update(tea.KeyMsg{Type: tea.KeyUp})
	model = updated.(Model)
	assert.Equal(t, 0, model.selected)
}

func TestSearchErrorShown(t *testing.T) {
	m := NewModel(context.Background(), &stubSearch{err: errors.New("store down")}, "q")
	updated, _ := m.Update(searchResultMsg{err: errors.New("store down")})
	view := updated.(Model).View()
	assert.Contains(t, view, "store down")
}

func TestEscQuits(t *testing.T) {
	m := NewModel(context.Background(), &stubSearch{result: twoHits()}, "")
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.True(t, updated.(Model).quitting)
	require.NotNil(t, cmd)
}

func TestEnterTogglesDetail(t *testing.T) {
	m := NewModel(context.Background(), &stubSearch{result: twoHits()}, "login")
	updated, _ := m.Update(searchResultMsg{result: twoHits()})
	model := updated.(Model)
	model.input.Blur()

	updated, _ = model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	model = updated.(Model)
	assert.True(t, model.detail)

	view := model.View()
	assert.Contains(t, view, "login page loads")
}
