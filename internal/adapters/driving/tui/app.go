// Package tui provides the interactive terminal search browser: a query
// input on top, ranked hits below, and a detail pane for the selected
// test.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/custodia-labs/testseek/internal/core/domain"
	"github.com/custodia-labs/testseek/internal/core/ports/driving"
)

// Styles for the search browser.
var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	scoreStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	detailStyle   = lipgloss.NewStyle().PaddingLeft(4)
)

// maxVisibleHits bounds the result pane.
const maxVisibleHits = 10

// searchResultMsg carries a completed search back into the model.
type searchResultMsg struct {
	result *domain.SearchResult
	err    error
}

// Model is the bubbletea model for the search browser.
type Model struct {
	ctx      context.Context
	search   driving.SearchService
	input    textinput.Model
	result   *domain.SearchResult
	selected int
	detail   bool
	err      error
	quitting bool
}

// NewModel creates the search browser model.
func NewModel(ctx context.Context, search driving.SearchService, initialQuery string) Model {
	input := textinput.New()
	input.Placeholder = "describe the test you are looking for"
	input.CharLimit = 512
	input.Width = 60
	input.SetValue(initialQuery)
	input.Focus()

	return Model{
		ctx:    ctx,
		search: search,
		input:  input,
	}
}

// Init starts the browser, searching immediately when a query was given.
func (m Model) Init() tea.Cmd {
	if strings.TrimSpace(m.input.Value()) != "" {
		return m.runSearch()
	}
	return textinput.Blink
}

func (m Model) runSearch() tea.Cmd {
	query := m.input.Value()
	search := m.search
	ctx := m.ctx
	return func() tea.Msg {
		result, err := search.Search(ctx, query, domain.SearchOptions{TopK: maxVisibleHits})
		return searchResultMsg{result: result, err: err}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case searchResultMsg:
		m.err = msg.err
		m.result = msg.result
		m.selected = 0
		m.detail = false
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			if m.detail {
				m.detail = false
				return m, nil
			}
			m.quitting = true
			return m, tea.Quit

		case "enter":
			if m.input.Focused() {
				if strings.TrimSpace(m.input.Value()) == "" {
					return m, nil
				}
				m.input.Blur()
				return m, m.runSearch()
			}
			m.detail = !m.detail
			return m, nil

		case "/":
			if !m.input.Focused() {
				m.input.Focus()
				return m, textinput.Blink
			}

		case "up", "k":
			if !m.input.Focused() && m.selected > 0 {
				m.selected--
				return m, nil
			}

		case "down", "j":
			if !m.input.Focused() && m.result != nil && m.selected < len(m.result.Hits)-1 {
				m.selected++
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the browser.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("testseek"))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("error: %v", m.err)))
		b.WriteString("\n")
	case m.result != nil:
		m.renderHits(&b)
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter search/detail · ↑/↓ select · / edit query · esc quit"))
	return b.String()
}

func (m Model) renderHits(b *strings.Builder) {
	if m.result.Warning != "" {
		b.WriteString(warningStyle.Render("warning: " + m.result.Warning))
		b.WriteString("\n\n")
	}
	if len(m.result.Hits) == 0 {
		b.WriteString("No results.\n")
		return
	}

	for i, hit := range m.result.Hits {
		line := fmt.Sprintf("%s  %s", hit.Doc.Title, scoreStyle.Render(fmt.Sprintf("%.2f", hit.Score)))
		if hit.Doc.ExternalKey != "" {
			line = hit.Doc.ExternalKey + "  " + line
		}
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")

		if i == m.selected && m.detail {
			m.renderDetail(b, hit)
		}
	}
}

func (m Model) renderDetail(b *strings.Builder, hit domain.SearchHit) {
	var detail strings.Builder
	if hit.Doc.Description != "" {
		detail.WriteString(hit.Doc.Description)
		detail.WriteString("\n")
	}
	matched := make(map[int]bool, len(hit.MatchedStepIndices))
	for _, idx := range hit.MatchedStepIndices {
		matched[idx] = true
	}
	for _, step := range hit.Doc.Steps {
		marker := "  "
		if matched[step.Index] {
			marker = "* "
		}
		detail.WriteString(fmt.Sprintf("%s%d. %s\n", marker, step.Index, step.Action))
	}
	b.WriteString(detailStyle.Render(detail.String()))
	b.WriteString("\n")
}

// Run starts the interactive browser and blocks until it exits.
func Run(ctx context.Context, search driving.SearchService, initialQuery string) error {
	program := tea.NewProgram(NewModel(ctx, search, initialQuery))
	_, err := program.Run()
	return err
}
