// Package tui is an interactive terminal search client.
package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"vaultsearch/internal/domain"
	"vaultsearch/internal/summarizer"
)

// SearchPort is the TUI-facing subset of the query service.
type SearchPort interface {
	Search(ctx context.Context, query string, topK int) ([]domain.Result, error)
}

const searchTimeout = 30 * time.Second

type resultsMsg struct {
	query   string
	results []domain.Result
	err     error
}

// Model is the Bubble Tea model of the search client.
type Model struct {
	search    SearchPort
	excerpts  *summarizer.Excerpter
	topK      int
	header    string
	input     textinput.Model
	viewport  viewport.Model
	results   []domain.Result
	status    string
	cursor    int
	ready     bool
	busy      bool
	lastQuery string
}

// New creates the model. header is shown under the title, typically the
// vault location and corpus size.
func New(search SearchPort, topK int, header string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Search your notes and press Enter"
	ti.Focus()
	if topK <= 0 {
		topK = 6
	}
	return Model{
		search:   search,
		excerpts: summarizer.New(),
		topK:     topK,
		header:   header,
		input:    ti,
		viewport: viewport.New(0, 0),
		status:   "Type to search. Up/Down to browse results, Ctrl+C to quit.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) runSearch(q string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
		defer cancel()
		res, err := m.search.Search(ctx, q, m.topK)
		return resultsMsg{query: q, results: res, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header lines, status, query box, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case resultsMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.results = nil
		} else {
			m.status = fmt.Sprintf("%d results for %q", len(msg.results), msg.query)
			m.results = msg.results
			m.cursor = 0
			m.lastQuery = msg.query
		}
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.busy {
				m.busy = true
				m.status = fmt.Sprintf("Searching for %q...", q)
				return m, m.runSearch(q)
			}
		case "down":
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		case "up":
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	title := lipgloss.NewStyle().Bold(true).Render("Vault Search")
	header := dimStyle.Render(m.header)
	input := queryBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return title + "\n" + header + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderCurrentResult() string {
	if len(m.results) == 0 {
		return "No results yet."
	}
	r := m.results[m.cursor]
	title := fmt.Sprintf("Result %d/%d  score=%.3f  %s", m.cursor+1, len(m.results), r.Score, pathStyle.Render(r.Path))
	tags := ""
	if len(r.Tags) > 0 {
		tags = dimStyle.Render(strings.Join(r.Tags, " ")) + "\n"
	}
	excerpt := m.excerpts.Excerpt(r.Content, m.lastQuery, 3)
	return title + "\n" + tags + "\n" + highlightQueryWords(excerpt, m.lastQuery)
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	pathStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	wordRe         = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
)

// highlightQueryWords renders every word of text that also occurs in query.
func highlightQueryWords(text, query string) string {
	q := map[string]struct{}{}
	for _, t := range wordRe.FindAllString(strings.ToLower(query), -1) {
		if len([]rune(t)) > 2 {
			q[t] = struct{}{}
		}
	}
	if len(q) == 0 {
		return text
	}
	return wordRe.ReplaceAllStringFunc(text, func(w string) string {
		if _, ok := q[strings.ToLower(w)]; ok {
			return highlightStyle.Render(w)
		}
		return w
	})
}
