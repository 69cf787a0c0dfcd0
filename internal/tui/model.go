// Package tui is an interactive question prompt over the RAG service.
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

	"ragmerge/internal/domain"
	"ragmerge/internal/session"
)

const requestTimeout = 5 * time.Minute

// RAGPort is the TUI-facing subset of the RAG service.
type RAGPort interface {
	Ask(ctx context.Context, question, sessionID string) (domain.Answer, error)
	Upload(ctx context.Context, sessionID, path string) (string, session.FileInfo, error)
}

type answerMsg struct {
	question string
	answer   domain.Answer
	err      error
}

type uploadMsg struct {
	id   string
	info session.FileInfo
	err  error
}

// Model is the Bubble Tea model for the TUI application. Page 0 shows the
// answer, the following pages show the passages it was built from.
type Model struct {
	service   RAGPort
	input     textinput.Model
	viewport  viewport.Model
	answer    domain.Answer
	hasAnswer bool
	sessionID string
	summary   string
	status    string
	cursor    int
	ready     bool
	busy      bool
	lastQuery string
}

// New creates a new TUI model instance.
func New(service RAGPort, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question, or /upload <file>, /new, /session"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{service: service, input: ti, viewport: vp, summary: summary, status: "Ready."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1
		vh := msg.Height - reserved
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderPage())
		return m, nil
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.hasAnswer = false
		} else {
			m.answer, m.hasAnswer = msg.answer, true
			m.cursor = 0
			m.lastQuery = msg.question
			m.status = fmt.Sprintf("Answer for %q (%d passages)", msg.question, len(msg.answer.Passages))
			if msg.answer.Cached {
				m.status += " [cached]"
			}
		}
		m.viewport.SetContent(m.renderPage())
		return m, nil
	case uploadMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Upload failed: " + msg.err.Error()
			return m, nil
		}
		m.sessionID = msg.id
		m.status = fmt.Sprintf("Added %s (%d chunks) to session %s", msg.info.Filename, msg.info.Chunks, shortID(msg.id))
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			if line == "" || m.busy {
				return m, nil
			}
			m.input.SetValue("")
			return m.submit(line)
		case "down":
			if n := m.pages(); n > 1 {
				m.cursor = (m.cursor + 1) % n
				m.viewport.SetContent(m.renderPage())
				return m, nil
			}
		case "up":
			if n := m.pages(); n > 1 {
				m.cursor = (m.cursor - 1 + n) % n
				m.viewport.SetContent(m.renderPage())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit(line string) (tea.Model, tea.Cmd) {
	switch {
	case line == "/new":
		m.sessionID = ""
		m.status = "Session detached; questions use the permanent index only."
		return m, nil
	case line == "/session":
		if m.sessionID == "" {
			m.status = "No session. Use /upload <file> to start one."
		} else {
			m.status = "Session " + m.sessionID
		}
		return m, nil
	case strings.HasPrefix(line, "/upload"):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/upload"))
		if path == "" {
			m.status = "Usage: /upload <file>"
			return m, nil
		}
		m.busy = true
		m.status = "Indexing " + path + "..."
		svc, id := m.service, m.sessionID
		return m, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			newID, info, err := svc.Upload(ctx, id, path)
			return uploadMsg{id: newID, info: info, err: err}
		}
	}
	m.busy = true
	m.status = "Thinking..."
	svc, id := m.service, m.sessionID
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		a, err := svc.Ask(ctx, line, id)
		return answerMsg{question: line, answer: a, err: err}
	}
}

// View renders the TUI layout and current page.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	title := "RAG Search"
	if m.sessionID != "" {
		title += "  session " + shortID(m.sessionID)
	}
	header := lipgloss.NewStyle().Bold(true).Render(title)
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) pages() int {
	if !m.hasAnswer {
		return 0
	}
	return 1 + len(m.answer.Passages)
}

func (m Model) renderPage() string {
	if !m.hasAnswer {
		return "No answer yet."
	}
	if m.cursor == 0 {
		hint := ""
		if len(m.answer.Passages) > 0 {
			hint = "\n\n" + lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render("up/down: browse passages")
		}
		return lipgloss.NewStyle().Bold(true).Render("Answer") + "\n\n" + m.answer.Answer + hint
	}
	title := fmt.Sprintf("Passage %d/%d", m.cursor, len(m.answer.Passages))
	return title + "\n\n" + highlightBestSentence(m.answer.Passages[m.cursor-1], m.lastQuery)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
