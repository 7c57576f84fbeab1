// Package tui is the terminal chat surface for the job counselor.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fabfab/counselor/chat"
)

// Asker is the only entry point the chat surface needs.
type Asker interface {
	Ask(ctx context.Context, session *chat.Session, question string) (chat.Response, error)
}

type answerMsg struct {
	question string
	resp     chat.Response
	err      error
}

type Model struct {
	ctx     context.Context
	asker   Asker
	session *chat.Session
	title   string

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	render   *renderer

	exchanges []exchange
	status    string
	waiting   bool
	ready     bool
}

func New(ctx context.Context, asker Asker, session *chat.Session, title string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask the counselor and press Enter"
	ti.Focus()
	ti.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return Model{
		ctx:      ctx,
		asker:    asker,
		session:  session,
		title:    title,
		input:    ti,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		render:   newRenderer(80),
		status:   "Ready.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, frame := boxStyle.GetFrameSize()
		// title, input box and status line
		reserved := 1 + (1 + frame) + 1
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-frame)
		m.render = newRenderer(m.viewport.Width)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter {
			question := strings.TrimSpace(m.input.Value())
			if question == "" {
				return m, nil
			}
			if m.waiting {
				m.status = "Still answering the previous question."
				return m, nil
			}
			m.waiting = true
			m.status = "Thinking..."
			m.input.Reset()
			return m, tea.Batch(m.ask(question), m.spinner.Tick)
		}
		if msg.Type == tea.KeyPgUp || msg.Type == tea.KeyPgDown {
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case answerMsg:
		m.waiting = false
		if msg.err != nil {
			m.status = errorStyle.Render("Error: " + msg.err.Error())
			m.input.SetValue(msg.question)
			return m, nil
		}
		m.exchanges = append(m.exchanges, exchange{
			question: msg.question,
			answer:   msg.resp.Answer,
			sources:  sourceLabels(msg.resp.Sources),
		})
		m.status = fmt.Sprintf("%d turns in this session.", len(m.session.History()))
		m.refresh()
		m.viewport.GotoBottom()
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render(m.title)
	status := m.status
	if m.waiting {
		status = m.spinner.View() + " " + status
	}
	return header + "\n" +
		boxStyle.Render(m.viewport.View()) + "\n" +
		boxStyle.Render(m.input.View()) + "\n" +
		status
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.render.transcript(m.exchanges))
}

func (m Model) ask(question string) tea.Cmd {
	ctx, asker, session := m.ctx, m.asker, m.session
	return func() tea.Msg {
		resp, err := asker.Ask(ctx, session, question)
		return answerMsg{question: question, resp: resp, err: err}
	}
}

func sourceLabels(sources []chat.Source) []string {
	labels := make([]string, 0, len(sources))
	for _, src := range sources {
		labels = append(labels, fmt.Sprintf("%s at %s", src.Title, src.Employer))
	}
	return labels
}

// Run blocks until the user quits or ctx is cancelled.
func Run(ctx context.Context, asker Asker, session *chat.Session, title string) error {
	program := tea.NewProgram(New(ctx, asker, session, title), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
