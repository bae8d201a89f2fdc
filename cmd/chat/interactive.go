package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	appleai "github.com/gaodeng/apple-on-device-ai"
	"github.com/gaodeng/apple-on-device-ai/bridge"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#5F5FD7")).
			Padding(0, 1)

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#87CEEB"))

	modelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type chatModel struct {
	bridge    *bridge.Bridge
	program   *tea.Program
	input     textinput.Model
	history   []turn
	current   strings.Builder
	streaming bool
	err       error
	avail     appleai.Availability
}

type turn struct {
	user  string
	model string
}

type chunkMsg appleai.Delivery

type streamStartedMsg struct{ err error }

func newChatModel(b *bridge.Bridge) *chatModel {
	input := textinput.New()
	input.Placeholder = "Ask the on-device model…"
	input.Focus()
	input.CharLimit = 2000

	return &chatModel{
		bridge: b,
		input:  input,
		avail:  b.Availability(),
	}
}

func (m *chatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.streaming || strings.TrimSpace(m.input.Value()) == "" {
				return m, nil
			}
			prompt := m.input.Value()
			m.input.Reset()
			return m, m.startStream(prompt)
		}

	case streamStartedMsg:
		if msg.err != nil {
			m.streaming = false
			m.err = msg.err
		}
		return m, nil

	case chunkMsg:
		d := appleai.Delivery(msg)
		switch {
		case d.End():
			m.history = append(m.history, turn{
				user:  m.pendingPrompt(),
				model: m.current.String(),
			})
			m.current.Reset()
			m.streaming = false
		case d.Err != nil:
			m.err = d.Err
		default:
			m.current.WriteString(d.Text)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *chatModel) pendingPrompt() string {
	if len(m.history) > 0 && m.history[len(m.history)-1].model == "" {
		last := m.history[len(m.history)-1]
		m.history = m.history[:len(m.history)-1]
		return last.user
	}
	return ""
}

// startStream kicks off a streaming call; chunks come back through
// program.Send, which is safe to call from the bridge's loop goroutine.
func (m *chatModel) startStream(prompt string) tea.Cmd {
	m.streaming = true
	m.err = nil
	m.history = append(m.history, turn{user: prompt})

	return func() tea.Msg {
		messages, err := encodeMessages(prompt)
		if err != nil {
			return streamStartedMsg{err: err}
		}
		err = m.bridge.GenerateStream(appleai.StreamUnified,
			appleai.GenerateRequest{Messages: messages},
			func(d appleai.Delivery) {
				m.program.Send(chunkMsg(d))
			})
		return streamStartedMsg{err: err}
	}
}

func (m *chatModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("apple-on-device-ai"))
	b.WriteString("\n")
	if !m.avail.Available {
		b.WriteString(errorStyle.Render("model unavailable: " + m.avail.Reason))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	for _, turn := range m.history {
		if turn.user != "" {
			b.WriteString(userStyle.Render("you: "))
			b.WriteString(turn.user)
			b.WriteString("\n")
		}
		if turn.model != "" {
			b.WriteString(modelStyle.Render(turn.model))
			b.WriteString("\n\n")
		}
	}

	if m.streaming {
		b.WriteString(modelStyle.Render(m.current.String()))
		b.WriteString("▋\n\n")
	}

	if m.err != nil {
		b.WriteString(errorStyle.Render("error: " + m.err.Error()))
		b.WriteString("\n\n")
	}

	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter: send • esc: quit"))
	b.WriteString("\n")

	return b.String()
}

func runInteractive(b *bridge.Bridge) error {
	model := newChatModel(b)
	p := tea.NewProgram(model)
	model.program = p
	_, err := p.Run()
	return err
}
