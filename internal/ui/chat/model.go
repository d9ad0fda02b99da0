// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/knowflow-tui/internal/config"
	"github.com/jeranaias/knowflow-tui/internal/engine"
	"github.com/jeranaias/knowflow-tui/internal/model"
)

// inputHeight is the line count of the textarea.
const inputHeight = 3

// =============================================================================
// STYLES
// =============================================================================

var (
	outgoingHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("12")).
				Bold(true)

	incomingHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("10")).
				Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))
)

// =============================================================================
// MESSAGES
// =============================================================================

// TurnFinishedMsg reports the terminal state of a completed Send.
type TurnFinishedMsg struct {
	State engine.TurnState
	Err   error
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the bubbletea model for the chat surface.
type Model struct {
	eng    *engine.Engine
	buffer *DeltaBuffer

	input      textarea.Model
	transcript viewport.Model
	spin       spinner.Model
	renderer   *glamour.TermRenderer

	width  int
	height int
	ready  bool

	// streaming state for the active turn
	streaming     bool
	streamContent string
	cancelTurn    context.CancelFunc

	status string
}

// New creates the chat model wired to the engine. Deltas land in the
// buffer from the engine's goroutine; the tick loop repaints them.
func New(eng *engine.Engine, cfg *config.Config) *Model {
	input := textarea.New()
	input.Placeholder = "Ask your knowledge base..."
	input.CharLimit = 0
	input.SetHeight(inputHeight)
	input.ShowLineNumbers = false
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))

	buffer := NewDeltaBuffer(cfg.UI.BatchSize, cfg.UI.MaxFPS)
	eng.SetOnDelta(buffer.Write)

	return &Model{
		eng:    eng,
		buffer: buffer,
		input:  input,
		spin:   spin,
		status: "ready",
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return textarea.Blink
}

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.resize(msg)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.streaming && m.cancelTurn != nil {
				m.cancelTurn()
				m.status = "cancelling..."
				return m, nil
			}
			return m, tea.Quit

		case tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyEnter:
			return m.submit()
		}

	case StreamTickMsg:
		if !m.streaming {
			return m, nil
		}
		if content, ok := m.buffer.Flush(); ok {
			m.streamContent = content
			m.refreshTranscript()
		}
		return m, streamTickCmd(m.buffer.frameEvery)

	case TurnFinishedMsg:
		return m.finishTurn(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) resize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height

	transcriptHeight := msg.Height - inputHeight - 3
	if transcriptHeight < 1 {
		transcriptHeight = 1
	}

	if !m.ready {
		m.transcript = viewport.New(msg.Width, transcriptHeight)
		m.ready = true
	} else {
		m.transcript.Width = msg.Width
		m.transcript.Height = transcriptHeight
	}
	m.input.SetWidth(msg.Width - 2)

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(msg.Width-4),
	)
	if err == nil {
		m.renderer = renderer
	}

	m.refreshTranscript()
	return m, nil
}

// submit starts a turn from the textarea content.
func (m *Model) submit() (tea.Model, tea.Cmd) {
	if m.streaming {
		// The engine would reject the overlap anyway; keep typing.
		return m, nil
	}

	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}

	m.input.Reset()
	m.buffer.Reset()
	m.streamContent = ""
	m.streaming = true
	m.status = "thinking..."

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelTurn = cancel

	eng := m.eng
	send := func() tea.Msg {
		state, err := eng.Send(ctx, text)
		cancel()
		return TurnFinishedMsg{State: state, Err: err}
	}

	m.refreshTranscript()
	return m, tea.Batch(send, streamTickCmd(m.buffer.frameEvery), m.spin.Tick)
}

// finishTurn lands the UI after the engine's terminal transition.
func (m *Model) finishTurn(msg TurnFinishedMsg) (tea.Model, tea.Cmd) {
	m.streaming = false
	m.cancelTurn = nil

	if content, ok := m.buffer.ForceFlush(); ok {
		m.streamContent = content
	}

	switch {
	case msg.Err != nil:
		m.status = fmt.Sprintf("error: %v", msg.Err)
	case msg.State == engine.StateCancelled:
		m.status = "cancelled"
	case msg.State == engine.StateFailed:
		m.status = "failed"
	default:
		m.status = "ready"
	}

	m.refreshTranscript()
	m.transcript.GotoBottom()
	return m, nil
}

// =============================================================================
// VIEW
// =============================================================================

// View implements tea.Model.
func (m *Model) View() string {
	if !m.ready {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(m.transcript.View())
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	return b.String()
}

// refreshTranscript re-renders the message list into the viewport.
func (m *Model) refreshTranscript() {
	if !m.ready {
		return
	}

	var b strings.Builder
	msgs := m.eng.Messages()
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderMessage(msg))
	}

	atBottom := m.transcript.AtBottom()
	m.transcript.SetContent(b.String())
	if atBottom {
		m.transcript.GotoBottom()
	}
}

// renderMessage renders one message with its role header.
func (m *Model) renderMessage(msg *model.Message) string {
	var b strings.Builder

	switch msg.Role {
	case model.RoleOutgoing:
		b.WriteString(outgoingHeaderStyle.Render(msg.Role.DisplayName()))
		b.WriteString("\n")
		b.WriteString(msg.Content)
		b.WriteString("\n")

	case model.RoleIncoming:
		b.WriteString(incomingHeaderStyle.Render(msg.Role.DisplayName()))
		b.WriteString("\n")
		if msg.Loading() {
			// Live content comes from the buffer snapshot, not the
			// message itself, which the stream goroutine still owns.
			b.WriteString(m.streamContent)
			b.WriteString(" ")
			b.WriteString(m.spin.View())
			b.WriteString("\n")
		} else {
			b.WriteString(m.renderFinished(msg.DisplayContent()))
		}
	}

	return b.String()
}

// renderFinished renders a closed reply through glamour, falling back to
// plain text.
func (m *Model) renderFinished(content string) string {
	if m.renderer == nil {
		return content + "\n"
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content + "\n"
	}
	return out
}

// statusLine renders the bottom status bar, truncated to the terminal
// width.
func (m *Model) statusLine() string {
	left := "knowflow"
	right := m.status
	if m.streaming {
		right = m.spin.View() + " " + m.status
	}

	line := fmt.Sprintf(" %s | %s", left, right)
	if strings.HasPrefix(m.status, "error") || m.status == "failed" {
		return errorStyle.Render(runewidth.Truncate(line, m.width, "..."))
	}
	return statusStyle.Render(runewidth.Truncate(line, m.width, "..."))
}
