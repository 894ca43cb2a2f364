// Package tui renders the chat in a terminal with Bubble Tea.
package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"phai/internal/domain"
	"phai/internal/usecase"
)

const sidebarWidth = 28

// Chat is the part of the coordinator the terminal UI drives.
type Chat interface {
	SendTurn(ctx context.Context, text string) bool
	NewChat(ctx context.Context)
	LoadChat(ctx context.Context, id string) bool
	DeleteChat(ctx context.Context, id string) bool
	Snapshot() []domain.Turn
	Conversations() []domain.Conversation
	State() usecase.State
	CanSend() bool
	ActiveID() string
	InitialScreen() bool
}

// RefreshMsg tells the model to re-read the coordinator.
type RefreshMsg struct{}

// Subscribe forwards coordinator changes to a running program. Coordinator
// calls are made from commands, never from Update, so send never blocks
// the event loop.
func Subscribe(c interface{ Subscribe(func()) }, p *tea.Program) {
	c.Subscribe(func() { p.Send(RefreshMsg{}) })
}

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	ctx    context.Context
	chat   Chat
	styles styles

	input   textinput.Model
	view    viewport.Model
	spinner spinner.Model

	convs    []domain.Conversation
	selected int
	width    int
	height   int
}

// New builds the model. ctx bounds every coordinator call it makes.
func New(ctx context.Context, chat Chat) Model {
	st := defaultStyles()

	ti := textinput.New()
	ti.Placeholder = "Ask PHAI anything... (Enter to send, Ctrl+C to exit)"
	ti.Prompt = "│ "
	ti.PromptStyle = st.Prompt
	ti.CharLimit = 4096
	ti.Width = 60
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = st.Spinner

	m := Model{
		ctx:     ctx,
		chat:    chat,
		styles:  st,
		input:   ti,
		view:    viewport.New(80, 20),
		spinner: sp,
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.refresh()
		return m, nil

	case RefreshMsg:
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.view, cmd = m.view.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	chat := m.chat
	switch msg.String() {
	case "ctrl+c", "esc":
		return tea.Quit, true

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" || !m.chat.CanSend() {
			return nil, true
		}
		m.input.Reset()
		return m.send(text), true

	case "ctrl+n":
		return m.call(func(ctx context.Context) { chat.NewChat(ctx) }), true

	case "ctrl+up":
		if m.selected > 0 {
			m.selected--
		}
		return nil, true

	case "ctrl+down":
		if m.selected < len(m.convs)-1 {
			m.selected++
		}
		return nil, true

	case "ctrl+o":
		if id, ok := m.selectedID(); ok {
			return m.call(func(ctx context.Context) { chat.LoadChat(ctx, id) }), true
		}
		return nil, true

	case "ctrl+d":
		if id, ok := m.selectedID(); ok {
			return m.call(func(ctx context.Context) { chat.DeleteChat(ctx, id) }), true
		}
		return nil, true
	}

	// Number keys pick a suggestion on the initial screen.
	if msg.Type == tea.KeyRunes && len(msg.Runes) == 1 && m.input.Value() == "" && m.chat.InitialScreen() && m.chat.CanSend() {
		idx := int(msg.Runes[0] - '1')
		if idx >= 0 && idx < len(usecase.SuggestedPrompts) {
			return m.send(usecase.SuggestedPrompts[idx]), true
		}
	}
	return nil, false
}

// send runs a turn off the event loop; the coordinator reports progress
// through RefreshMsg.
func (m Model) send(text string) tea.Cmd {
	chat, ctx := m.chat, m.ctx
	return func() tea.Msg {
		chat.SendTurn(ctx, text)
		return RefreshMsg{}
	}
}

func (m Model) call(fn func(context.Context)) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		fn(ctx)
		return RefreshMsg{}
	}
}

func (m Model) selectedID() (string, bool) {
	if m.selected < 0 || m.selected >= len(m.convs) {
		return "", false
	}
	return m.convs[m.selected].ID, true
}

func (m *Model) layout() {
	if m.width == 0 || m.height == 0 {
		return
	}
	w := m.width - sidebarWidth - 3
	if w < 20 {
		w = 20
	}
	h := m.height - 4
	if h < 3 {
		h = 3
	}
	m.view.Width = w
	m.view.Height = h
	m.input.Width = w - 4
}

// refresh re-reads the coordinator and re-renders the transcript.
func (m *Model) refresh() {
	m.convs = m.chat.Conversations()
	if m.selected >= len(m.convs) {
		m.selected = len(m.convs) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}

	var content string
	if m.chat.InitialScreen() {
		content = m.renderTurns(m.chat.Snapshot())
		if m.chat.CanSend() {
			if content != "" {
				content += "\n\n"
			}
			content += m.renderSuggestions()
		}
	} else {
		content = m.renderTurns(m.chat.Snapshot())
	}
	m.view.SetContent(lipgloss.NewStyle().Width(m.view.Width).Render(content))
	m.view.GotoBottom()

	if m.chat.CanSend() {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

func (m Model) View() string {
	main := lipgloss.JoinVertical(lipgloss.Left,
		m.view.View(),
		m.statusLine(),
		m.input.View(),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderSidebar(m.convs, m.chat.ActiveID()),
		" ",
		main,
	)
}

func (m Model) statusLine() string {
	switch m.chat.State() {
	case usecase.StateAwaitingResponse:
		return m.spinner.View() + m.styles.Status.Render(" PHAI is thinking...")
	case usecase.StateAnimating:
		return m.styles.Status.Render("PHAI is typing...")
	case usecase.StateUnavailable:
		return m.styles.Error.Render("Model unavailable. Check the API key and restart.")
	default:
		return m.styles.Status.Render("Ready")
	}
}
