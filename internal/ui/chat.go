package ui

import (
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/samsaffron/term-chat/internal/conversation"
	"github.com/samsaffron/term-chat/internal/dispatch"
)

// Conversation is the controller the chat model drives. All methods are
// called from the bubbletea update goroutine.
type Conversation interface {
	Submit(question string) (int, error)
	Stop()
	Busy() bool
	Snapshot() *conversation.State
}

// runMsg carries work posted to the loop.
type runMsg func()

// TeaLoop is a dispatch.Loop that runs work inside a bubbletea program's
// Update, so the chat model is the single owner of what it displays. Work
// reaches Update in the order it was posted.
type TeaLoop struct {
	mu      sync.Mutex
	p       *tea.Program
	pending []func()
	sending bool
}

// Attach binds the loop to p. Work posted before Attach is dropped.
func (l *TeaLoop) Attach(p *tea.Program) {
	l.mu.Lock()
	l.p = p
	l.mu.Unlock()
}

// Post implements dispatch.Loop. Send blocks while Update runs, so a single
// sender goroutine delivers the pending work and Post never blocks.
func (l *TeaLoop) Post(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.p == nil {
		return
	}
	l.pending = append(l.pending, fn)
	if !l.sending {
		l.sending = true
		go l.send(l.p)
	}
}

func (l *TeaLoop) send(p *tea.Program) {
	for {
		l.mu.Lock()
		if len(l.pending) == 0 {
			l.sending = false
			l.mu.Unlock()
			return
		}
		fn := l.pending[0]
		l.pending = l.pending[1:]
		l.mu.Unlock()
		p.Send(runMsg(fn))
	}
}

// After implements dispatch.Loop.
func (l *TeaLoop) After(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { l.Post(fn) })
}

// ChatModel is the interactive chat surface.
type ChatModel struct {
	conv     Conversation
	styles   *Styles
	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	model    string

	width, height int
	ready         bool
	spinning      bool

	state    conversation.TurnState
	live     *dispatch.Frame
	rendered map[int]string
	notice   string
	dirty    bool
}

// NewChatModel creates the chat surface. SetConversation must be called
// before the program starts.
func NewChatModel(model string, styles *Styles) *ChatModel {
	if styles == nil {
		styles = DefaultStyles()
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Spinner

	ta := textarea.New()
	ta.Placeholder = "Ask anything... (enter to send, esc to stop, ctrl+c to quit)"
	ta.Prompt = "❯ "
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(1)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Base = lipgloss.NewStyle()
	ta.FocusedStyle.Placeholder = lipgloss.NewStyle().Foreground(styles.Theme().Muted)
	ta.FocusedStyle.Prompt = styles.Prompt
	ta.BlurredStyle = ta.FocusedStyle
	ta.Focus()

	return &ChatModel{
		styles:   styles,
		textarea: ta,
		viewport: viewport.New(80, 20),
		spinner:  s,
		model:    model,
		width:    80,
		height:   24,
		state:    conversation.TurnIdle,
		rendered: make(map[int]string),
	}
}

// SetConversation wires the controller.
func (m *ChatModel) SetConversation(c Conversation) {
	m.conv = c
	m.dirty = true
}

// Init implements tea.Model.
func (m *ChatModel) Init() tea.Cmd {
	return textarea.Blink
}

// Update implements tea.Model.
func (m *ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.textarea.SetWidth(msg.Width)
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-3, 1)
		m.rendered = make(map[int]string)
		m.ready = true
		m.dirty = true

	case runMsg:
		msg()

	case spinner.TickMsg:
		if !m.busy() {
			m.spinning = false
			break
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.busy() {
				m.conv.Stop()
				break
			}
			return m, tea.Quit
		case tea.KeyEsc:
			if m.busy() {
				m.conv.Stop()
			}
		case tea.KeyEnter:
			cmds = append(cmds, m.submit())
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			cmds = append(cmds, cmd)
		default:
			var cmd tea.Cmd
			m.textarea, cmd = m.textarea.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.busy() && !m.spinning {
		m.spinning = true
		cmds = append(cmds, m.spinner.Tick)
	}
	if m.dirty {
		m.refresh()
	}
	return m, tea.Batch(cmds...)
}

func (m *ChatModel) busy() bool {
	return m.conv != nil && m.conv.Busy()
}

func (m *ChatModel) submit() tea.Cmd {
	question := strings.TrimSpace(m.textarea.Value())
	if question == "" || m.conv == nil {
		return nil
	}
	if m.busy() {
		m.notice = "a turn is still running; esc to stop it"
		return nil
	}
	if _, err := m.conv.Submit(question); err != nil {
		m.notice = err.Error()
		return nil
	}
	m.notice = ""
	m.textarea.Reset()
	m.dirty = true
	return nil
}

// Render implements dispatch.Surface.
func (m *ChatModel) Render(f dispatch.Frame) {
	if f.Final {
		m.live = nil
		delete(m.rendered, f.AnswerIndex)
	} else {
		frame := f
		m.live = &frame
	}
	m.dirty = true
}

// TurnStateChanged implements dispatch.Surface.
func (m *ChatModel) TurnStateChanged(_ int, st conversation.TurnState) {
	m.state = st
	m.dirty = true
}

func (m *ChatModel) refresh() {
	m.dirty = false
	if m.conv == nil {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.transcript())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

// transcript renders every question and answer. Finished answers are
// rendered as markdown once per width; the live answer is wrapped only.
func (m *ChatModel) transcript() string {
	snap := m.conv.Snapshot()
	streaming, isStreaming := snap.StreamingIndex()
	width := max(m.width, 20)

	var b strings.Builder
	for i := 0; i < snap.Len(); i++ {
		b.WriteString(m.styles.Question.Render(snap.Question(i)))
		b.WriteString("\n\n")

		if isStreaming && i == streaming {
			if m.live != nil && m.live.AnswerIndex == i {
				b.WriteString(wordwrap.String(m.live.Text, width))
			}
		} else {
			out, ok := m.rendered[i]
			if !ok {
				out = RenderMarkdown(snap.Answer(i).FullText(), width)
				m.rendered[i] = out
			}
			b.WriteString(out)
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func (m *ChatModel) status() string {
	var parts []string
	if m.busy() {
		parts = append(parts, m.spinner.View()+" "+m.styles.State(m.state))
	} else if m.state != conversation.TurnIdle {
		parts = append(parts, m.styles.State(m.state))
	}
	if m.model != "" {
		parts = append(parts, m.styles.Muted.Render(m.model))
	}
	if m.notice != "" {
		parts = append(parts, m.styles.Warning.Render(m.notice))
	}
	return strings.Join(parts, m.styles.Muted.Render(" · "))
}

// View implements tea.Model.
func (m *ChatModel) View() string {
	return m.viewport.View() + "\n" + m.status() + "\n" + m.textarea.View()
}
