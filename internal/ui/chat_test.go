package ui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/samsaffron/term-chat/internal/conversation"
	"github.com/samsaffron/term-chat/internal/dispatch"
)

type fakeConversation struct {
	state     *conversation.State
	busy      bool
	submitted []string
	stops     int
}

func newFakeConversation() *fakeConversation {
	return &fakeConversation{state: conversation.New()}
}

func (f *fakeConversation) Submit(q string) (int, error) {
	if f.busy {
		return 0, conversation.ErrTurnInProgress
	}
	idx, err := f.state.Begin(q)
	if err != nil {
		return 0, err
	}
	f.busy = true
	f.submitted = append(f.submitted, q)
	return idx, nil
}

func (f *fakeConversation) Stop()                          { f.stops++ }
func (f *fakeConversation) Busy() bool                     { return f.busy }
func (f *fakeConversation) Snapshot() *conversation.State { return f.state.Snapshot() }

func newTestChat(t *testing.T) (*ChatModel, *fakeConversation) {
	t.Helper()
	conv := newFakeConversation()
	m := NewChatModel("test-model", plainStyles())
	m.SetConversation(conv)
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	return m, conv
}

func TestChatSubmitsOnEnter(t *testing.T) {
	m, conv := newTestChat(t)

	m.textarea.SetValue("  what time is it?  ")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	if len(conv.submitted) != 1 || conv.submitted[0] != "what time is it?" {
		t.Fatalf("submitted = %q", conv.submitted)
	}
	if m.textarea.Value() != "" {
		t.Errorf("input not cleared: %q", m.textarea.Value())
	}
	if !strings.Contains(m.View(), "what time is it?") {
		t.Error("question missing from view")
	}
}

func TestChatIgnoresBlankInput(t *testing.T) {
	m, conv := newTestChat(t)
	m.textarea.SetValue("   ")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if len(conv.submitted) != 0 {
		t.Errorf("blank input submitted: %q", conv.submitted)
	}
}

func TestChatRejectsSubmitWhileBusy(t *testing.T) {
	m, conv := newTestChat(t)
	conv.busy = true

	m.textarea.SetValue("second")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if len(conv.submitted) != 0 {
		t.Fatal("submit should be refused while busy")
	}
	if m.textarea.Value() != "second" {
		t.Error("input should be kept while busy")
	}
	if !strings.Contains(m.View(), "still running") {
		t.Error("busy notice missing from view")
	}
}

func TestChatCtrlCStopsThenQuits(t *testing.T) {
	m, conv := newTestChat(t)
	conv.busy = true

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if conv.stops != 1 {
		t.Fatalf("stops = %d, want 1", conv.stops)
	}

	conv.busy = false
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("ctrl+c while idle should quit")
	}
}

func TestChatEscStopsOnlyWhenBusy(t *testing.T) {
	m, conv := newTestChat(t)
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if conv.stops != 0 {
		t.Fatal("esc while idle should not stop")
	}
	conv.busy = true
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if conv.stops != 1 {
		t.Errorf("stops = %d, want 1", conv.stops)
	}
}

func TestChatShowsLiveFrameThenFinalAnswer(t *testing.T) {
	m, conv := newTestChat(t)
	m.textarea.SetValue("hi")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})

	m.Update(runMsg(func() {
		m.TurnStateChanged(0, conversation.TurnStreaming)
		m.Render(dispatch.Frame{AnswerIndex: 0, Text: "partial reply"})
	}))
	if !strings.Contains(m.View(), "partial reply") {
		t.Fatalf("live text missing from view:\n%s", m.View())
	}
	if !strings.Contains(m.View(), "STREAMING") {
		t.Error("state label missing from status line")
	}

	if err := conv.state.AppendText(0, "Complete"); err != nil {
		t.Fatal(err)
	}
	conv.state.Finish(0)
	conv.busy = false
	answer := conv.state.Answer(0)
	m.Update(runMsg(func() {
		m.Render(dispatch.Frame{AnswerIndex: 0, Text: answer.FullText(), Answer: answer, Final: true})
		m.TurnStateChanged(0, conversation.TurnDone)
	}))
	view := m.View()
	if strings.Contains(view, "partial reply") {
		t.Error("live frame should be replaced by the stored answer")
	}
	if !strings.Contains(view, "Complete") {
		t.Errorf("final answer missing from view:\n%s", view)
	}
}

func TestTeaLoopDropsBeforeAttach(t *testing.T) {
	var l TeaLoop
	ran := false
	l.Post(func() { ran = true })
	if ran {
		t.Error("work ran without a program")
	}
}
