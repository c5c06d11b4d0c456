package ui

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/samsaffron/term-chat/internal/conversation"
	"github.com/samsaffron/term-chat/internal/dispatch"
)

func plainStyles() *Styles {
	return NewStyles(io.Discard, DefaultTheme())
}

func TestTerminalStreamsDeltas(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out, TerminalOptions{Styles: plainStyles()})

	term.Render(dispatch.Frame{Text: "Hel"})
	term.Render(dispatch.Frame{Text: "Hello"})
	if out.String() != "Hello" {
		t.Fatalf("output = %q", out.String())
	}
	term.Render(dispatch.Frame{Text: "Hello world", Final: true})
	if out.String() != "Hello world\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestTerminalHoldsBackPossibleToolCall(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out, TerminalOptions{Styles: plainStyles()})

	term.Render(dispatch.Frame{Text: "Checking. {\"tool_call\": {\"na"})
	if out.String() != "Checking. " {
		t.Fatalf("output = %q, want text before the brace only", out.String())
	}
	term.Render(dispatch.Frame{Text: "Checking. \n🔧 clock_now\n"})
	term.Render(dispatch.Frame{Text: "Checking. \n🔧 clock_now\nIt is noon.", Final: true})
	if want := "Checking. \n🔧 clock_now\nIt is noon.\n"; out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestTerminalReleasesBracesThatCannotOpenACall(t *testing.T) {
	tests := []struct {
		name   string
		frames []string
		live   string
	}{
		{
			name: "go code block",
			frames: []string{
				"Here is Go code: func main() {",
				"Here is Go code: func main() {\n\tfmt.Println(1)\n}\n\nThat prints one",
			},
			live: "Here is Go code: func main() {\n\tfmt.Println(1)\n}\n\nThat prints one",
		},
		{
			name:   "inline braces",
			frames: []string{"use {curly} braces"},
			live:   "use {curly} braces",
		},
		{
			name: "closed json object",
			frames: []string{
				`config: {"debug": tr`,
				`config: {"debug": true} and more`,
			},
			live: `config: {"debug": true} and more`,
		},
		{
			name:   "unclosed json object",
			frames: []string{`config: {"debug": tr`},
			live:   "config: ",
		},
		{
			name:   "brace at end of text",
			frames: []string{"open {  "},
			live:   "open ",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			term := NewTerminal(&out, TerminalOptions{Styles: plainStyles()})
			for _, f := range tt.frames {
				term.Render(dispatch.Frame{Text: f})
			}
			if out.String() != tt.live {
				t.Fatalf("live output = %q, want %q", out.String(), tt.live)
			}
			last := tt.frames[len(tt.frames)-1]
			term.Render(dispatch.Frame{Text: last, Final: true})
			if want := last + "\n"; out.String() != want {
				t.Errorf("final output = %q, want %q", out.String(), want)
			}
		})
	}
}

func TestTerminalHoldsCompleteCallUntilRecorded(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out, TerminalOptions{Styles: plainStyles()})

	term.Render(dispatch.Frame{Text: `Now {"role":"assistant","tool_calls":[{"function":{"name":"clock_now"}}]}`})
	if out.String() != "Now " {
		t.Fatalf("output = %q, want the call held back", out.String())
	}
}

func TestTerminalWraps(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out, TerminalOptions{Width: 10, Styles: plainStyles()})

	term.Render(dispatch.Frame{Text: "aaaa bbbb "})
	term.Render(dispatch.Frame{Text: "aaaa bbbb cccc dddd", Final: true})

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected wrapped output, got %q", out.String())
	}
	for _, line := range lines {
		if len(line) > 10 {
			t.Errorf("line %q exceeds width", line)
		}
	}
	if got := strings.Join(strings.Fields(out.String()), " "); got != "aaaa bbbb cccc dddd" {
		t.Errorf("words = %q", got)
	}
}

func TestTerminalMarkdownOnlyRendersFinal(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out, TerminalOptions{Markdown: true, Width: 60, Styles: plainStyles()})

	var answer conversation.Answer
	answer.AppendText("# Heading\n\nRendered paragraph.")

	term.Render(dispatch.Frame{Text: "# Head", Answer: answer})
	if out.Len() != 0 {
		t.Fatalf("live frame printed %q in markdown mode", out.String())
	}
	term.Render(dispatch.Frame{Text: answer.FullText(), Answer: answer, Final: true})
	if !strings.Contains(out.String(), "Rendered") {
		t.Errorf("markdown output missing text: %q", out.String())
	}
}

func TestTerminalStatusAndOutcome(t *testing.T) {
	var out, status bytes.Buffer
	term := NewTerminal(&out, TerminalOptions{Status: &status, Styles: plainStyles()})

	term.TurnStateChanged(0, conversation.TurnStreaming)
	term.TurnStateChanged(0, conversation.TurnExecutingTools)
	term.TurnStateChanged(0, conversation.TurnStopped)

	if !strings.Contains(status.String(), "EXECUTING_TOOLS") || !strings.Contains(status.String(), "STOPPED") {
		t.Errorf("status = %q", status.String())
	}
	if strings.Contains(status.String(), "STREAMING") {
		t.Errorf("streaming should not produce a status line: %q", status.String())
	}
	if st, ok := term.Outcome(0); !ok || st != conversation.TurnStopped {
		t.Errorf("Outcome = %v, %v", st, ok)
	}
	if _, ok := term.Outcome(1); ok {
		t.Error("unexpected outcome for answer 1")
	}
}

func TestRenderMarkdownEmpty(t *testing.T) {
	if got := RenderMarkdown("", 80); got != "" {
		t.Errorf("RenderMarkdown(\"\") = %q", got)
	}
}
