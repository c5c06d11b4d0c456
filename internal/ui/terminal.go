package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/muesli/reflow/wordwrap"

	"github.com/samsaffron/term-chat/internal/conversation"
	"github.com/samsaffron/term-chat/internal/dispatch"
	"github.com/samsaffron/term-chat/internal/toolcall"
)

// TerminalOptions configures a Terminal surface.
type TerminalOptions struct {
	// Width wraps streamed text; 0 disables wrapping.
	Width int
	// Markdown suppresses live text and renders the final answer with
	// glamour instead.
	Markdown bool
	// Status receives turn state lines; nil disables them.
	Status io.Writer
	Styles *Styles
}

// Terminal is a line-oriented surface for one-shot questions. Live text is
// streamed as it grows; an object that may still become a tool call is held
// back until it closes as plain text, turns into a record or the answer ends.
type Terminal struct {
	out    io.Writer
	wrap   *wordwrap.WordWrap
	opts   TerminalOptions
	styles *Styles

	mu      sync.Mutex
	printed string
	emitted int
	final   map[int]conversation.TurnState
}

// NewTerminal creates a surface writing to out.
func NewTerminal(out io.Writer, opts TerminalOptions) *Terminal {
	if opts.Styles == nil {
		opts.Styles = NewStyles(out, DefaultTheme())
	}
	t := &Terminal{
		out:    out,
		opts:   opts,
		styles: opts.Styles,
		final:  make(map[int]conversation.TurnState),
	}
	if opts.Width > 0 {
		t.wrap = wordwrap.NewWriter(opts.Width)
	}
	return t
}

// Render implements dispatch.Surface.
func (t *Terminal) Render(f dispatch.Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.opts.Markdown {
		if f.Final {
			fmt.Fprintln(t.out, RenderMarkdown(f.Answer.FullText(), t.markdownWidth()))
		}
		return
	}

	text := f.Text
	common := commonPrefix(t.printed, text)
	safe := len(text)
	if !f.Final {
		safe = holdFrom(text, common)
	}
	if safe > common {
		t.write(text[common:safe])
	}
	t.printed = text[:safe]

	if f.Final {
		t.flush()
		if !strings.HasSuffix(t.printed, "\n") {
			fmt.Fprintln(t.out)
		}
		t.printed = ""
	}
}

// holdFrom returns the offset of the first '{' at or after from that may
// still open a tool call, or len(text). An object whose first non-space byte
// is not a key quote never does. A keyed object is held until it closes and
// released when the closed object is not a call.
func holdFrom(text string, from int) int {
	for i := from; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		j := i + 1
		for j < len(text) && isSpace(text[j]) {
			j++
		}
		if j == len(text) {
			return i
		}
		if text[j] != '"' {
			continue
		}
		end := toolcall.ObjectEnd(text, i)
		if end < 0 || len(toolcall.Detect(text[i:end])) > 0 {
			return i
		}
		i = end - 1
	}
	return len(text)
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func (t *Terminal) write(s string) {
	if t.wrap == nil {
		io.WriteString(t.out, s)
		return
	}
	// The wrapper holds back the word in progress; emit only what it committed.
	t.wrap.Write([]byte(s))
	out := t.wrap.String()
	io.WriteString(t.out, out[t.emitted:])
	t.emitted = len(out)
}

func (t *Terminal) flush() {
	if t.wrap == nil {
		return
	}
	t.wrap.Close()
	out := t.wrap.String()
	io.WriteString(t.out, out[t.emitted:])
	t.wrap = wordwrap.NewWriter(t.opts.Width)
	t.emitted = 0
}

func (t *Terminal) markdownWidth() int {
	if t.opts.Width > 0 {
		return t.opts.Width
	}
	return 80
}

// TurnStateChanged implements dispatch.Surface.
func (t *Terminal) TurnStateChanged(index int, st conversation.TurnState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st.Terminal() {
		t.final[index] = st
	}
	if t.opts.Status == nil {
		return
	}
	switch st {
	case conversation.TurnExecutingTools, conversation.TurnStopped, conversation.TurnError:
		fmt.Fprintf(t.opts.Status, "%s\n", t.styles.State(st))
	}
}

// Outcome returns the terminal state reached by answer index, if any.
func (t *Terminal) Outcome(index int) (conversation.TurnState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.final[index]
	return st, ok
}

func commonPrefix(a, b string) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
