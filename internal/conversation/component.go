package conversation

import (
	"fmt"
	"strings"
)

// Kind identifies the variant of an answer Component.
type Kind string

const (
	KindText       Kind = "text"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
)

// Component is one element of an Answer. Text components carry generated
// prose, ToolCall components carry the canonical tool-invocation payload and
// ToolResult components carry the textual result correlated by ID.
type Component struct {
	Kind    Kind   `json:"type"`
	Content string `json:"content"`
	ID      string `json:"id,omitempty"`
}

// Text returns a text component.
func Text(s string) Component {
	return Component{Kind: KindText, Content: s}
}

// ToolCall returns a tool call component.
func ToolCall(content, id string) Component {
	return Component{Kind: KindToolCall, Content: content, ID: id}
}

// ToolResult returns a tool result component.
func ToolResult(content, id string) Component {
	return Component{Kind: KindToolResult, Content: content, ID: id}
}

func (c Component) validate() error {
	switch c.Kind {
	case KindText:
		if c.ID != "" {
			return fmt.Errorf("text component must not carry an id")
		}
	case KindToolCall, KindToolResult:
		if c.ID == "" {
			return fmt.Errorf("%s component requires an id", c.Kind)
		}
	default:
		return fmt.Errorf("unknown component type %q", c.Kind)
	}
	return nil
}

// Answer is the ordered sequence of components produced for one question.
type Answer []Component

// AppendText extends the trailing text component or starts a new one.
func (a *Answer) AppendText(s string) {
	if s == "" {
		return
	}
	if n := len(*a); n > 0 && (*a)[n-1].Kind == KindText {
		(*a)[n-1].Content += s
		return
	}
	*a = append(*a, Text(s))
}

// AppendToolCall appends a tool call component.
func (a *Answer) AppendToolCall(content, id string) {
	*a = append(*a, ToolCall(content, id))
}

// AppendToolResult appends a tool result component.
func (a *Answer) AppendToolResult(content, id string) {
	*a = append(*a, ToolResult(content, id))
}

// RecordToolCall appends a tool call whose raw text was already streamed into
// the answer as prose. The last occurrence of raw is cut out of the most
// recent text component containing it; a component left holding only
// whitespace is dropped.
func (a *Answer) RecordToolCall(raw, content, id string) {
	if raw != "" {
		for i := len(*a) - 1; i >= 0; i-- {
			c := (*a)[i]
			if c.Kind != KindText {
				continue
			}
			pos := strings.LastIndex(c.Content, raw)
			if pos < 0 {
				continue
			}
			rest := c.Content[:pos] + c.Content[pos+len(raw):]
			if strings.TrimSpace(rest) == "" {
				*a = append((*a)[:i], (*a)[i+1:]...)
			} else {
				(*a)[i].Content = strings.TrimRight(rest, " \t\n")
			}
			break
		}
	}
	a.AppendToolCall(content, id)
}

// Apply appends c honoring text coalescing.
func (a *Answer) Apply(c Component) {
	if c.Kind == KindText {
		a.AppendText(c.Content)
		return
	}
	*a = append(*a, c)
}

// Clone returns a deep copy.
func (a Answer) Clone() Answer {
	if a == nil {
		return nil
	}
	out := make(Answer, len(a))
	copy(out, a)
	return out
}

// FullText folds the answer into display text including tool payloads and
// result blocks.
func (a Answer) FullText() string {
	var sb strings.Builder
	for _, c := range a {
		switch c.Kind {
		case KindText:
			sb.WriteString(c.Content)
		case KindToolCall:
			ensureBreak(&sb)
			sb.WriteString(c.Content)
			sb.WriteString("\n")
		case KindToolResult:
			ensureBreak(&sb)
			sb.WriteString("```\n")
			sb.WriteString(c.Content)
			if !strings.HasSuffix(c.Content, "\n") {
				sb.WriteString("\n")
			}
			sb.WriteString("```\n")
		}
	}
	return sb.String()
}

// TextOnly folds the answer into its prose with tool components elided.
func (a Answer) TextOnly() string {
	var sb strings.Builder
	for _, c := range a {
		if c.Kind == KindText {
			sb.WriteString(c.Content)
		}
	}
	return sb.String()
}

// ToolCalls returns the tool call and result components in order.
func (a Answer) ToolCalls() []Component {
	var out []Component
	for _, c := range a {
		if c.Kind != KindText {
			out = append(out, c)
		}
	}
	return out
}

func ensureBreak(sb *strings.Builder) {
	if sb.Len() == 0 {
		return
	}
	if !strings.HasSuffix(sb.String(), "\n") {
		sb.WriteString("\n")
	}
}
