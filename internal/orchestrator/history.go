package orchestrator

import (
	"strings"

	"github.com/samsaffron/term-chat/internal/conversation"
	"github.com/samsaffron/term-chat/internal/llm"
	"github.com/samsaffron/term-chat/internal/toolcall"
)

// ReplayAnswer converts an answer into the assistant and tool messages that
// are sent back to the model. Prose is filtered of tool-call syntax, tool
// calls travel as structured tool_calls and each result becomes a tool
// message.
func ReplayAnswer(a conversation.Answer) []llm.Message {
	var (
		out   []llm.Message
		text  strings.Builder
		calls []llm.ToolCall
		names = map[string]string{}
	)

	flush := func() {
		content := strings.TrimSpace(toolcall.Filter(text.String()))
		if content != "" || len(calls) > 0 {
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: content, ToolCalls: calls})
		}
		text.Reset()
		calls = nil
	}

	for _, c := range a {
		switch c.Kind {
		case conversation.KindText:
			if len(calls) > 0 {
				flush()
			}
			text.WriteString(c.Content)
		case conversation.KindToolCall:
			call, ok := structuredCall(c.Content)
			if !ok {
				continue
			}
			names[c.ID] = call.Function.Name
			calls = append(calls, call)
		case conversation.KindToolResult:
			flush()
			out = append(out, llm.ToolResultMessage(names[c.ID], c.Content))
		}
	}
	flush()
	return out
}

func structuredCall(canonical string) (llm.ToolCall, bool) {
	dets := toolcall.DetectFinal(canonical)
	if len(dets) == 0 {
		return llm.ToolCall{}, false
	}
	return llm.ToolCall{Function: llm.ToolCallFunction{
		Name:      dets[0].Name,
		Arguments: dets[0].Arguments,
	}}, true
}

// BuildMessages assembles the request history: optional system prompt,
// every prior pair, then the current question and its answer so far.
func BuildMessages(system string, history []conversation.Pair, question string, current conversation.Answer) []llm.Message {
	var msgs []llm.Message
	if system != "" {
		msgs = append(msgs, llm.SystemText(system))
	}
	for _, p := range history {
		msgs = append(msgs, llm.UserText(p.Question))
		msgs = append(msgs, ReplayAnswer(p.Answer)...)
	}
	msgs = append(msgs, llm.UserText(question))
	msgs = append(msgs, ReplayAnswer(current)...)
	return msgs
}
