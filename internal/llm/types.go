package llm

import "encoding/json"

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the chat history sent to the endpoint.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolName names the tool whose result a tool message carries.
	ToolName string `json:"tool_name,omitempty"`
}

// ToolCall is a structured tool invocation attached to an assistant message.
type ToolCall struct {
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction names the tool and its arguments object.
type ToolCallFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Tool is one manifest entry passed through to the endpoint verbatim.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a callable tool.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Model     string         `json:"model"`
	Messages  []Message      `json:"messages"`
	Stream    bool           `json:"stream"`
	Tools     []Tool         `json:"tools,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
	KeepAlive string         `json:"keep_alive,omitempty"`
}

// Chunk is one decoded line of a streaming response.
type Chunk struct {
	Content    string
	Done       bool
	DoneReason string
	Model      string
	EvalCount  int
}

// streamLine mirrors the endpoint's per-line JSON object.
type streamLine struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason,omitempty"`
	EvalCount  int    `json:"eval_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ModelInfo is one entry from GET /api/tags.
type ModelInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

// UserText creates a user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantText creates an assistant message.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// SystemText creates a system message.
func SystemText(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// ToolResultMessage creates a tool message carrying a result.
func ToolResultMessage(toolName, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolName: toolName}
}
