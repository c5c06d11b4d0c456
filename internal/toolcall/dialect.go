package toolcall

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Dialect names a tool-call JSON shape.
type Dialect string

const (
	// DialectNative is {"tool_call":{"name":..,"arguments":{..},"id":..}}.
	DialectNative Dialect = "native"
	// DialectAlternate is {"tool_calls":[{"function":{"name":..,"arguments":"<json>"}}]}.
	DialectAlternate Dialect = "alternate"
)

// Call is a parsed tool invocation in canonical form.
type Call struct {
	Name      string
	Arguments json.RawMessage
	ID        string
	// Dropped counts extra calls in an alternate payload that were ignored.
	Dropped int
}

var errMissingName = errors.New("tool call has no name")

type dialect struct {
	name    Dialect
	marker  string
	convert func(obj []byte) (Call, error)
}

// dialects is consulted in order; markers must not be substrings of each other.
var dialects = []dialect{
	{name: DialectNative, marker: `"tool_call"`, convert: convertNative},
	{name: DialectAlternate, marker: `"tool_calls"`, convert: convertAlternate},
}

// HasMarker reports whether text could contain a tool call.
func HasMarker(text string) bool {
	for _, d := range dialects {
		if strings.Contains(text, d.marker) {
			return true
		}
	}
	return false
}

type nativeEnvelope struct {
	ToolCall *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
		ID        string          `json:"id"`
	} `json:"tool_call"`
}

func convertNative(obj []byte) (Call, error) {
	var env nativeEnvelope
	if err := json.Unmarshal(obj, &env); err != nil {
		return Call{}, err
	}
	if env.ToolCall == nil {
		return Call{}, fmt.Errorf("missing tool_call object")
	}
	if env.ToolCall.Name == "" {
		return Call{}, errMissingName
	}
	args, err := normalizeArguments(env.ToolCall.Arguments)
	if err != nil {
		return Call{}, err
	}
	return Call{Name: env.ToolCall.Name, Arguments: args, ID: env.ToolCall.ID}, nil
}

type alternateEnvelope struct {
	ToolCalls []struct {
		ID       string `json:"id"`
		Function struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
}

func convertAlternate(obj []byte) (Call, error) {
	var env alternateEnvelope
	if err := json.Unmarshal(obj, &env); err != nil {
		return Call{}, err
	}
	if len(env.ToolCalls) == 0 {
		return Call{}, fmt.Errorf("empty tool_calls array")
	}
	first := env.ToolCalls[0]
	if first.Function.Name == "" {
		return Call{}, errMissingName
	}
	args, err := normalizeArguments(first.Function.Arguments)
	if err != nil {
		return Call{}, err
	}
	return Call{
		Name:      first.Function.Name,
		Arguments: args,
		ID:        first.ID,
		Dropped:   len(env.ToolCalls) - 1,
	}, nil
}

// normalizeArguments accepts an object or a string holding a JSON object and
// returns compact object JSON. Missing arguments become {}.
func normalizeArguments(raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return json.RawMessage("{}"), nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return json.RawMessage("{}"), nil
		}
		raw = json.RawMessage(s)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if buf.Len() == 0 || buf.Bytes()[0] != '{' {
		return nil, fmt.Errorf("arguments must be an object")
	}
	return json.RawMessage(buf.Bytes()), nil
}

// Canonical renders c in the native dialect.
func (c Call) Canonical() string {
	type inner struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
		ID        string          `json:"id,omitempty"`
	}
	args := c.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	data, err := json.Marshal(struct {
		ToolCall inner `json:"tool_call"`
	}{inner{Name: c.Name, Arguments: args, ID: c.ID}})
	if err != nil {
		return ""
	}
	return string(data)
}
