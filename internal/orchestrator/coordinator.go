package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/samsaffron/term-chat/internal/conversation"
	"github.com/samsaffron/term-chat/internal/llm"
	"github.com/samsaffron/term-chat/internal/toolcall"
)

// MaxParallelTools is the upper bound on simultaneous tool executions.
const MaxParallelTools = 3

// DefaultToolTimeout bounds a single tool invocation.
const DefaultToolTimeout = 300 * time.Second

// Host executes named tools on named tool servers.
type Host interface {
	Invoke(ctx context.Context, server, tool string, args json.RawMessage) (json.RawMessage, error)
	// Manifest lists the available tools, passed to the model verbatim.
	Manifest() []llm.Tool
}

// CoordinatorOptions tunes tool execution.
type CoordinatorOptions struct {
	MaxParallel int
	Timeout     time.Duration
}

// Outcome is the result of one detected tool call.
type Outcome struct {
	Detection toolcall.Detection
	Result    string
	Err       error
	Duration  time.Duration
	// Discarded is set when the turn was stopped before the result was used.
	Discarded bool
}

// Coordinator executes detected tool calls against a Host.
type Coordinator struct {
	host Host
	opts CoordinatorOptions
	log  zerolog.Logger
}

// NewCoordinator creates a coordinator. MaxParallel is clamped to
// [1, MaxParallelTools].
func NewCoordinator(host Host, opts CoordinatorOptions, log zerolog.Logger) *Coordinator {
	if opts.MaxParallel <= 0 || opts.MaxParallel > MaxParallelTools {
		opts.MaxParallel = MaxParallelTools
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultToolTimeout
	}
	return &Coordinator{host: host, opts: opts, log: log.With().Str("component", "coordinator").Logger()}
}

// Execute runs every detection and returns one outcome per call in the
// original order. ToolCall records are emitted before any call starts and
// ToolResult records are emitted in call order as results become available.
// Failures become result strings; nothing here aborts the turn.
func (c *Coordinator) Execute(t *turn, dets []toolcall.Detection) []Outcome {
	outcomes := make([]Outcome, len(dets))
	for i, d := range dets {
		outcomes[i] = Outcome{Detection: d, Discarded: true}
		t.record(conversation.ToolCall(d.Canonical, d.ID), d.Raw)
	}

	var mu sync.Mutex
	ready := make(map[int]Outcome, len(dets))
	next := 0
	flush := func() {
		for {
			o, ok := ready[next]
			if !ok {
				return
			}
			delete(ready, next)
			next++
			if t.stop.Stopped() {
				continue
			}
			t.record(conversation.ToolResult(o.Result, o.Detection.ID), "")
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(c.opts.MaxParallel)
	for i, d := range dets {
		if t.stop.Stopped() {
			break
		}
		g.Go(func() error {
			o := c.invoke(t, d)
			mu.Lock()
			defer mu.Unlock()
			outcomes[i] = o
			if !o.Discarded {
				ready[i] = o
				flush()
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

type hostResult struct {
	raw json.RawMessage
	err error
}

func (c *Coordinator) invoke(t *turn, d toolcall.Detection) Outcome {
	out := Outcome{Detection: d}
	if t.stop.Stopped() {
		out.Discarded = true
		return out
	}

	server, tool := toolcall.SplitQualifiedName(d.Name)
	t.tracker.Begin()
	defer t.tracker.End()

	t.transient(fmt.Sprintf("🔧 %s %s\n", d.Name, previewArgs(d.Arguments, 72)))
	c.log.Info().Str("server", server).Str("tool", tool).Str("id", d.ID).Msg("invoking tool")

	start := time.Now()
	done := make(chan hostResult, 1)
	// The host call survives a stop; only its result is discarded.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(t.stop.Context()), c.opts.Timeout)
	go func() {
		defer cancel()
		if c.host == nil {
			done <- hostResult{err: errors.New("no tool host configured")}
			return
		}
		raw, err := c.host.Invoke(callCtx, server, tool, d.Arguments)
		done <- hostResult{raw: raw, err: err}
	}()

	timer := time.NewTimer(c.opts.Timeout)
	defer timer.Stop()

	var res hostResult
	select {
	case res = <-done:
	case <-timer.C:
		res.err = fmt.Errorf("timed out after %s", c.opts.Timeout)
	case <-t.stop.Context().Done():
		c.log.Info().Str("tool", d.Name).Msg("stopped while tool was running; result will be discarded")
		out.Discarded = true
		out.Duration = time.Since(start)
		return out
	}
	out.Duration = time.Since(start)

	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		res.err = fmt.Errorf("timed out after %s", c.opts.Timeout)
	}
	if res.err != nil {
		out.Err = res.err
		out.Result = fmt.Sprintf("Error: tool %s failed: %v", d.Name, res.err)
		c.log.Warn().Err(res.err).Str("tool", d.Name).Msg("tool failed")
		t.transient(fmt.Sprintf("❌ %s: %s\n", d.Name, res.err))
		return out
	}

	out.Result = FormatResult(res.raw)
	t.transient(fmt.Sprintf("✅ %s (%s)\n", d.Name, out.Duration.Round(time.Millisecond)))
	return out
}

// FormatResult renders a host result as text: the first content block's
// text when present, otherwise indented JSON, otherwise the raw bytes.
func FormatResult(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}

	var structured struct {
		Content []struct {
			Text *string `json:"text"`
		} `json:"content"`
	}
	if json.Unmarshal(trimmed, &structured) == nil &&
		len(structured.Content) > 0 && structured.Content[0].Text != nil {
		return *structured.Content[0].Text
	}

	var buf bytes.Buffer
	if json.Indent(&buf, trimmed, "", "  ") == nil {
		return buf.String()
	}
	return string(raw)
}

func previewArgs(args json.RawMessage, width int) string {
	s := strings.Join(strings.Fields(string(args)), " ")
	if s == "" || s == "{}" {
		return ""
	}
	return runewidth.Truncate(s, width, "…")
}
