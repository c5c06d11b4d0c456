package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/samsaffron/term-chat/internal/conversation"
	"github.com/samsaffron/term-chat/internal/dispatch"
	"github.com/samsaffron/term-chat/internal/llm"
	"github.com/samsaffron/term-chat/internal/toolcall"
)

// Markers appended to an answer when a turn ends abnormally.
const (
	StoppedMarker = "\n\n[Stopped by user]"
	LimitMarker   = "\n\n[Continuation limit reached]"
)

// DefaultMaxContinuations bounds chained tool calls within one turn.
const DefaultMaxContinuations = 32

const continuationBanner = "\n\n---\n↪ continuing with tool results\n\n"

// ErrorMarker formats the marker for a fatal transport error.
func ErrorMarker(err error) string {
	return fmt.Sprintf("\n\n[Error: %v]", err)
}

// Streamer opens streaming chat requests.
type Streamer interface {
	ChatStream(ctx context.Context, req llm.ChatRequest) (*llm.StreamReader, error)
}

// EngineOptions configures the continuation engine.
type EngineOptions struct {
	Model             string
	SystemPrompt      string
	MaxContinuations  int
	ContinuationPause time.Duration
	Keeper            KeeperOptions
}

// Engine drives one turn: stream, detect tool calls, execute them and
// continue until the model answers without calling a tool.
type Engine struct {
	client  Streamer
	host    Host
	coord   *Coordinator
	scanner *toolcall.Scanner
	opts    EngineOptions
	log     zerolog.Logger
}

// NewEngine creates an engine. host may be nil when no tools are available.
func NewEngine(client Streamer, host Host, coord *Coordinator, opts EngineOptions, log zerolog.Logger) *Engine {
	if opts.MaxContinuations <= 0 {
		opts.MaxContinuations = DefaultMaxContinuations
	}
	if opts.ContinuationPause < 0 {
		opts.ContinuationPause = 0
	}
	log = log.With().Str("component", "engine").Logger()
	if coord == nil {
		coord = NewCoordinator(host, CoordinatorOptions{}, log)
	}
	return &Engine{
		client:  client,
		host:    host,
		coord:   coord,
		scanner: toolcall.NewScanner(log),
		opts:    opts,
		log:     log,
	}
}

// turn is the worker-side view of one answer turn. The answer here is a
// private mirror of what the consumer applies to the conversation, used to
// rebuild history for continuations.
type turn struct {
	ctx      context.Context
	index    int
	question string
	history  []conversation.Pair
	stop     *StopSignal
	tracker  *Tracker
	queue    *dispatch.Queue
	log      zerolog.Logger

	mu     sync.Mutex
	answer conversation.Answer
}

func (t *turn) push(u dispatch.Update) {
	u.AnswerIndex = t.index
	if err := t.queue.Push(t.ctx, u); err != nil {
		t.log.Debug().Err(err).Msg("dropping update")
	}
}

func (t *turn) text(s string) {
	t.mu.Lock()
	t.answer.AppendText(s)
	t.mu.Unlock()
	t.push(dispatch.Update{Chunk: s})
}

func (t *turn) transient(s string) {
	t.push(dispatch.Update{Chunk: s, Transient: true})
}

func (t *turn) record(c conversation.Component, raw string) {
	t.mu.Lock()
	if c.Kind == conversation.KindToolCall {
		t.answer.RecordToolCall(raw, c.Content, c.ID)
	} else {
		t.answer.Apply(c)
	}
	t.mu.Unlock()
	t.push(dispatch.Update{Record: &c, Raw: raw})
}

func (t *turn) snapshot() conversation.Answer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.answer.Clone()
}

func (t *turn) setState(st conversation.TurnState) {
	t.push(dispatch.Update{State: st})
}

func (t *turn) finish(st conversation.TurnState, marker string) conversation.TurnState {
	isErr := st == conversation.TurnError
	if marker != "" {
		t.mu.Lock()
		t.answer.AppendText(marker)
		t.mu.Unlock()
		t.push(dispatch.Update{Chunk: marker, IsError: isErr})
	}
	t.push(dispatch.Update{IsDone: true, IsError: isErr, State: st})
	return st
}

// Run executes the turn to a terminal state. It runs on a worker goroutine
// and talks to the consumer only through the turn's queue.
func (e *Engine) Run(t *turn) conversation.TurnState {
	defer t.tracker.Close()

	var tools []llm.Tool
	if e.host != nil {
		tools = e.host.Manifest()
	}

	for step := 0; ; step++ {
		if t.stop.Stopped() {
			return t.finish(conversation.TurnStopped, StoppedMarker)
		}
		if step > e.opts.MaxContinuations {
			e.log.Warn().Int("steps", step).Msg("continuation limit reached")
			return t.finish(conversation.TurnError, LimitMarker)
		}
		if step > 0 {
			t.setState(conversation.TurnContinuing)
			if !e.pause(t) {
				return t.finish(conversation.TurnStopped, StoppedMarker)
			}
			t.transient(continuationBanner)
		}

		t.setState(conversation.TurnStreaming)
		res := e.stream(t, tools)
		if res.stopped || t.stop.Stopped() {
			if res.conn != nil {
				res.conn.Close()
			}
			return t.finish(conversation.TurnStopped, StoppedMarker)
		}
		if res.err != nil {
			e.log.Error().Err(res.err).Int("step", step).Msg("stream failed")
			return t.finish(conversation.TurnError, ErrorMarker(res.err))
		}
		if len(res.dets) == 0 {
			return t.finish(conversation.TurnDone, "")
		}

		t.setState(conversation.TurnToolDetected)
		if res.conn != nil {
			t.tracker.Hold(Keep(res.conn, e.opts.Keeper, e.heartbeat(t, res.dets), e.log))
		}
		t.setState(conversation.TurnExecutingTools)
		e.coord.Execute(t, res.dets)
		t.tracker.Release()
	}
}

func (e *Engine) pause(t *turn) bool {
	if e.opts.ContinuationPause == 0 {
		return !t.stop.Stopped()
	}
	timer := time.NewTimer(e.opts.ContinuationPause)
	defer timer.Stop()
	select {
	case <-timer.C:
		return !t.stop.Stopped()
	case <-t.stop.Context().Done():
		return false
	}
}

func (e *Engine) heartbeat(t *turn, dets []toolcall.Detection) func(time.Duration, bool) {
	names := make([]string, len(dets))
	for i, d := range dets {
		names[i] = d.Name
	}
	label := strings.Join(names, ", ")
	return func(held time.Duration, alive bool) {
		if t.stop.Stopped() {
			return
		}
		status := fmt.Sprintf("⏳ waiting on %s (%s)\n", label, held.Round(time.Second))
		if !alive {
			status = fmt.Sprintf("⚠️ model connection closed while %s runs (%s)\n", label, held.Round(time.Second))
		}
		t.transient(status)
	}
}

type streamResult struct {
	dets    []toolcall.Detection
	conn    io.ReadCloser
	err     error
	stopped bool
}

// maxMarkerLen covers the longest dialect marker split across chunks.
const maxMarkerLen = len(`"tool_calls"`)

func (e *Engine) stream(t *turn, tools []llm.Tool) streamResult {
	if t.stop.Stopped() {
		return streamResult{stopped: true}
	}

	req := llm.ChatRequest{
		Model:    e.opts.Model,
		Messages: BuildMessages(e.opts.SystemPrompt, t.history, t.question, t.snapshot()),
		Tools:    tools,
	}
	reader, err := e.client.ChatStream(t.stop.Context(), req)
	if err != nil {
		if t.stop.Stopped() {
			return streamResult{stopped: true}
		}
		return streamResult{err: err}
	}

	var buf strings.Builder
	sawMarker := false
	for {
		if t.stop.Stopped() {
			reader.Close()
			return streamResult{stopped: true}
		}
		chunk, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			reader.Close()
			if t.stop.Stopped() {
				return streamResult{stopped: true}
			}
			return streamResult{err: err}
		}
		if t.stop.Stopped() {
			reader.Close()
			return streamResult{stopped: true}
		}

		if chunk.Content != "" {
			buf.WriteString(chunk.Content)
			t.text(chunk.Content)

			if !sawMarker {
				text := buf.String()
				from := len(text) - len(chunk.Content) - maxMarkerLen
				if from < 0 {
					from = 0
				}
				sawMarker = toolcall.HasMarker(text[from:])
			}
			if sawMarker && strings.Contains(chunk.Content, "}") {
				if dets := e.scanner.Detect(buf.String()); len(dets) > 0 {
					e.log.Debug().Int("calls", len(dets)).Msg("tool call detected mid-stream")
					return streamResult{dets: dets, conn: reader.Detach()}
				}
			}
		}
		if chunk.Done {
			break
		}
	}
	reader.Close()
	return streamResult{dets: e.scanner.DetectFinal(buf.String())}
}
