package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/samsaffron/term-chat/internal/conversation"
	"github.com/samsaffron/term-chat/internal/dispatch"
	"github.com/samsaffron/term-chat/internal/llm"
)

type invocation struct {
	Server string
	Tool   string
	Args   string
}

type fakeHost struct {
	mu    sync.Mutex
	calls []invocation
	tools []llm.Tool
	fn    func(ctx context.Context, server, tool string, args json.RawMessage) (json.RawMessage, error)
}

func (h *fakeHost) Invoke(ctx context.Context, server, tool string, args json.RawMessage) (json.RawMessage, error) {
	h.mu.Lock()
	h.calls = append(h.calls, invocation{Server: server, Tool: tool, Args: string(args)})
	h.mu.Unlock()
	if h.fn == nil {
		return json.RawMessage(`{"content":[{"type":"text","text":"ok"}]}`), nil
	}
	return h.fn(ctx, server, tool, args)
}

func (h *fakeHost) Manifest() []llm.Tool { return h.tools }

func (h *fakeHost) invocations() []invocation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]invocation(nil), h.calls...)
}

// syncSurface records everything the dispatcher shows; safe to read from the
// test goroutine.
type syncSurface struct {
	mu       sync.Mutex
	frames   []dispatch.Frame
	states   []conversation.TurnState
	terminal chan conversation.TurnState
}

func newSyncSurface() *syncSurface {
	return &syncSurface{terminal: make(chan conversation.TurnState, 8)}
}

func (s *syncSurface) Render(f dispatch.Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
}

func (s *syncSurface) TurnStateChanged(_ int, st conversation.TurnState) {
	s.mu.Lock()
	s.states = append(s.states, st)
	s.mu.Unlock()
	if st.Terminal() {
		s.terminal <- st
	}
}

func (s *syncSurface) seen() []conversation.TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]conversation.TurnState(nil), s.states...)
}

func (s *syncSurface) lastFrame() dispatch.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return dispatch.Frame{}
	}
	return s.frames[len(s.frames)-1]
}

type harness struct {
	ctx     context.Context
	loop    *dispatch.EventLoop
	surface *syncSurface
	ctrl    *Controller
	host    *fakeHost
}

func newHarness(t *testing.T, handler http.HandlerFunc, host *fakeHost, opts EngineOptions) *harness {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := llm.NewClient(llm.Config{BaseURL: srv.URL, Model: "test-model"}, nil, zerolog.Nop())
	var h Host
	if host != nil {
		h = host
	}
	engine := NewEngine(client, h, nil, opts, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	loop := dispatch.NewEventLoop()
	go loop.Run(ctx)

	surface := newSyncSurface()
	ctrl := NewController(ctx, engine, loop, surface, ControllerOptions{}, zerolog.Nop())
	t.Cleanup(func() {
		ctrl.Stop()
		ctrl.Wait()
		cancel()
	})
	return &harness{ctx: ctx, loop: loop, surface: surface, ctrl: ctrl, host: host}
}

func (h *harness) submit(t *testing.T, question string) int {
	t.Helper()
	var (
		idx int
		err error
	)
	if cerr := h.loop.Call(h.ctx, func() { idx, err = h.ctrl.Submit(question) }); cerr != nil {
		t.Fatal(cerr)
	}
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return idx
}

func (h *harness) waitTerminal(t *testing.T) conversation.TurnState {
	t.Helper()
	select {
	case st := <-h.surface.terminal:
		return st
	case <-time.After(10 * time.Second):
		t.Fatal("turn did not reach a terminal state")
		return conversation.TurnIdle
	}
}

func (h *harness) answer(t *testing.T, idx int) conversation.Answer {
	t.Helper()
	var a conversation.Answer
	if err := h.loop.Call(h.ctx, func() { a = h.ctrl.Snapshot().Answer(idx) }); err != nil {
		t.Fatal(err)
	}
	return a
}

// writeLine writes one NDJSON object and flushes it to the client.
func writeLine(t *testing.T, w http.ResponseWriter, content string, done bool) {
	t.Helper()
	line := map[string]any{
		"model":   "test-model",
		"message": map[string]any{"role": "assistant", "content": content},
		"done":    done,
	}
	data, err := json.Marshal(line)
	if err != nil {
		t.Error(err)
		return
	}
	fmt.Fprintf(w, "%s\n", data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// newTestTurn builds a turn whose updates can be inspected directly.
func newTestTurn(t *testing.T) *turn {
	t.Helper()
	return &turn{
		ctx:     context.Background(),
		index:   0,
		stop:    NewStopSignal(context.Background()),
		tracker: NewTracker(),
		queue:   dispatch.NewQueue(1024),
		log:     zerolog.Nop(),
	}
}

func drainUpdates(tt *turn) []dispatch.Update {
	return tt.queue.Drain(1 << 20)
}
