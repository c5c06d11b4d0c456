package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/samsaffron/term-chat/internal/conversation"
	"github.com/samsaffron/term-chat/internal/dispatch"
)

// ControllerOptions configures a conversation controller.
type ControllerOptions struct {
	QueueSize int
	Dispatch  dispatch.Options
	// OnFinished receives a snapshot after every turn, on the loop.
	OnFinished func(index int, state conversation.TurnState, snapshot *conversation.State)
}

// Controller owns one conversation tab: its state, its stop signal and the
// turn currently in flight. Methods documented as loop-only must be called
// on the loop that the surface and dispatcher run on.
type Controller struct {
	ctx     context.Context
	engine  *Engine
	loop    dispatch.Loop
	surface dispatch.Surface
	opts    ControllerOptions
	log     zerolog.Logger
	stop    *StopSignal

	state  *conversation.State
	active *dispatch.Dispatcher
	wg     sync.WaitGroup
}

// NewController creates a controller with an empty conversation. ctx bounds
// the lifetime of all its workers.
func NewController(ctx context.Context, engine *Engine, loop dispatch.Loop, surface dispatch.Surface, opts ControllerOptions, log zerolog.Logger) *Controller {
	return &Controller{
		ctx:     ctx,
		engine:  engine,
		loop:    loop,
		surface: surface,
		opts:    opts,
		log:     log.With().Str("component", "controller").Logger(),
		stop:    NewStopSignal(ctx),
		state:   conversation.New(),
	}
}

// Submit starts a new turn for question. Loop only.
func (c *Controller) Submit(question string) (int, error) {
	if c.Busy() {
		return 0, conversation.ErrTurnInProgress
	}
	idx, err := c.state.Begin(question)
	if err != nil {
		return 0, err
	}

	c.stop.Reset()
	tracker := NewTracker()
	queue := dispatch.NewQueue(c.opts.QueueSize)

	dopts := c.opts.Dispatch
	dopts.Pending = tracker.InFlight
	dopts.Stopped = c.stop.Stopped
	dopts.OnFinished = c.opts.OnFinished
	d := dispatch.New(c.state, idx, queue, c.loop, c.surface, dopts, c.log)
	c.active = d

	t := &turn{
		ctx:      c.ctx,
		index:    idx,
		question: question,
		history:  c.state.History(idx),
		stop:     c.stop,
		tracker:  tracker,
		queue:    queue,
		log:      c.log.With().Int("answer", idx).Logger(),
	}

	c.surface.TurnStateChanged(idx, conversation.TurnStreaming)
	d.Start()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		st := c.engine.Run(t)
		t.log.Debug().Str("state", st.String()).Msg("worker finished")
	}()
	return idx, nil
}

// Stop asks the running turn to stop. Safe from any goroutine.
func (c *Controller) Stop() {
	c.stop.Stop()
}

// Stopped reports whether the current turn was asked to stop.
func (c *Controller) Stopped() bool {
	return c.stop.Stopped()
}

// Busy reports whether a turn is in flight. Loop only.
func (c *Controller) Busy() bool {
	return c.active != nil && !c.active.Finished()
}

// Snapshot returns a copy of the conversation. Loop only.
func (c *Controller) Snapshot() *conversation.State {
	return c.state.Snapshot()
}

// Load replaces the conversation, e.g. when resuming a stored session.
// Loop only.
func (c *Controller) Load(s *conversation.State) error {
	if c.Busy() {
		return conversation.ErrTurnInProgress
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	next := s.Snapshot()
	if idx, ok := next.StreamingIndex(); ok {
		next.Finish(idx)
	}
	c.state = next
	c.active = nil
	return nil
}

// SetDispatchOptions replaces the throttle settings used by later turns.
// Loop only.
func (c *Controller) SetDispatchOptions(opts dispatch.Options) {
	c.opts.Dispatch = opts
}

// Wait blocks until every worker started by Submit has returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}
