package dispatch

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samsaffron/term-chat/internal/conversation"
)

// Loop schedules work on the single consumer context.
type Loop interface {
	// Post runs fn on the loop as soon as possible.
	Post(fn func())
	// After runs fn on the loop once d has elapsed.
	After(d time.Duration, fn func())
}

// Frame is one render of the answer being streamed.
type Frame struct {
	AnswerIndex int
	// Text is the live view including transient status lines.
	Text string
	// Answer is a copy of the stored answer.
	Answer conversation.Answer
	Final  bool
}

// Surface receives renders and turn state changes. It is only called on the
// loop.
type Surface interface {
	Render(f Frame)
	TurnStateChanged(index int, state conversation.TurnState)
}

// Options tunes batching and render throttling.
type Options struct {
	MaxBatch       int
	TimeSlice      time.Duration
	RenderInterval time.Duration
	RenderChars    int
	RenderCount    int
	ActiveDelay    time.Duration
	IdleDelay      time.Duration
	// Markers force an immediate render when seen in a chunk.
	Markers []string

	// Pending reports tool executions still in flight.
	Pending func() int
	// Stopped reports whether the user cancelled the turn.
	Stopped func() bool
	// OnFinished receives a snapshot once the turn reached a terminal state.
	OnFinished func(index int, state conversation.TurnState, snapshot *conversation.State)
}

// DefaultMarkers are chunks that warrant an immediate refresh.
var DefaultMarkers = []string{"```", "🔧", "✅", "❌", "⏳", "⚠️"}

// DefaultOptions returns the standard throttle settings.
func DefaultOptions() Options {
	return Options{
		MaxBatch:       64,
		TimeSlice:      8 * time.Millisecond,
		RenderInterval: 50 * time.Millisecond,
		RenderChars:    200,
		RenderCount:    20,
		ActiveDelay:    16 * time.Millisecond,
		IdleDelay:      100 * time.Millisecond,
		Markers:        DefaultMarkers,
	}
}

func (o *Options) fill() {
	def := DefaultOptions()
	if o.MaxBatch <= 0 {
		o.MaxBatch = def.MaxBatch
	}
	if o.TimeSlice <= 0 {
		o.TimeSlice = def.TimeSlice
	}
	if o.RenderInterval <= 0 {
		o.RenderInterval = def.RenderInterval
	}
	if o.RenderChars <= 0 {
		o.RenderChars = def.RenderChars
	}
	if o.RenderCount <= 0 {
		o.RenderCount = def.RenderCount
	}
	if o.ActiveDelay <= 0 {
		o.ActiveDelay = def.ActiveDelay
	}
	if o.IdleDelay < o.ActiveDelay {
		o.IdleDelay = def.IdleDelay
	}
	if o.Markers == nil {
		o.Markers = def.Markers
	}
	if o.Pending == nil {
		o.Pending = func() int { return 0 }
	}
	if o.Stopped == nil {
		o.Stopped = func() bool { return false }
	}
}

// Dispatcher is the consumer side of one turn: a self-rescheduling pass on
// the loop that applies queued updates to the conversation and renders.
type Dispatcher struct {
	state   *conversation.State
	queue   *Queue
	loop    Loop
	surface Surface
	opts    Options
	log     zerolog.Logger
	now     func() time.Time

	index      int
	live       strings.Builder
	dirty      bool
	force      bool
	chars      int
	count      int
	lastRender time.Time
	delay      time.Duration
	terminal   *conversation.TurnState
	finished   bool
	applied    int
}

// New creates a dispatcher for the answer at index.
func New(state *conversation.State, index int, queue *Queue, loop Loop, surface Surface, opts Options, log zerolog.Logger) *Dispatcher {
	opts.fill()
	return &Dispatcher{
		state:   state,
		index:   index,
		queue:   queue,
		loop:    loop,
		surface: surface,
		opts:    opts,
		log:     log.With().Str("component", "dispatch").Int("answer", index).Logger(),
		now:     time.Now,
		delay:   opts.ActiveDelay,
	}
}

// Start schedules the first pass.
func (d *Dispatcher) Start() {
	d.lastRender = d.now()
	d.loop.Post(d.pass)
}

// Finished reports whether the turn completed. Loop only.
func (d *Dispatcher) Finished() bool { return d.finished }

// Applied returns how many updates were applied. Loop only.
func (d *Dispatcher) Applied() int { return d.applied }

func (d *Dispatcher) pass() {
	if d.finished {
		return
	}

	start := d.now()
	processed := 0
	for processed < d.opts.MaxBatch && d.now().Sub(start) < d.opts.TimeSlice {
		batch := d.queue.Drain(d.opts.MaxBatch - processed)
		if len(batch) == 0 {
			break
		}
		for _, u := range batch {
			d.apply(u)
			processed++
		}
	}

	if d.terminal != nil && d.opts.Pending() == 0 && d.queue.Len() == 0 {
		d.finish()
		return
	}

	if d.shouldRender() {
		d.render(false)
	}

	if processed > 0 {
		d.delay = d.opts.ActiveDelay
	} else {
		d.delay *= 2
		if d.delay > d.opts.IdleDelay {
			d.delay = d.opts.IdleDelay
		}
	}
	d.loop.After(d.delay, d.pass)
}

func (d *Dispatcher) apply(u Update) {
	d.applied++

	if u.IsDone {
		st := u.State
		if !st.Terminal() {
			st = conversation.TurnDone
			if u.IsError {
				st = conversation.TurnError
			}
		}
		d.terminal = &st
	} else if u.State != conversation.TurnIdle {
		d.surface.TurnStateChanged(d.index, u.State)
	}

	if u.Transient {
		if d.opts.Stopped() {
			return
		}
		d.appendLive(u.Chunk)
		return
	}

	if u.Record != nil {
		var err error
		if u.Record.Kind == conversation.KindToolCall {
			err = d.state.RecordToolCall(d.index, u.Raw, *u.Record)
			d.cutLive(u.Raw)
		} else {
			err = d.state.Apply(d.index, *u.Record)
		}
		if err != nil {
			d.log.Error().Err(err).Msg("dropping record")
		}
		d.dirty = true
		d.force = true
	}

	if u.Chunk != "" {
		if err := d.state.AppendText(d.index, u.Chunk); err != nil {
			d.log.Error().Err(err).Msg("dropping chunk")
			return
		}
		d.appendLive(u.Chunk)
	}
}

func (d *Dispatcher) appendLive(s string) {
	if s == "" {
		return
	}
	d.live.WriteString(s)
	d.dirty = true
	d.chars += len(s)
	d.count++
	for _, m := range d.opts.Markers {
		if strings.Contains(s, m) {
			d.force = true
			break
		}
	}
}

// cutLive removes the last occurrence of raw from the live view so a tool
// call is shown through its status line only.
func (d *Dispatcher) cutLive(raw string) {
	if raw == "" {
		return
	}
	cur := d.live.String()
	pos := strings.LastIndex(cur, raw)
	if pos < 0 {
		return
	}
	next := strings.TrimRight(cur[:pos], " \t\n")
	if next != "" {
		next += "\n"
	}
	next += cur[pos+len(raw):]
	d.live.Reset()
	d.live.WriteString(next)
}

func (d *Dispatcher) shouldRender() bool {
	if !d.dirty {
		return false
	}
	return d.force ||
		d.chars >= d.opts.RenderChars ||
		d.count >= d.opts.RenderCount ||
		d.now().Sub(d.lastRender) >= d.opts.RenderInterval
}

func (d *Dispatcher) render(final bool) {
	d.surface.Render(Frame{
		AnswerIndex: d.index,
		Text:        d.live.String(),
		Answer:      d.state.Answer(d.index),
		Final:       final,
	})
	d.dirty = false
	d.force = false
	d.chars = 0
	d.count = 0
	d.lastRender = d.now()
}

func (d *Dispatcher) finish() {
	d.finished = true
	d.render(true)
	d.state.Finish(d.index)
	st := *d.terminal
	d.log.Debug().Str("state", st.String()).Int("updates", d.applied).Msg("turn finished")
	d.surface.TurnStateChanged(d.index, st)
	if d.opts.OnFinished != nil {
		d.opts.OnFinished(d.index, st, d.state.Snapshot())
	}
}
