package orchestrator

import "sync"

// Tracker holds the per-turn execution state shared between the worker and
// the consumer: how many tools are running and which connection is being
// kept open for them. It is created per turn and closed on any terminal
// state.
type Tracker struct {
	mu       sync.Mutex
	inFlight int
	conn     *ConnKeeper
	closed   bool
}

// NewTracker creates a tracker for one turn.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Begin marks one tool execution as started.
func (t *Tracker) Begin() {
	t.mu.Lock()
	t.inFlight++
	t.mu.Unlock()
}

// End marks one tool execution as finished.
func (t *Tracker) End() {
	t.mu.Lock()
	if t.inFlight > 0 {
		t.inFlight--
	}
	t.mu.Unlock()
}

// InFlight returns the number of running tool executions.
func (t *Tracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight
}

// Hold takes ownership of k. A previously held connection is released.
// Holding after Close releases k immediately.
func (t *Tracker) Hold(k *ConnKeeper) {
	t.mu.Lock()
	prev := t.conn
	closed := t.closed
	if !closed {
		t.conn = k
	}
	t.mu.Unlock()

	if prev != nil {
		prev.Release()
	}
	if closed && k != nil {
		k.Release()
	}
}

// Release drains and closes the held connection, if any.
func (t *Tracker) Release() int64 {
	t.mu.Lock()
	k := t.conn
	t.conn = nil
	t.mu.Unlock()
	if k == nil {
		return 0
	}
	return k.Release()
}

// Close releases everything. Further Hold calls release immediately.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.Release()
}
