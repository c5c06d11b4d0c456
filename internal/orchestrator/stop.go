package orchestrator

import (
	"context"
	"sync"
)

// StopSignal is the per-conversation cancellation flag. Workers poll
// Stopped at every loop point; the context returned by Reset is cancelled on
// Stop so blocking reads unwind too.
type StopSignal struct {
	mu     sync.Mutex
	parent context.Context
	set    bool
	ctx    context.Context
	cancel context.CancelFunc
}

// NewStopSignal creates a signal whose contexts derive from parent.
func NewStopSignal(parent context.Context) *StopSignal {
	ctx, cancel := context.WithCancel(parent)
	return &StopSignal{parent: parent, ctx: ctx, cancel: cancel}
}

// Reset re-arms the signal for a new turn and returns its context.
func (s *StopSignal) Reset() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
	s.set = false
	s.ctx, s.cancel = context.WithCancel(s.parent)
	return s.ctx
}

// Stop sets the flag. Safe from any goroutine.
func (s *StopSignal) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = true
	s.cancel()
}

// Stopped reports whether Stop was called since the last Reset.
func (s *StopSignal) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// Context returns the context of the current turn.
func (s *StopSignal) Context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}
