package dispatch

import (
	"context"
	"sync"
	"time"
)

// EventLoop is a Loop backed by one goroutine. Everything posted to it runs
// sequentially on that goroutine, in the order it was posted, which makes it
// the single owner of the conversation state and the surface.
type EventLoop struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	once    sync.Once
	done    chan struct{}
}

// NewEventLoop creates a loop; call Run to start executing work.
func NewEventLoop() *EventLoop {
	return &EventLoop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Run executes posted work until ctx is cancelled.
func (l *EventLoop) Run(ctx context.Context) {
	defer l.once.Do(func() { close(l.done) })
	for {
		select {
		case <-l.wake:
		case <-ctx.Done():
			return
		}
		for {
			l.mu.Lock()
			batch := l.pending
			l.pending = nil
			l.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				if ctx.Err() != nil {
					return
				}
				fn()
			}
		}
	}
}

// Post schedules fn behind everything posted before it. It never blocks, so
// posting from the loop itself is allowed. Work posted after Run returned is
// dropped.
func (l *EventLoop) Post(fn func()) {
	select {
	case <-l.done:
		return
	default:
	}
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// After schedules fn once d has elapsed.
func (l *EventLoop) After(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { l.Post(fn) })
}

// Call runs fn on the loop and waits for it to return.
func (l *EventLoop) Call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	l.Post(func() {
		fn()
		close(ran)
	})
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return context.Canceled
	}
}
