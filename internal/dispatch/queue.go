package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/samsaffron/term-chat/internal/conversation"
)

// ErrQueueClosed is returned by Push after Close.
var ErrQueueClosed = errors.New("update queue closed")

// Update is the unit handed from a worker to the consumer loop.
type Update struct {
	AnswerIndex int
	Chunk       string
	IsDone      bool
	IsError     bool

	// Transient chunks are shown live but never stored in the answer.
	Transient bool
	// Record carries a ToolCall or ToolResult component. Raw is the text of
	// a tool call as it was streamed, cut from the stored prose on apply.
	Record *conversation.Component
	Raw    string
	// State announces a turn state change. On IsDone it holds the terminal
	// state.
	State conversation.TurnState
}

// Queue is a bounded, thread-safe handoff between one producer and the
// consumer loop.
type Queue struct {
	ch        chan Update
	closed    chan struct{}
	closeOnce sync.Once
}

// NewQueue creates a queue holding at most size pending updates.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{
		ch:     make(chan Update, size),
		closed: make(chan struct{}),
	}
}

// Push enqueues u, blocking while the queue is full.
func (q *Queue) Push(ctx context.Context, u Update) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- u:
		return nil
	case <-q.closed:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain removes up to max pending updates without blocking.
func (q *Queue) Drain(max int) []Update {
	var out []Update
	for len(out) < max {
		select {
		case u := <-q.ch:
			out = append(out, u)
		default:
			return out
		}
	}
	return out
}

// Len returns the number of pending updates.
func (q *Queue) Len() int { return len(q.ch) }

// Close rejects further pushes. Pending updates stay drainable.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}
