package orchestrator

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// KeeperOptions tunes how a handed-off response connection is kept.
type KeeperOptions struct {
	// Heartbeat is the interval of liveness status callbacks; 0 disables.
	Heartbeat time.Duration
	// DrainLimit caps the bytes read and discarded from the response.
	DrainLimit int64
	// DrainTimeout bounds how long Release waits for the response to end.
	DrainTimeout time.Duration
}

// DefaultKeeperOptions returns the standard keeper settings.
func DefaultKeeperOptions() KeeperOptions {
	return KeeperOptions{
		Heartbeat:    15 * time.Second,
		DrainLimit:   1 << 20,
		DrainTimeout: 2 * time.Second,
	}
}

// ConnKeeper owns a response body that was abandoned mid-stream while tools
// run. It drains the remaining bytes in the background so the connection
// can go back to the idle pool, reports liveness on a ticker, and closes the
// body on Release.
type ConnKeeper struct {
	body    io.ReadCloser
	opts    KeeperOptions
	log     zerolog.Logger
	started time.Time

	mu      sync.Mutex
	drained int64
	ended   bool
	readErr error

	drainDone   chan struct{}
	stopBeat    chan struct{}
	beatDone    chan struct{}
	releaseOnce sync.Once
}

// Keep starts draining body. beat, when non-nil, is called from a
// background goroutine every opts.Heartbeat with the time held so far.
func Keep(body io.ReadCloser, opts KeeperOptions, beat func(held time.Duration, alive bool), log zerolog.Logger) *ConnKeeper {
	def := DefaultKeeperOptions()
	if opts.DrainLimit <= 0 {
		opts.DrainLimit = def.DrainLimit
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = def.DrainTimeout
	}
	k := &ConnKeeper{
		body:      body,
		opts:      opts,
		log:       log,
		started:   time.Now(),
		drainDone: make(chan struct{}),
		stopBeat:  make(chan struct{}),
		beatDone:  make(chan struct{}),
	}
	go k.drain()
	if opts.Heartbeat > 0 && beat != nil {
		go k.heartbeat(beat)
	} else {
		close(k.beatDone)
	}
	return k
}

func (k *ConnKeeper) drain() {
	defer close(k.drainDone)
	buf := make([]byte, 32*1024)
	for {
		n, err := k.body.Read(buf)
		k.mu.Lock()
		k.drained += int64(n)
		over := k.drained >= k.opts.DrainLimit
		if err != nil {
			if errors.Is(err, io.EOF) {
				k.ended = true
			} else {
				k.readErr = err
			}
		}
		k.mu.Unlock()
		if err != nil {
			return
		}
		if over {
			k.log.Debug().Int64("bytes", k.Drained()).Msg("drain limit reached")
			return
		}
	}
}

func (k *ConnKeeper) heartbeat(beat func(time.Duration, bool)) {
	defer close(k.beatDone)
	ticker := time.NewTicker(k.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			beat(time.Since(k.started), k.Alive())
		case <-k.stopBeat:
			return
		}
	}
}

// Alive reports whether the connection has not failed.
func (k *ConnKeeper) Alive() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.readErr == nil
}

// Ended reports whether the response was read to its end.
func (k *ConnKeeper) Ended() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ended
}

// Drained returns the number of bytes discarded so far.
func (k *ConnKeeper) Drained() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.drained
}

// Release stops the heartbeat, waits up to DrainTimeout for the response to
// end and closes the body. It returns the bytes drained. Safe to call more
// than once.
func (k *ConnKeeper) Release() int64 {
	k.releaseOnce.Do(func() {
		close(k.stopBeat)
		<-k.beatDone

		timer := time.NewTimer(k.opts.DrainTimeout)
		select {
		case <-k.drainDone:
		case <-timer.C:
			k.log.Debug().Msg("response still open after drain timeout")
		}
		timer.Stop()

		if err := k.body.Close(); err != nil {
			k.log.Debug().Err(err).Msg("closing handed-off response")
		}
		<-k.drainDone

		k.log.Debug().
			Int64("bytes", k.Drained()).
			Bool("ended", k.Ended()).
			Dur("held", time.Since(k.started)).
			Msg("released connection")
	})
	return k.Drained()
}
