package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// NotifyContext returns a context that is cancelled when SIGINT or SIGTERM is received.
// The returned stop function should be called to release resources.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// StopOnInterrupt calls stop on the first SIGINT so a running turn can end
// with what it already received. A second SIGINT, or SIGTERM, cancels the
// returned context.
func StopOnInterrupt(parent context.Context, stop func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(ch)
		interrupted := false
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-ch:
				if sig == os.Interrupt && !interrupted {
					interrupted = true
					stop()
					continue
				}
				cancel()
				return
			}
		}
	}()
	return ctx, cancel
}
