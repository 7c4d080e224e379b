// Package stop implements the cooperative stop signal. The pipeline polls it
// at every documented checkpoint; it is set by the gateway stop method, by
// OS signals, or by the appearance of a stop file on disk.
package stop

import (
	"context"
	"sync/atomic"
)

// Signal is a one-way cooperative cancellation flag. Set is idempotent;
// the first reason wins. IsSet is a single atomic load.
type Signal struct {
	flag   atomic.Bool
	reason atomic.Value
	done   chan struct{}
}

func New() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Set raises the flag. Subsequent calls keep the original reason.
func (s *Signal) Set(reason string) {
	if s.flag.CompareAndSwap(false, true) {
		s.reason.Store(reason)
		close(s.done)
	}
}

// IsSet reports whether the flag has been raised.
func (s *Signal) IsSet() bool {
	return s.flag.Load()
}

// Reason returns why the signal was set, or "" if it was not.
func (s *Signal) Reason() string {
	if v := s.reason.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// Done returns a channel closed when the signal is set, for select-based
// waiters such as pacing sleeps.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Context derives a context cancelled when sig is set, so blocking
// operations become stop-aware. A nil sig yields the parent unchanged.
func Context(ctx context.Context, sig *Signal) (context.Context, context.CancelFunc) {
	if sig == nil {
		return context.WithCancel(ctx)
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-sig.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
