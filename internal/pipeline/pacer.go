package pipeline

import (
	"context"
	"time"

	"github.com/matchpilot/matchpilot/internal/clock"
)

// Pacer enforces the minimum spacing between verified sends. Pace is
// called immediately after each send, so sleeping the whole interval
// anchors the gap at the send itself: time spent processing the next
// profile comes on top of the interval, never out of it. The wait is
// computed from the injected clock, which keeps pacing testable without
// real time.
type Pacer struct {
	clk      clock.Clock
	interval time.Duration
}

// NewPacer builds a pacer with the given interval. A non-positive
// interval disables pacing.
func NewPacer(interval time.Duration, clk clock.Clock) *Pacer {
	return &Pacer{clk: clk, interval: interval}
}

// Pace sleeps the full interval. Returns ctx.Err() when interrupted.
func (p *Pacer) Pace(ctx context.Context) error {
	if p.interval <= 0 {
		return nil
	}
	return p.clk.Sleep(ctx, p.interval)
}
