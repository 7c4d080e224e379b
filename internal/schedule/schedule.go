// Package schedule starts runs on a cron expression in gateway mode. One
// expression, one scheduler; a tick that lands while a run is active is
// skipped, never queued.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/matchpilot/matchpilot/internal/clock"
	"github.com/matchpilot/matchpilot/internal/events"
	"github.com/matchpilot/matchpilot/internal/pipeline"
	"github.com/matchpilot/matchpilot/pkg/protocol"
)

// RunStarter starts a run; the pipeline manager satisfies it.
type RunStarter interface {
	Start(ctx context.Context, ov pipeline.StartOverrides) (string, error)
}

// Scheduler fires Start on every cron tick.
type Scheduler struct {
	expr    string
	starter RunStarter
	log     *events.Log
	clk     clock.Clock
}

// New validates the expression and builds a scheduler.
func New(expr string, starter RunStarter, log *events.Log, clk clock.Clock) (*Scheduler, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid cron expression %q", expr)
	}
	return &Scheduler{expr: expr, starter: starter, log: log, clk: clk}, nil
}

// Run loops until ctx is done. Returns nil on context cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler started", "cron", s.expr)

	for {
		now := s.clk.Now()
		next, err := gronx.NextTickAfter(s.expr, now, false)
		if err != nil {
			return fmt.Errorf("compute next tick: %w", err)
		}

		if err := s.clk.Sleep(ctx, next.Sub(now)); err != nil {
			slog.Info("scheduler stopped")
			return nil
		}

		runID, err := s.starter.Start(ctx, pipeline.StartOverrides{})
		switch {
		case err == nil:
			slog.Info("scheduled run started", "run_id", runID, "tick", next)
		case errors.Is(err, pipeline.ErrRunActive):
			slog.Info("scheduled run skipped, run active", "tick", next)
			s.log.Emit("scheduler", protocol.EventScheduleSkipped, map[string]interface{}{
				"tick":   next.UTC().Format(time.RFC3339),
				"reason": "run_active",
			})
		default:
			slog.Error("scheduled run failed to start", "error", err)
		}
	}
}
