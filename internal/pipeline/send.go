package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/matchpilot/matchpilot/internal/browser"
	"github.com/matchpilot/matchpilot/internal/clock"
	"github.com/matchpilot/matchpilot/internal/events"
	"github.com/matchpilot/matchpilot/internal/metrics"
	"github.com/matchpilot/matchpilot/internal/stop"
	"github.com/matchpilot/matchpilot/internal/store"
	"github.com/matchpilot/matchpilot/pkg/protocol"
)

// SendOutcome classifies how a send attempt ended, so the coordinator can
// pick the follow-up (mark seen, skip, or terminate the run).
type SendOutcome int

const (
	// SendVerified: the message went out and the page confirmed it.
	SendVerified SendOutcome = iota
	// SendFailed: submit produced no confirmation even after the retry.
	SendFailed
	// SendStopped: the stop signal tripped before the message went out.
	SendStopped
	// SendQuota: a quota bucket is exhausted; nothing was sent.
	SendQuota
)

// SendStep runs the gated send path for one approved draft:
// stop → quota → focus → fill → stop → submit → verify → retry → pacing.
type SendStep struct {
	driver browser.Driver
	quota  store.QuotaStore
	sig    *stop.Signal
	log    *events.RunLog
	met    *metrics.Run
	clk    clock.Clock
	pacer  *Pacer

	dayLimit  int
	weekLimit int
}

func NewSendStep(driver browser.Driver, quota store.QuotaStore, sig *stop.Signal, log *events.RunLog, met *metrics.Run, clk clock.Clock, pacer *Pacer, dayLimit, weekLimit int) *SendStep {
	return &SendStep{
		driver:    driver,
		quota:     quota,
		sig:       sig,
		log:       log,
		met:       met,
		clk:       clk,
		pacer:     pacer,
		dayLimit:  dayLimit,
		weekLimit: weekLimit,
	}
}

// Send pushes one message for the profile identified by fp. Safety blocks
// (stop, quota) and verification failures are outcomes, not errors; an
// error return means a browser operation failed mid-path and the
// coordinator should record a processing error for the profile.
func (s *SendStep) Send(ctx context.Context, fp, message string) (SendOutcome, error) {
	if s.stopped(protocol.StopAtSendStart) {
		return SendStopped, nil
	}

	// The gate only reads the counters; the increment happens after the
	// send is verified, so an aborted or failed attempt never burns quota.
	now := s.clk.Now()
	dayKey, weekKey := store.DayKey(now), store.WeekKey(now)
	counters, err := s.quota.Counts(ctx, dayKey, weekKey)
	if err != nil {
		return SendFailed, fmt.Errorf("quota counts: %w", err)
	}
	s.log.Emit(protocol.EventQuotaCheck, map[string]interface{}{
		"day_used":   counters.Day,
		"day_limit":  s.dayLimit,
		"week_used":  counters.Week,
		"week_limit": s.weekLimit,
	})
	if counters.Day >= s.dayLimit || counters.Week >= s.weekLimit {
		scope, used, limit := "day", counters.Day, s.dayLimit
		if counters.Day < s.dayLimit {
			scope, used, limit = "week", counters.Week, s.weekLimit
		}
		s.log.Emit(protocol.EventQuotaExhausted, map[string]interface{}{
			"type": scope, "used": used, "limit": limit,
		})
		return SendQuota, nil
	}

	if s.stopped(protocol.StopAtBeforeFocus) {
		return SendStopped, nil
	}

	start := s.clk.Now()
	if err := s.driver.FocusInput(ctx); err != nil {
		return SendFailed, fmt.Errorf("focus input: %w", err)
	}
	if err := s.driver.Fill(ctx, message); err != nil {
		return SendFailed, fmt.Errorf("fill draft: %w", err)
	}

	if s.stopped(protocol.StopAtBeforeSubmit) {
		return SendStopped, nil
	}

	if err := s.driver.Submit(ctx); err != nil {
		return SendFailed, fmt.Errorf("submit: %w", err)
	}

	verified, err := s.driver.VerifySent(ctx)
	if err != nil {
		return SendFailed, fmt.Errorf("verify: %w", err)
	}

	retries := 0
	if !verified {
		if s.stopped(protocol.StopAtBeforeRetry) {
			return SendStopped, nil
		}
		retries = 1
		if err := s.driver.Submit(ctx); err != nil {
			return SendFailed, fmt.Errorf("submit retry: %w", err)
		}
		verified, err = s.driver.VerifySent(ctx)
		if err != nil {
			return SendFailed, fmt.Errorf("verify retry: %w", err)
		}
	}

	if !verified {
		s.met.Inc(metrics.SendFailed)
		s.log.Emit(protocol.EventSendFailed, map[string]interface{}{
			"profile": fp, "reason": "verify_failed",
		})
		return SendFailed, nil
	}

	if allowed, after, cerr := s.quota.TryConsume(ctx, dayKey, weekKey, s.dayLimit, s.weekLimit); cerr != nil {
		slog.Warn("quota consume after verified send failed", "error", cerr)
	} else if !allowed {
		// Cannot happen while runs are sequential; the message is out
		// either way, so record and move on.
		slog.Warn("quota bucket filled between check and consume",
			"day_used", after.Day, "week_used", after.Week)
	}

	s.met.Inc(metrics.Sent)
	s.met.Observe(metrics.SendTime, s.clk.Now().Sub(start))
	fields := map[string]interface{}{
		"profile": fp, "ok": true, "mode": "auto", "verified": true,
	}
	if retries > 0 {
		fields["retry"] = retries
	}
	s.log.Emit(protocol.EventSent, fields)

	s.pace(ctx)
	return SendVerified, nil
}

// pace sleeps the inter-send interval. Interruption by the stop signal is
// recorded; the coordinator's next poll point terminates the run.
func (s *SendStep) pace(ctx context.Context) {
	sctx, cancel := stop.Context(ctx, s.sig)
	defer cancel()

	if err := s.pacer.Pace(sctx); err != nil && s.sig.IsSet() {
		s.log.Emit(protocol.EventStopped, map[string]interface{}{
			"where": protocol.StopAtPacing, "reason": s.sig.Reason(),
		})
	}
}

func (s *SendStep) stopped(where string) bool {
	if !s.sig.IsSet() {
		return false
	}
	s.log.Emit(protocol.EventStopped, map[string]interface{}{
		"where": where, "reason": s.sig.Reason(),
	})
	return true
}
