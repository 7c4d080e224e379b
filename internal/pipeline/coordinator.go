package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/matchpilot/matchpilot/internal/browser"
	"github.com/matchpilot/matchpilot/internal/clock"
	"github.com/matchpilot/matchpilot/internal/engine"
	"github.com/matchpilot/matchpilot/internal/events"
	"github.com/matchpilot/matchpilot/internal/fingerprint"
	"github.com/matchpilot/matchpilot/internal/metrics"
	"github.com/matchpilot/matchpilot/internal/stop"
	"github.com/matchpilot/matchpilot/internal/store"
	"github.com/matchpilot/matchpilot/internal/template"
	"github.com/matchpilot/matchpilot/pkg/protocol"
)

// Decider is the slice of the decision engine the coordinator needs.
type Decider interface {
	Decide(ctx context.Context, in engine.Inputs) engine.Result
}

// Deps bundles the collaborators of one coordinator. All of them are
// owned by the caller; the coordinator only borrows.
type Deps struct {
	Driver   browser.Driver
	Engine   Decider
	Seen     store.SeenStore
	Send     *SendStep
	Renderer *template.Renderer
	Log      *events.RunLog
	Metrics  *metrics.Run
	Clock    clock.Clock
	Stop     *stop.Signal
}

// Summary is the outcome of one run, used for the CLI exit code and the
// run-summary notification.
type Summary struct {
	RunID    string
	Reason   string
	Sent     int64
	Failed   int64
	Snapshot map[string]interface{}
}

// Coordinator drives the per-candidate pipeline for one run: open the next
// profile, extract, dedupe, decide, and hand approved drafts to the send
// step. Profiles are processed strictly one at a time.
type Coordinator struct {
	rc   RunContext
	deps Deps
}

func NewCoordinator(rc RunContext, deps Deps) *Coordinator {
	return &Coordinator{rc: rc, deps: deps}
}

const (
	extractAttempts = 2
	extractPause    = time.Second
)

// Run executes the pipeline until the listing or the profile budget is
// exhausted, a quota bucket runs dry, or the stop signal trips. Browser
// failures on one profile never abort the run; only a failed open (for
// example a login wall) does.
var tracer = otel.Tracer("matchpilot/pipeline")

func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	d := c.deps

	ctx, span := tracer.Start(ctx, "run")
	span.SetAttributes(attribute.String("run_id", c.rc.RunID))
	defer span.End()

	d.Log.Emit(protocol.EventRunStart, map[string]interface{}{
		"shadow":        c.rc.Shadow,
		"auto_send":     c.rc.AutoSend,
		"profile_limit": c.rc.ProfileLimit,
		"pace_seconds":  c.rc.PaceSeconds,
		"daily_quota":   c.rc.DailyQuota,
		"weekly_quota":  c.rc.WeeklyQuota,
	})
	d.Log.Emit(protocol.EventModelsResolved, map[string]interface{}{
		"decision_model": c.rc.DecisionModel,
		"cua_model":      c.rc.CUAModel,
	})

	if err := d.Driver.Open(ctx, c.rc.ListingURL); err != nil {
		return Summary{RunID: c.rc.RunID}, fmt.Errorf("open listing: %w", err)
	}

	reason := protocol.ReasonExhausted
loop:
	for i := 1; i <= c.rc.ProfileLimit; i++ {
		if d.Stop.IsSet() {
			d.Log.Emit(protocol.EventStopped, map[string]interface{}{
				"at_profile": i, "reason": d.Stop.Reason(),
			})
			reason = protocol.ReasonStopped
			break
		}

		terminal := c.processProfile(ctx, i)
		if terminal != "" {
			reason = terminal
			break loop
		}
	}

	snapshot := d.Metrics.Snapshot(d.Clock.Now())
	fields := map[string]interface{}{"reason": reason}
	for k, v := range snapshot {
		fields[k] = v
	}
	d.Log.Emit(protocol.EventRunComplete, fields)

	return Summary{
		RunID:    c.rc.RunID,
		Reason:   reason,
		Sent:     d.Metrics.Get(metrics.Sent),
		Failed:   d.Metrics.Get(metrics.SendFailed),
		Snapshot: snapshot,
	}, nil
}

// processProfile handles one listing position. A non-empty return is the
// run-terminating reason; "" means continue with the next profile.
func (c *Coordinator) processProfile(ctx context.Context, i int) (terminal string) {
	d := c.deps

	ctx, span := tracer.Start(ctx, "profile")
	span.SetAttributes(attribute.Int("position", i))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			c.profileError(i, "", "internal", fmt.Errorf("panic: %v", r))
			terminal = ""
		}
	}()

	ok, err := d.Driver.OpenNextProfile(ctx)
	if err != nil {
		c.profileError(i, "", "open_next", err)
		return ""
	}
	if !ok {
		return protocol.ReasonExhausted
	}

	text, extractMS, err := c.extractText(ctx)
	if err != nil {
		c.profileError(i, "", "extract", err)
		c.skip(ctx)
		return ""
	}
	if strings.TrimSpace(text) == "" {
		d.Metrics.Inc(metrics.EmptyProfiles)
		d.Log.Emit(protocol.EventEmptyProfile, map[string]interface{}{
			"at_profile":  i,
			"engine":      c.rc.DecisionModel,
			"skip_reason": "empty_text",
			"extract_ms":  extractMS,
		})
		c.skip(ctx)
		return ""
	}

	fp := fingerprint.Hash(text)
	d.Metrics.Inc(metrics.ProfilesExtracted)
	d.Metrics.Observe(metrics.ExtractTime, time.Duration(extractMS)*time.Millisecond)
	d.Log.Emit(protocol.EventProfileExtracted, map[string]interface{}{
		"profile":       fp,
		"extracted_len": len(text),
		"engine":        c.rc.DecisionModel,
		"extract_ms":    extractMS,
	})

	seen, err := d.Seen.IsSeen(ctx, fp)
	if err != nil {
		c.profileError(i, fp, "seen_check", err)
		c.skip(ctx)
		return ""
	}
	if seen {
		d.Metrics.Inc(metrics.Duplicates)
		d.Log.Emit(protocol.EventDuplicate, map[string]interface{}{"hash": fp})
		c.skip(ctx)
		return ""
	}

	verdict := c.decide(ctx, fp, text)
	if verdict.Decision != engine.DecisionYes {
		c.skip(ctx)
		return ""
	}

	msg, err := d.Renderer.Render(c.rc.Template, template.Slots{
		Name:     d.Driver.ProfileName(ctx),
		WhyMatch: verdict.Rationale,
		Draft:    verdict.Draft,
	})
	if err != nil {
		c.profileError(i, fp, "render", err)
		c.skip(ctx)
		return ""
	}

	if c.rc.Shadow {
		d.Metrics.Inc(metrics.ShadowSends)
		d.Log.Emit(protocol.EventShadowSend, map[string]interface{}{
			"profile": fp, "would_send": true,
		})
		c.markSeen(ctx, i, fp)
		c.skip(ctx)
		return ""
	}

	if !c.rc.AutoSend {
		d.Metrics.Inc(metrics.PendingApprovals)
		d.Log.Emit(protocol.EventPendingApproval, map[string]interface{}{"profile": fp})
		c.skip(ctx)
		return ""
	}

	outcome, err := d.Send.Send(ctx, fp, msg)
	if err != nil {
		c.profileError(i, fp, "send", err)
		c.skip(ctx)
		return ""
	}
	switch outcome {
	case SendVerified:
		c.markSeen(ctx, i, fp)
		return ""
	case SendFailed:
		c.skip(ctx)
		return ""
	case SendStopped:
		return protocol.ReasonStopped
	case SendQuota:
		return protocol.ReasonQuota
	}
	return ""
}

// decide invokes the engine, emits the usage and decision events, and
// returns the verdict.
func (c *Coordinator) decide(ctx context.Context, fp, text string) engine.Verdict {
	d := c.deps

	start := d.Clock.Now()
	res := d.Engine.Decide(ctx, engine.Inputs{
		SelfProfile: c.rc.SelfProfile,
		Criteria:    c.rc.Criteria,
		Template:    c.rc.Template,
		ProfileText: text,
	})
	d.Metrics.Observe(metrics.DecisionTime, d.Clock.Now().Sub(start))

	if res.Usage != nil {
		d.Metrics.Add(metrics.TokensIn, int64(res.Usage.InputTokens))
		d.Metrics.Add(metrics.TokensOut, int64(res.Usage.OutputTokens))
		d.Log.Emit(protocol.EventModelUsage, map[string]interface{}{
			"model":      res.Model,
			"tokens_in":  res.Usage.InputTokens,
			"tokens_out": res.Usage.OutputTokens,
			"cost_est":   res.Usage.CostEstimate(res.Model),
		})
	}

	v := res.Verdict
	fields := map[string]interface{}{
		"profile":          fp,
		"decision":         v.Decision,
		"rationale":        v.Rationale,
		"score":            v.Score,
		"confidence":       v.Confidence,
		"engine":           res.Model,
		"extracted_len":    len(text),
		"decision_json_ok": v.JSONOK,
	}
	if !v.JSONOK && res.Raw != "" {
		fields["raw"] = res.Raw
	}
	d.Log.Emit(protocol.EventDecision, fields)

	switch v.Decision {
	case engine.DecisionYes:
		d.Metrics.Inc(metrics.DecisionsYes)
	case engine.DecisionNo:
		d.Metrics.Inc(metrics.DecisionsNo)
	default:
		d.Metrics.Inc(metrics.DecisionsError)
	}
	return v
}

// extractText reads the profile text with a bounded retry: a second
// attempt after a short pause covers slow-hydrating pages.
func (c *Coordinator) extractText(ctx context.Context) (string, int64, error) {
	d := c.deps
	start := d.Clock.Now()

	var text string
	var err error
	for attempt := 1; attempt <= extractAttempts; attempt++ {
		text, err = d.Driver.ReadProfileText(ctx)
		if err == nil && strings.TrimSpace(text) != "" {
			break
		}
		if attempt < extractAttempts {
			if serr := d.Clock.Sleep(ctx, extractPause); serr != nil {
				break
			}
		}
	}

	elapsed := d.Clock.Now().Sub(start).Milliseconds()
	if err != nil {
		return "", elapsed, err
	}
	return text, elapsed, nil
}

func (c *Coordinator) markSeen(ctx context.Context, i int, fp string) {
	if err := c.deps.Seen.MarkSeen(ctx, fp, c.deps.Clock.Now()); err != nil {
		c.profileError(i, fp, "mark_seen", err)
	}
}

// skip is best-effort: a failed dismiss is logged but never fatal, the
// next open_next_profile has to cope either way.
func (c *Coordinator) skip(ctx context.Context) {
	if err := c.deps.Driver.Skip(ctx); err != nil {
		slog.Debug("skip failed", "error", err)
	}
}

func (c *Coordinator) profileError(i int, fp, stage string, err error) {
	c.deps.Metrics.Inc(metrics.ProfileErrors)
	fields := map[string]interface{}{
		"at_profile": i,
		"stage":      stage,
		"error":      err.Error(),
	}
	if fp != "" {
		fields["profile"] = fp
	}
	c.deps.Log.Emit(protocol.EventProfileError, fields)
}
