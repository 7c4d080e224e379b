// Package pipeline orchestrates one outreach run: walk the listing, decide
// per candidate, and send through the safety gates. A single coordinator
// loop processes profiles strictly one at a time.
package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/matchpilot/matchpilot/internal/config"
)

// RunContext is the immutable parameter set of one run, resolved from
// configuration when the run starts.
type RunContext struct {
	RunID string

	SelfProfile string
	Criteria    string
	Template    string

	ListingURL   string
	AutoSend     bool
	Shadow       bool
	ProfileLimit int
	PaceSeconds  int
	DailyQuota   int
	WeeklyQuota  int

	DecisionModel string
	CUAModel      string

	MaxMessageChars int
	BannedPhrases   []string
}

// NewRunContext resolves a RunContext from the effective configuration and
// the resolved model names. The config is read once; later config changes
// do not affect a running pipeline.
func NewRunContext(cfg *config.Config, decisionModel, cuaModel string) RunContext {
	return RunContext{
		RunID:           uuid.NewString(),
		SelfProfile:     cfg.Run.SelfProfile,
		Criteria:        cfg.Run.Criteria,
		Template:        cfg.Run.Template,
		ListingURL:      cfg.Browser.ListingURL,
		AutoSend:        cfg.Run.AutoSend,
		Shadow:          cfg.Run.Shadow,
		ProfileLimit:    cfg.Run.ProfileLimit,
		PaceSeconds:     cfg.Run.PaceSeconds,
		DailyQuota:      cfg.Run.DailyQuota,
		WeeklyQuota:     cfg.Run.WeeklyQuota,
		DecisionModel:   decisionModel,
		CUAModel:        cuaModel,
		MaxMessageChars: cfg.Run.MaxMessageChars,
		BannedPhrases:   cfg.Run.BannedPhrases,
	}
}

// Pace returns the configured minimum delay between sends.
func (rc RunContext) Pace() time.Duration {
	return time.Duration(rc.PaceSeconds) * time.Second
}
