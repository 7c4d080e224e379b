// Package models resolves which LLM models a run uses, against the set
// the provider actually advertises.
package models

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/matchpilot/matchpilot/internal/providers"
)

// Lister is the slice of the provider client the resolver needs.
type Lister interface {
	ListModels(ctx context.Context) ([]providers.ModelInfo, error)
}

// Resolved is the model choice for one run, fixed at startup.
type Resolved struct {
	DecisionModel string
	// CUAModel is empty when no computer-use model is available; the
	// planner loop is then unavailable and the scripted driver is used.
	CUAModel string
}

// Preference order when the user leaves decision_model unset.
var decisionPreference = []string{
	"gpt-5-mini",
	"gpt-5",
	"gpt-4.1-mini",
	"gpt-4o-mini",
	"gpt-4o",
}

// Preference order for the optional computer-use model.
var cuaPreference = []string{
	"computer-use-preview",
}

// Resolve picks the decision and computer-use models. An explicitly
// configured model always wins (with a warning when the provider does not
// advertise it — listings lag new models); otherwise the first advertised
// model in preference order is chosen. No advertised decision model is a
// startup error; no computer-use model just disables the planner.
func Resolve(ctx context.Context, lister Lister, wantDecision, wantCUA string) (Resolved, error) {
	var resolved Resolved

	listing, err := lister.ListModels(ctx)
	if err != nil {
		// Listing down but both models pinned: trust the config.
		if wantDecision != "" {
			slog.Warn("model listing unavailable, trusting configured models",
				"decision_model", wantDecision, "cua_model", wantCUA, "error", err)
			return Resolved{DecisionModel: wantDecision, CUAModel: wantCUA}, nil
		}
		return resolved, fmt.Errorf("list models: %w", err)
	}

	advertised := make(map[string]bool, len(listing))
	for _, m := range listing {
		advertised[m.ID] = true
	}

	switch {
	case wantDecision != "":
		if !advertised[wantDecision] {
			slog.Warn("configured decision model not advertised by provider",
				"model", wantDecision)
		}
		resolved.DecisionModel = wantDecision
	default:
		for _, id := range decisionPreference {
			if advertised[id] {
				resolved.DecisionModel = id
				break
			}
		}
		if resolved.DecisionModel == "" {
			return resolved, fmt.Errorf("no suitable decision model advertised by provider; set decision_model explicitly")
		}
	}

	switch {
	case wantCUA != "":
		if !advertised[wantCUA] {
			slog.Warn("configured computer-use model not advertised by provider",
				"model", wantCUA)
		}
		resolved.CUAModel = wantCUA
	default:
		for _, id := range cuaPreference {
			if advertised[id] {
				resolved.CUAModel = id
				break
			}
		}
	}

	slog.Info("models resolved",
		"decision_model", resolved.DecisionModel,
		"cua_model", resolved.CUAModel)
	return resolved, nil
}
