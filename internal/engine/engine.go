// Package engine turns a candidate profile into a structured Verdict by
// prompting the decision model. It owns prompt construction, the
// unsupported-parameter fallback, and response parsing.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/matchpilot/matchpilot/internal/providers"
)

// ResponseCreator is the slice of the provider client the engine needs.
type ResponseCreator interface {
	CreateResponse(ctx context.Context, req *providers.ResponseRequest) (*providers.Response, error)
}

// Options fixes the provider parameters for a run.
type Options struct {
	Model           string
	MaxOutputTokens int
	Temperature     *float64
	Verbosity       string
	ReasoningEffort string
	ServiceTier     string
	Timeout         time.Duration
}

// Inputs are the texts one evaluation works from.
type Inputs struct {
	SelfProfile string
	Criteria    string
	Template    string
	ProfileText string
}

// Result is one evaluation outcome. Verdict is always populated; on any
// failure it carries decision ERROR. Raw preserves the model text
// (truncated) for the decision event when parsing failed.
type Result struct {
	Verdict Verdict
	Raw     string
	Model   string
	Usage   *providers.Usage
}

// Engine evaluates candidates with one fixed model and parameter set.
// Safe for concurrent use.
type Engine struct {
	client ResponseCreator
	opts   Options
}

func New(client ResponseCreator, opts Options) *Engine {
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = 4000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Engine{client: client, opts: opts}
}

const systemRules = `You evaluate whether a candidate co-founder profile fits the user's ` +
	`criteria and, when it does, draft a short personalized outreach message ` +
	`based on the user's template. Judge only from the candidate text given. ` +
	`Return a JSON object with exactly these keys: ` +
	`"decision" ("YES" or "NO"), "rationale" (at most 280 characters), ` +
	`"draft" (the message to send; empty string when decision is NO), ` +
	`"score" (number 0..1), "confidence" (number 0..1). ` +
	`Do not invent facts about the candidate.`

const strictJSONNudge = ` Respond with ONLY the raw JSON object. No markdown, ` +
	`no code fences, no commentary before or after it.`

// Decide evaluates one candidate. It never returns an error: any failure
// becomes an ERROR verdict, and the caller decides what to emit.
func (e *Engine) Decide(ctx context.Context, in Inputs) Result {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	req := e.buildRequest(in, true)
	resp, err := e.client.CreateResponse(ctx, req)
	if err != nil && providers.IsUnsupportedParameter(err) {
		slog.Debug("decision call rejected optional parameters, retrying stripped",
			"model", e.opts.Model, "error", err)
		resp, err = e.client.CreateResponse(ctx, e.buildRequest(in, false))
	}
	if err != nil {
		if ctx.Err() != nil {
			return Result{Verdict: ErrorVerdict("decision call timed out"), Model: e.opts.Model}
		}
		return Result{
			Verdict: ErrorVerdict(fmt.Sprintf("provider error: %v", err)),
			Model:   e.opts.Model,
		}
	}

	res := Result{Model: resp.Model, Usage: resp.Usage}
	if res.Model == "" {
		res.Model = e.opts.Model
	}

	if rerr := resp.Err(); rerr != nil {
		res.Verdict = ErrorVerdict(rerr.Error())
		return res
	}

	raw := resp.AggregatedText()
	res.Raw = truncate(raw, 200)
	res.Verdict = ParseVerdict(raw)
	return res
}

// buildRequest composes the prompt. full=false is the fallback shape:
// optional parameters stripped and a stronger strict-JSON instruction
// appended.
func (e *Engine) buildRequest(in Inputs, full bool) *providers.ResponseRequest {
	instructions := systemRules
	if !full {
		instructions += strictJSONNudge
	}

	var b strings.Builder
	section(&b, "MY PROFILE", in.SelfProfile)
	section(&b, "MATCH CRITERIA", in.Criteria)
	section(&b, "MESSAGE TEMPLATE", in.Template)
	section(&b, "CANDIDATE PROFILE", in.ProfileText)

	req := &providers.ResponseRequest{
		Model:           e.opts.Model,
		Instructions:    instructions,
		Input:           []map[string]interface{}{providers.UserTextInput(b.String())},
		MaxOutputTokens: e.opts.MaxOutputTokens,
	}
	if full {
		req.Temperature = e.opts.Temperature
		req.Verbosity = e.opts.Verbosity
		req.ReasoningEffort = e.opts.ReasoningEffort
		req.ServiceTier = e.opts.ServiceTier
		req.JSONSchema = &providers.JSONSchemaFormat{
			Name:   "verdict",
			Schema: verdictSchema(),
			Strict: true,
		}
	}
	return req
}

// section appends one delimited prompt section. Lines in the value that
// would collide with a section delimiter are neutralized so candidate
// text cannot spoof a section boundary.
func section(b *strings.Builder, name, value string) {
	value = strings.ReplaceAll(value, "=== ", "== ")
	fmt.Fprintf(b, "=== %s ===\n%s\n\n", name, strings.TrimSpace(value))
}
