// Package metrics collects per-run counters and timings. A Run is created
// at run start and summarized once at run end; it is safe for concurrent
// use by the pipeline and its event consumers.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Counter names used by the pipeline.
const (
	ProfilesExtracted = "profiles_extracted"
	EmptyProfiles     = "empty_profiles"
	Duplicates        = "duplicates"
	DecisionsYes      = "decisions_yes"
	DecisionsNo       = "decisions_no"
	DecisionsError    = "decisions_error"
	Sent              = "sent"
	SendFailed        = "send_failed"
	ShadowSends       = "shadow_sends"
	PendingApprovals  = "pending_approvals"
	ProfileErrors     = "profile_errors"
	TokensIn          = "tokens_in"
	TokensOut         = "tokens_out"
)

// Timing names used by the pipeline.
const (
	ExtractTime  = "extract"
	DecisionTime = "decision"
	SendTime     = "send"
)

type timing struct {
	count int64
	total time.Duration
	max   time.Duration
}

// Run accumulates counters and timings for one run.
type Run struct {
	mu       sync.Mutex
	started  time.Time
	counters map[string]int64
	timings  map[string]*timing
}

// NewRun starts a metrics collection at the given instant.
func NewRun(started time.Time) *Run {
	return &Run{
		started:  started,
		counters: make(map[string]int64),
		timings:  make(map[string]*timing),
	}
}

// Inc bumps a counter by one.
func (r *Run) Inc(name string) {
	r.Add(name, 1)
}

// Add bumps a counter by n.
func (r *Run) Add(name string, n int64) {
	r.mu.Lock()
	r.counters[name] += n
	r.mu.Unlock()
}

// Observe records one duration sample for a timing.
func (r *Run) Observe(name string, d time.Duration) {
	r.mu.Lock()
	t := r.timings[name]
	if t == nil {
		t = &timing{}
		r.timings[name] = t
	}
	t.count++
	t.total += d
	if d > t.max {
		t.max = d
	}
	r.mu.Unlock()
}

// Get returns a counter's current value.
func (r *Run) Get(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

// TimingSummary is the aggregated view of one timing.
type TimingSummary struct {
	Count int64 `json:"count"`
	AvgMs int64 `json:"avg_ms"`
	MaxMs int64 `json:"max_ms"`
}

// Snapshot returns the counters and timing summaries for status output
// and the run_complete event.
func (r *Run) Snapshot(now time.Time) map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	counters := make(map[string]int64, len(r.counters))
	names := make([]string, 0, len(r.counters))
	for name := range r.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		counters[name] = r.counters[name]
	}

	timings := make(map[string]TimingSummary, len(r.timings))
	for name, t := range r.timings {
		s := TimingSummary{Count: t.count, MaxMs: t.max.Milliseconds()}
		if t.count > 0 {
			s.AvgMs = (t.total / time.Duration(t.count)).Milliseconds()
		}
		timings[name] = s
	}

	return map[string]interface{}{
		"elapsed_ms": now.Sub(r.started).Milliseconds(),
		"counters":   counters,
		"timings":    timings,
	}
}
