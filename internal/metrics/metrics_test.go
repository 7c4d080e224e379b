package metrics

import (
	"testing"
	"time"
)

func TestCounters(t *testing.T) {
	r := NewRun(time.Now())
	r.Inc(Sent)
	r.Inc(Sent)
	r.Add(TokensIn, 120)

	if got := r.Get(Sent); got != 2 {
		t.Errorf("Get(Sent) = %d, want 2", got)
	}
	if got := r.Get(TokensIn); got != 120 {
		t.Errorf("Get(TokensIn) = %d, want 120", got)
	}
	if got := r.Get(SendFailed); got != 0 {
		t.Errorf("Get(SendFailed) = %d, want 0", got)
	}
}

func TestSnapshot(t *testing.T) {
	start := time.Date(2025, 4, 12, 10, 0, 0, 0, time.UTC)
	r := NewRun(start)
	r.Inc(ProfilesExtracted)
	r.Observe(DecisionTime, 2*time.Second)
	r.Observe(DecisionTime, 4*time.Second)

	snap := r.Snapshot(start.Add(90 * time.Second))

	if elapsed := snap["elapsed_ms"].(int64); elapsed != 90_000 {
		t.Errorf("elapsed_ms = %d, want 90000", elapsed)
	}
	counters := snap["counters"].(map[string]int64)
	if counters[ProfilesExtracted] != 1 {
		t.Errorf("counters[%s] = %d, want 1", ProfilesExtracted, counters[ProfilesExtracted])
	}
	timings := snap["timings"].(map[string]TimingSummary)
	d := timings[DecisionTime]
	if d.Count != 2 || d.AvgMs != 3000 || d.MaxMs != 4000 {
		t.Errorf("decision timing = %+v, want count=2 avg=3000 max=4000", d)
	}
}
