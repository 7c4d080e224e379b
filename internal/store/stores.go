// Package store defines the durable outreach state: which profiles have
// been contacted (seen) and how much of the send budget is used (quota).
// Backends: sqlite (default, single user) and postgres (managed).
package store

import (
	"context"
	"time"
)

// SeenStore records contacted-profile fingerprints across runs.
// Rows are immutable once written.
type SeenStore interface {
	// IsSeen reports whether fp was recorded by any previous run.
	IsSeen(ctx context.Context, fp string) (bool, error)
	// MarkSeen records fp with its first-seen timestamp. Marking an
	// already-seen fingerprint is a no-op.
	MarkSeen(ctx context.Context, fp string, firstSeen time.Time) error
	// Count returns the number of recorded fingerprints.
	Count(ctx context.Context) (int64, error)
}

// QuotaCounters is a point-in-time view of send-budget usage.
type QuotaCounters struct {
	Day  int `json:"day"`
	Week int `json:"week"`
}

// QuotaStore tracks verified sends against daily and weekly buckets.
// Bucket keys are opaque strings derived from the clock (local date and
// ISO week); a fresh key starts a fresh bucket, which is how rollover
// works.
type QuotaStore interface {
	// TryConsume atomically checks both buckets against their limits and,
	// if neither is exhausted, increments both. Returns whether the
	// consume happened and the counters after the call. Racing callers
	// never push a bucket past its limit.
	TryConsume(ctx context.Context, dayKey, weekKey string, dayLimit, weekLimit int) (bool, QuotaCounters, error)
	// Counts returns current usage for the given buckets without
	// consuming.
	Counts(ctx context.Context, dayKey, weekKey string) (QuotaCounters, error)
}

// Stores is the top-level container for the storage backends.
type Stores struct {
	Seen  SeenStore
	Quota QuotaStore

	closer func() error
}

// NewStores wraps backend implementations with an optional closer.
func NewStores(seen SeenStore, quota QuotaStore, closer func() error) *Stores {
	return &Stores{Seen: seen, Quota: quota, closer: closer}
}

// Close releases the underlying database handle.
func (s *Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// StoreConfig selects and parameterizes a backend.
type StoreConfig struct {
	Backend     string // "sqlite" or "postgres"
	SQLitePath  string
	PostgresDSN string
}
