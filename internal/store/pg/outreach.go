package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matchpilot/matchpilot/internal/store"
)

// PGSeenStore implements store.SeenStore backed by Postgres.
type PGSeenStore struct {
	db *sql.DB
}

func NewPGSeenStore(db *sql.DB) *PGSeenStore {
	return &PGSeenStore{db: db}
}

func (s *PGSeenStore) IsSeen(ctx context.Context, fp string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM seen_profiles WHERE fingerprint = $1`, fp).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query seen: %w", err)
	}
	return true, nil
}

func (s *PGSeenStore) MarkSeen(ctx context.Context, fp string, firstSeen time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO seen_profiles (fingerprint, first_seen_ts) VALUES ($1, $2)
		 ON CONFLICT (fingerprint) DO NOTHING`,
		fp, firstSeen.UTC())
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

func (s *PGSeenStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM seen_profiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count seen: %w", err)
	}
	return n, nil
}

// PGQuotaStore implements store.QuotaStore backed by Postgres. Row locks
// on the two buckets serialize racing consumers.
type PGQuotaStore struct {
	db *sql.DB
}

func NewPGQuotaStore(db *sql.DB) *PGQuotaStore {
	return &PGQuotaStore{db: db}
}

func (s *PGQuotaStore) TryConsume(ctx context.Context, dayKey, weekKey string, dayLimit, weekLimit int) (bool, store.QuotaCounters, error) {
	var counters store.QuotaCounters

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, counters, fmt.Errorf("begin quota tx: %w", err)
	}
	defer tx.Rollback()

	ensure := `INSERT INTO quota_counters (bucket, used) VALUES ($1, 0)
	           ON CONFLICT (bucket) DO NOTHING`
	for _, key := range []string{dayKey, weekKey} {
		if _, err := tx.ExecContext(ctx, ensure, key); err != nil {
			return false, counters, fmt.Errorf("ensure bucket %s: %w", key, err)
		}
	}

	// Lock both rows in a fixed order so concurrent consumers cannot
	// deadlock.
	rows, err := tx.QueryContext(ctx,
		`SELECT bucket, used FROM quota_counters
		 WHERE bucket = $1 OR bucket = $2
		 ORDER BY bucket FOR UPDATE`, dayKey, weekKey)
	if err != nil {
		return false, counters, fmt.Errorf("lock buckets: %w", err)
	}
	used := map[string]int{}
	for rows.Next() {
		var bucket string
		var n int
		if err := rows.Scan(&bucket, &n); err != nil {
			rows.Close()
			return false, counters, fmt.Errorf("scan bucket: %w", err)
		}
		used[bucket] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, counters, fmt.Errorf("read buckets: %w", err)
	}

	counters = store.QuotaCounters{Day: used[dayKey], Week: used[weekKey]}
	if counters.Day >= dayLimit || counters.Week >= weekLimit {
		return false, counters, tx.Commit()
	}

	bump := `UPDATE quota_counters SET used = used + 1 WHERE bucket = $1`
	for _, key := range []string{dayKey, weekKey} {
		if _, err := tx.ExecContext(ctx, bump, key); err != nil {
			return false, counters, fmt.Errorf("bump bucket %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, counters, fmt.Errorf("commit quota tx: %w", err)
	}

	counters.Day++
	counters.Week++
	return true, counters, nil
}

func (s *PGQuotaStore) Counts(ctx context.Context, dayKey, weekKey string) (store.QuotaCounters, error) {
	var counters store.QuotaCounters
	read := func(key string, dst *int) error {
		err := s.db.QueryRowContext(ctx,
			`SELECT used FROM quota_counters WHERE bucket = $1`, key).Scan(dst)
		if errors.Is(err, sql.ErrNoRows) {
			*dst = 0
			return nil
		}
		if err != nil {
			return fmt.Errorf("read bucket %s: %w", key, err)
		}
		return nil
	}
	if err := read(dayKey, &counters.Day); err != nil {
		return counters, err
	}
	if err := read(weekKey, &counters.Week); err != nil {
		return counters, err
	}
	return counters, nil
}
