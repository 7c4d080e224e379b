// Package sqlite implements the default store backend on modernc.org/sqlite.
// The database migrates itself on open so the single-user path needs no
// separate migrate step.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/matchpilot/matchpilot/internal/store"
	"github.com/matchpilot/matchpilot/internal/store/migrations"
)

// Open opens (creating if needed) the sqlite database at path and returns
// migrated stores backed by it.
func Open(path string) (*store.Stores, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	// _txlock=immediate makes transactions take the write lock up front,
	// which keeps TryConsume atomic across processes.
	dsn := "file:" + path + "?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return store.NewStores(NewSeenStore(db), NewQuotaStore(db), db.Close), nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations.FS, "sqlite")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	drv, err := msqlite.WithInstance(db, &msqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

// SeenStore implements store.SeenStore on sqlite.
type SeenStore struct {
	db *sql.DB
}

func NewSeenStore(db *sql.DB) *SeenStore {
	return &SeenStore{db: db}
}

func (s *SeenStore) IsSeen(ctx context.Context, fp string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM seen_profiles WHERE fingerprint = ?`, fp).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query seen: %w", err)
	}
	return true, nil
}

func (s *SeenStore) MarkSeen(ctx context.Context, fp string, firstSeen time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO seen_profiles (fingerprint, first_seen_ts) VALUES (?, ?)
		 ON CONFLICT (fingerprint) DO NOTHING`,
		fp, firstSeen.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

func (s *SeenStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM seen_profiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count seen: %w", err)
	}
	return n, nil
}

// QuotaStore implements store.QuotaStore on sqlite.
type QuotaStore struct {
	db *sql.DB
}

func NewQuotaStore(db *sql.DB) *QuotaStore {
	return &QuotaStore{db: db}
}

func (s *QuotaStore) TryConsume(ctx context.Context, dayKey, weekKey string, dayLimit, weekLimit int) (bool, store.QuotaCounters, error) {
	var counters store.QuotaCounters

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, counters, fmt.Errorf("begin quota tx: %w", err)
	}
	defer tx.Rollback()

	ensure := `INSERT INTO quota_counters (bucket, used) VALUES (?, 0)
	           ON CONFLICT (bucket) DO NOTHING`
	for _, key := range []string{dayKey, weekKey} {
		if _, err := tx.ExecContext(ctx, ensure, key); err != nil {
			return false, counters, fmt.Errorf("ensure bucket %s: %w", key, err)
		}
	}

	counters, err = readCounters(ctx, tx, dayKey, weekKey)
	if err != nil {
		return false, counters, err
	}

	if counters.Day >= dayLimit || counters.Week >= weekLimit {
		// Deny leaves the counters untouched.
		return false, counters, tx.Commit()
	}

	bump := `UPDATE quota_counters SET used = used + 1 WHERE bucket = ?`
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

func (s *QuotaStore) Counts(ctx context.Context, dayKey, weekKey string) (store.QuotaCounters, error) {
	return readCounters(ctx, s.db, dayKey, weekKey)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readCounters(ctx context.Context, q querier, dayKey, weekKey string) (store.QuotaCounters, error) {
	var counters store.QuotaCounters
	read := func(key string, dst *int) error {
		err := q.QueryRowContext(ctx,
			`SELECT used FROM quota_counters WHERE bucket = ?`, key).Scan(dst)
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
