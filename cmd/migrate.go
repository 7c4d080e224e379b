package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	mpostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/matchpilot/matchpilot/internal/config"
	"github.com/matchpilot/matchpilot/internal/store/migrations"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Store schema migration management",
		Long: "Applies the embedded SQL migrations to the configured backend. " +
			"The sqlite backend migrates itself on open, so this is mostly for the " +
			"postgres backend and for recovery.",
	}

	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	cmd.AddCommand(migrateVersionCmd())
	cmd.AddCommand(migrateForceCmd())

	return cmd
}

// newMigrator builds a migrator over the embedded SQL for the configured
// backend. The returned closer releases the database handle.
func newMigrator() (*migrate.Migrate, func(), error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.IsManagedStore() {
		src, err := iofs.New(migrations.FS, "postgres")
		if err != nil {
			return nil, nil, fmt.Errorf("load migrations: %w", err)
		}
		db, err := sql.Open("pgx", cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		drv, err := mpostgres.WithInstance(db, &mpostgres.Config{})
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migration driver: %w", err)
		}
		m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("create migrator: %w", err)
		}
		return m, func() { db.Close() }, nil
	}

	src, err := iofs.New(migrations.FS, "sqlite")
	if err != nil {
		return nil, nil, fmt.Errorf("load migrations: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+cfg.SQLitePath())
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	drv, err := msqlite.WithInstance(db, &msqlite.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, func() { db.Close() }, nil
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closer, err := newMigrator()
			if err != nil {
				return err
			}
			defer closer()

			if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migrate up: %w", err)
			}
			v, dirty, _ := m.Version()
			slog.Info("migration complete", "version", v, "dirty", dirty)
			return nil
		},
	}
}

func migrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closer, err := newMigrator()
			if err != nil {
				return err
			}
			defer closer()

			if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migrate down: %w", err)
			}
			v, dirty, _ := m.Version()
			slog.Info("rollback complete", "version", v, "dirty", dirty)
			return nil
		},
	}
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closer, err := newMigrator()
			if err != nil {
				return err
			}
			defer closer()

			v, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				fmt.Println("schema version: none (no migrations applied)")
				return nil
			}
			if err != nil {
				return fmt.Errorf("read version: %w", err)
			}
			fmt.Printf("schema version: %d (dirty: %v)\n", v, dirty)
			return nil
		},
	}
}

func migrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Force the schema version after a failed migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			m, closer, err := newMigrator()
			if err != nil {
				return err
			}
			defer closer()

			if err := m.Force(v); err != nil {
				return fmt.Errorf("force version: %w", err)
			}
			slog.Info("schema version forced", "version", v)
			return nil
		},
	}
}
