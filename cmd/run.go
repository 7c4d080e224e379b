package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/matchpilot/matchpilot/internal/browser"
	"github.com/matchpilot/matchpilot/internal/bus"
	"github.com/matchpilot/matchpilot/internal/clock"
	"github.com/matchpilot/matchpilot/internal/config"
	"github.com/matchpilot/matchpilot/internal/events"
	"github.com/matchpilot/matchpilot/internal/notify"
	"github.com/matchpilot/matchpilot/internal/pipeline"
	"github.com/matchpilot/matchpilot/internal/providers"
	"github.com/matchpilot/matchpilot/internal/store"
	"github.com/matchpilot/matchpilot/internal/store/pg"
	"github.com/matchpilot/matchpilot/internal/store/sqlite"
	"github.com/matchpilot/matchpilot/internal/telemetry"
	"github.com/matchpilot/matchpilot/pkg/protocol"
)

// Exit codes, stable for scripting.
const (
	exitOK            = 0
	exitConfigError   = 2
	exitLoginRequired = 3
	exitQuotaNoSends  = 4
	exitInternal      = 5
)

func runCmd() *cobra.Command {
	var (
		shadow   bool
		autoSend bool
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one outreach run in the foreground",
		Run: func(cmd *cobra.Command, args []string) {
			ov := pipeline.StartOverrides{}
			if cmd.Flags().Changed("shadow") {
				ov.Shadow = &shadow
			}
			if cmd.Flags().Changed("auto-send") {
				ov.AutoSend = &autoSend
			}
			if cmd.Flags().Changed("limit") {
				ov.ProfileLimit = &limit
			}
			os.Exit(runOutreach(ov))
		},
	}

	cmd.Flags().BoolVar(&shadow, "shadow", false, "decide and draft but never touch the reply widget")
	cmd.Flags().BoolVar(&autoSend, "auto-send", false, "submit approved drafts without manual approval")
	cmd.Flags().IntVar(&limit, "limit", 0, "profile budget for this run")

	return cmd
}

func runOutreach(ov pipeline.StartOverrides) int {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("config load failed", "error", err)
		return exitConfigError
	}

	shutdownTelemetry, err := telemetry.Setup(context.Background(), cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry disabled", "error", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTelemetry(ctx)
	}()

	b := bus.New()
	log, err := events.Open(cfg.EventLogPath(), b)
	if err != nil {
		slog.Error("event log open failed", "error", err)
		return exitInternal
	}
	defer log.Close()

	notifier := notify.New(cfg.Notify)
	notifier.Attach(b)

	stores, err := openStores(cfg)
	if err != nil {
		slog.Error("store open failed", "error", err)
		return exitInternal
	}
	defer stores.Close()

	client := providers.NewClient(cfg.Provider.APIKey, cfg.Provider.APIBase)
	manager := pipeline.NewManager(cfg, client, stores, log, clock.NewSystem())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal stops the run cleanly; second forces exit.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		slog.Info("interrupt: stopping run, press again to force exit")
		cancel()
		<-sigCh
		os.Exit(130)
	}()

	sum, err := manager.StartAndWait(ctx, ov)
	if err != nil {
		return exitCodeFor(err)
	}

	fmt.Printf("run %s finished: %s (sent %d, failed %d)\n", sum.RunID, sum.Reason, sum.Sent, sum.Failed)
	if sum.Reason == protocol.ReasonQuota && sum.Sent == 0 {
		return exitQuotaNoSends
	}
	return exitOK
}

func exitCodeFor(err error) int {
	var cerr *config.ConfigError
	if errors.As(err, &cerr) {
		slog.Error("configuration error", "field", cerr.Field, "reason", cerr.Reason)
		return exitConfigError
	}
	var lerr *browser.LoginRequiredError
	if errors.As(err, &lerr) {
		slog.Error("login required", "url", lerr.URL,
			"hint", "set MATCHPILOT_SITE_USERNAME and MATCHPILOT_SITE_PASSWORD, or log in once with headless=false")
		return exitLoginRequired
	}
	slog.Error("run failed", "error", err)
	return exitInternal
}

// openStores opens the backend the config selects: sqlite by default,
// postgres when a DSN is present in the environment.
func openStores(cfg *config.Config) (*store.Stores, error) {
	if cfg.IsManagedStore() {
		return pg.NewPGStores(store.StoreConfig{
			Backend:     "postgres",
			PostgresDSN: cfg.Store.PostgresDSN,
		})
	}
	return sqlite.Open(cfg.SQLitePath())
}
