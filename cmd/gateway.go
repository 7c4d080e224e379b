package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/matchpilot/matchpilot/internal/bus"
	"github.com/matchpilot/matchpilot/internal/clock"
	"github.com/matchpilot/matchpilot/internal/events"
	"github.com/matchpilot/matchpilot/internal/gateway"
	"github.com/matchpilot/matchpilot/internal/notify"
	"github.com/matchpilot/matchpilot/internal/pipeline"
	"github.com/matchpilot/matchpilot/internal/providers"
	"github.com/matchpilot/matchpilot/internal/schedule"
	"github.com/matchpilot/matchpilot/internal/telemetry"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Serve the WebSocket control surface (and optional cron schedule)",
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runGateway())
		},
	}
}

func runGateway() int {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("config load failed", "error", err)
		return exitConfigError
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
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

	clk := clock.NewSystem()
	client := providers.NewClient(cfg.Provider.APIKey, cfg.Provider.APIBase)
	manager := pipeline.NewManager(cfg, client, stores, log, clk)
	server := gateway.NewServer(cfg, resolveConfigPath(), b, manager, stores, clk)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(ctx) })

	if expr := cfg.Run.Schedule; expr != "" {
		sched, err := schedule.New(expr, manager, log, clk)
		if err != nil {
			slog.Error("invalid schedule", "cron", expr, "error", err)
			return exitConfigError
		}
		g.Go(func() error { return sched.Run(ctx) })
	}

	if err := g.Wait(); err != nil {
		slog.Error("gateway exited", "error", err)
		return exitInternal
	}

	// Drain a possibly-running run before exiting.
	if manager.Active() {
		if err := manager.Stop("shutdown"); err == nil {
			slog.Info("waiting for active run to stop")
		}
	}

	slog.Info("gateway stopped")
	return exitOK
}
