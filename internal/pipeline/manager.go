package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/matchpilot/matchpilot/internal/browser"
	"github.com/matchpilot/matchpilot/internal/clock"
	"github.com/matchpilot/matchpilot/internal/config"
	"github.com/matchpilot/matchpilot/internal/engine"
	"github.com/matchpilot/matchpilot/internal/events"
	"github.com/matchpilot/matchpilot/internal/metrics"
	"github.com/matchpilot/matchpilot/internal/models"
	"github.com/matchpilot/matchpilot/internal/providers"
	"github.com/matchpilot/matchpilot/internal/stop"
	"github.com/matchpilot/matchpilot/internal/store"
	"github.com/matchpilot/matchpilot/internal/template"
	"github.com/matchpilot/matchpilot/pkg/protocol"
)

// ErrRunActive is returned by Start while a run is in flight: one browser
// session per account, so one run per process.
var ErrRunActive = errors.New("a run is already active")

// ErrNoRun is returned by Stop when nothing is running.
var ErrNoRun = errors.New("no active run")

// DriverFactory builds a fresh driver for one run. Injected so tests run
// the manager without a browser.
type DriverFactory func(rc RunContext, runLog *events.RunLog, sig *stop.Signal) (browser.Driver, error)

// StartOverrides are per-start parameter overrides on top of the loaded
// configuration (the gateway's run.start accepts these).
type StartOverrides struct {
	Shadow       *bool
	AutoSend     *bool
	ProfileLimit *int
}

// Manager owns run lifecycle: at most one active run, started against the
// current configuration, stoppable through the shared stop surface.
type Manager struct {
	cfg    *config.Config
	client *providers.Client
	stores *store.Stores
	log    *events.Log
	clk    clock.Clock

	// NewDriver defaults to the rod driver; tests replace it.
	NewDriver DriverFactory

	mu     sync.Mutex
	active *activeRun
	last   *Summary
}

type activeRun struct {
	runID     string
	sig       *stop.Signal
	cancel    context.CancelFunc
	met       *metrics.Run
	startedAt time.Time
	done      chan struct{}

	summary Summary
	err     error
}

func NewManager(cfg *config.Config, client *providers.Client, stores *store.Stores, log *events.Log, clk clock.Clock) *Manager {
	m := &Manager{cfg: cfg, client: client, stores: stores, log: log, clk: clk}
	m.NewDriver = m.rodDriver
	return m
}

// rodDriver is the production driver factory: a scripted rod driver, with
// the planner loop attached when configured and a computer-use model is
// available.
func (m *Manager) rodDriver(rc RunContext, runLog *events.RunLog, sig *stop.Signal) (browser.Driver, error) {
	drv := browser.NewRod(m.cfg.Browser, m.cfg.SessionFilePath())
	drv.OnEvent = runLog.Emit

	if m.cfg.Browser.PlannerMode == "loop" {
		if rc.CUAModel == "" {
			slog.Warn("planner mode requested but no computer-use model available, using scripted driver")
			return drv, nil
		}
		turnTimeout := time.Duration(m.cfg.Browser.PlannerTurnTimeoutSec) * time.Second
		p := browser.NewPlanner(m.client, rc.CUAModel, m.cfg.Browser.PlannerMaxTurns, turnTimeout, sig)
		p.OnTurn = func(turn int, actionType string) {
			runLog.Emit(protocol.EventPlannerTurn, map[string]interface{}{
				"turn": turn, "action": actionType,
			})
		}
		drv.SetPlanner(p)
	}
	return drv, nil
}

// Start launches a run in the background and returns its ID. Model
// resolution and driver construction happen synchronously so callers get
// configuration failures immediately.
func (m *Manager) Start(ctx context.Context, ov StartOverrides) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		select {
		case <-m.active.done:
			// finished, fall through
		default:
			return "", ErrRunActive
		}
	}

	if err := m.cfg.ValidateForRun(); err != nil {
		return "", err
	}

	resolved, err := models.Resolve(ctx, m.client, m.cfg.Provider.DecisionModel, m.cfg.Provider.CUAModel)
	if err != nil {
		return "", fmt.Errorf("resolve models: %w", err)
	}

	rc := NewRunContext(m.cfg, resolved.DecisionModel, resolved.CUAModel)
	if ov.Shadow != nil {
		rc.Shadow = *ov.Shadow
	}
	if ov.AutoSend != nil {
		rc.AutoSend = *ov.AutoSend
	}
	if ov.ProfileLimit != nil && *ov.ProfileLimit > 0 {
		rc.ProfileLimit = *ov.ProfileLimit
	}

	sig := stop.New()
	runLog := events.NewRunLog(m.log, rc.RunID)
	met := metrics.NewRun(m.clk.Now())

	driver, err := m.NewDriver(rc, runLog, sig)
	if err != nil {
		return "", fmt.Errorf("build driver: %w", err)
	}

	eng := engine.New(m.client, engine.Options{
		Model:           rc.DecisionModel,
		MaxOutputTokens: m.cfg.Provider.MaxOutputTokens,
		Temperature:     m.cfg.Provider.Temperature,
		Verbosity:       m.cfg.Provider.Verbosity,
		ReasoningEffort: m.cfg.Provider.ReasoningEffort,
		ServiceTier:     m.cfg.Provider.ServiceTier,
		Timeout:         time.Duration(m.cfg.Provider.DecisionTimeoutSec) * time.Second,
	})

	pacer := NewPacer(rc.Pace(), m.clk)
	send := NewSendStep(driver, m.stores.Quota, sig, runLog, met, m.clk, pacer, rc.DailyQuota, rc.WeeklyQuota)
	coord := NewCoordinator(rc, Deps{
		Driver:   driver,
		Engine:   eng,
		Seen:     m.stores.Seen,
		Send:     send,
		Renderer: template.New(rc.MaxMessageChars, rc.BannedPhrases),
		Log:      runLog,
		Metrics:  met,
		Clock:    m.clk,
		Stop:     sig,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	ar := &activeRun{
		runID:     rc.RunID,
		sig:       sig,
		cancel:    cancel,
		met:       met,
		startedAt: m.clk.Now(),
		done:      make(chan struct{}),
	}
	m.active = ar

	go func() {
		defer close(ar.done)
		defer cancel()

		go func() {
			if err := stop.WatchFile(runCtx, m.cfg.StopFilePath(), sig); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("stop-file watcher exited", "error", err)
			}
		}()

		summary, err := coord.Run(runCtx)
		if cerr := driver.Close(); cerr != nil {
			slog.Warn("driver close failed", "error", cerr)
		}

		m.mu.Lock()
		ar.summary, ar.err = summary, err
		m.last = &summary
		m.mu.Unlock()

		if err != nil {
			slog.Error("run failed", "run_id", rc.RunID, "error", err)
		} else {
			slog.Info("run complete", "run_id", rc.RunID, "reason", summary.Reason, "sent", summary.Sent)
		}
	}()

	return rc.RunID, nil
}

// StartAndWait runs synchronously: start, then block until the run ends or
// ctx is cancelled (cancellation raises the stop signal and still waits
// for a clean shutdown).
func (m *Manager) StartAndWait(ctx context.Context, ov StartOverrides) (Summary, error) {
	runID, err := m.Start(ctx, ov)
	if err != nil {
		return Summary{}, err
	}

	m.mu.Lock()
	ar := m.active
	m.mu.Unlock()

	for {
		select {
		case <-ar.done:
			m.mu.Lock()
			defer m.mu.Unlock()
			return ar.summary, ar.err
		case <-ctx.Done():
			ar.sig.Set("cancelled")
			slog.Info("waiting for run to stop", "run_id", runID)
			<-ar.done
			m.mu.Lock()
			defer m.mu.Unlock()
			return ar.summary, ar.err
		}
	}
}

// Stop raises the stop signal of the active run.
func (m *Manager) Stop(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return ErrNoRun
	}
	select {
	case <-m.active.done:
		return ErrNoRun
	default:
	}
	m.active.sig.Set(reason)
	return nil
}

// Active reports whether a run is currently in flight.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return false
	}
	select {
	case <-m.active.done:
		return false
	default:
		return true
	}
}

// Status summarizes the active run, or the last finished one.
func (m *Manager) Status() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		select {
		case <-m.active.done:
		default:
			return map[string]interface{}{
				"state":      "running",
				"run_id":     m.active.runID,
				"started_at": m.active.startedAt.UTC().Format(time.RFC3339),
				"metrics":    m.active.met.Snapshot(m.clk.Now()),
			}
		}
	}

	if m.last != nil {
		return map[string]interface{}{
			"state":   "idle",
			"run_id":  m.last.RunID,
			"reason":  m.last.Reason,
			"sent":    m.last.Sent,
			"metrics": m.last.Snapshot,
		}
	}
	return map[string]interface{}{"state": "idle"}
}
