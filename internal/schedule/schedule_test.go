package schedule

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matchpilot/matchpilot/internal/clock"
	"github.com/matchpilot/matchpilot/internal/events"
	"github.com/matchpilot/matchpilot/internal/pipeline"
	"github.com/matchpilot/matchpilot/pkg/protocol"
)

type fakeStarter struct {
	mu     sync.Mutex
	calls  int
	errs   []error // returned in order; nil past the end
	called chan struct{}
}

func (f *fakeStarter) Start(ctx context.Context, ov pipeline.StartOverrides) (string, error) {
	f.mu.Lock()
	var err error
	if f.calls < len(f.errs) {
		err = f.errs[f.calls]
	}
	f.calls++
	f.mu.Unlock()
	f.called <- struct{}{}
	return "run-sched", err
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestLog(t *testing.T) (*events.Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := events.Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { log.Close() })
	return log, path
}

func waitForSleeper(t *testing.T, fc *clock.Fake) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for fc.Sleepers() == 0 {
		select {
		case <-deadline:
			t.Fatal("scheduler never slept")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestNewRejectsBadExpression(t *testing.T) {
	log, _ := newTestLog(t)
	if _, err := New("not a cron", &fakeStarter{}, log, clock.NewSystem()); err == nil {
		t.Fatal("want error for invalid expression")
	}
	if _, err := New("*/5 * * * *", &fakeStarter{}, log, clock.NewSystem()); err != nil {
		t.Fatalf("valid expression rejected: %v", err)
	}
}

func TestSchedulerFiresOnTick(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 30, 0, time.UTC))
	starter := &fakeStarter{called: make(chan struct{}, 4)}
	log, _ := newTestLog(t)

	s, err := New("* * * * *", starter, log, fc)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// First tick is at 09:01:00, thirty seconds away.
	waitForSleeper(t, fc)
	fc.Advance(30 * time.Second)

	select {
	case <-starter.called:
	case <-time.After(2 * time.Second):
		t.Fatal("starter not called on tick")
	}

	// Next tick, one minute later.
	waitForSleeper(t, fc)
	fc.Advance(time.Minute)
	select {
	case <-starter.called:
	case <-time.After(2 * time.Second):
		t.Fatal("starter not called on second tick")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}

	if starter.count() != 2 {
		t.Errorf("starts = %d, want 2", starter.count())
	}
}

func TestSchedulerSkipsWhileRunActive(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 30, 0, time.UTC))
	starter := &fakeStarter{called: make(chan struct{}, 2), errs: []error{pipeline.ErrRunActive}}
	log, path := newTestLog(t)

	s, err := New("* * * * *", starter, log, fc)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitForSleeper(t, fc)
	fc.Advance(30 * time.Second)
	select {
	case <-starter.called:
	case <-time.After(2 * time.Second):
		t.Fatal("starter not called")
	}

	// The skip is recorded in the event log.
	deadline := time.After(2 * time.Second)
	for {
		recs, err := events.Read(path)
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for _, r := range recs {
			if r.Event == protocol.EventScheduleSkipped {
				if r.Fields["reason"] != "run_active" {
					t.Errorf("skip reason = %v", r.Fields["reason"])
				}
				found = true
			}
		}
		if found {
			return
		}
		select {
		case <-deadline:
			t.Fatal("schedule_skipped never logged")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
