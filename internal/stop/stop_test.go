package stop

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSignalFirstReasonWins(t *testing.T) {
	s := New()
	if s.IsSet() {
		t.Fatal("new signal must not be set")
	}
	if s.Reason() != "" {
		t.Fatalf("Reason() = %q, want empty", s.Reason())
	}

	s.Set("user")
	s.Set("stop_file")

	if !s.IsSet() {
		t.Error("signal not set after Set")
	}
	if got := s.Reason(); got != "user" {
		t.Errorf("Reason() = %q, want user", got)
	}

	select {
	case <-s.Done():
	default:
		t.Error("Done channel not closed after Set")
	}
}

func TestContextCancelledOnSet(t *testing.T) {
	s := New()
	ctx, cancel := Context(context.Background(), s)
	defer cancel()

	s.Set("user")

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled within 1s of Set")
	}
}

func TestWatchFileSetsSignalOnTouch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stop")
	sig := New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- WatchFile(ctx, path, sig) }()

	// Give the watcher a beat to register.
	time.Sleep(100 * time.Millisecond)

	if err := Touch(path); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for !sig.IsSet() {
		select {
		case <-deadline:
			t.Fatal("signal not set within 3s of stop file creation")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := sig.Reason(); got != "stop_file" {
		t.Errorf("Reason() = %q, want stop_file", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not exit on context cancel")
	}
}

func TestWatchFileClearsStaleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stop")
	if err := Touch(path); err != nil {
		t.Fatal(err)
	}

	sig := New()
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_ = WatchFile(ctx, path, sig)

	if sig.IsSet() {
		t.Error("stale stop file from a previous run must not stop a new run")
	}
}
