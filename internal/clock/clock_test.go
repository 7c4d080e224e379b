package clock

import (
	"context"
	"testing"
	"time"
)

func TestFakeSleepWakesOnAdvance(t *testing.T) {
	fc := NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	done := make(chan error, 1)
	go func() {
		done <- fc.Sleep(context.Background(), 10*time.Second)
	}()

	// Wait for the sleeper to register.
	for i := 0; i < 100 && fc.Sleepers() == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	if fc.Sleepers() != 1 {
		t.Fatalf("Sleepers() = %d, want 1", fc.Sleepers())
	}

	fc.Advance(9 * time.Second)
	select {
	case err := <-done:
		t.Fatalf("sleep returned early: %v", err)
	case <-time.After(10 * time.Millisecond):
	}

	fc.Advance(1 * time.Second)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Sleep() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sleep did not wake after full advance")
	}
}

func TestFakeSleepCancelled(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- fc.Sleep(ctx, time.Hour)
	}()

	for i := 0; i < 100 && fc.Sleepers() == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Sleep() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sleep did not observe cancellation")
	}
}

func TestFakeNowAdvances(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := NewFake(start)

	fc.Advance(90 * time.Minute)
	got := fc.Now()
	want := start.Add(90 * time.Minute)
	if !got.Equal(want) {
		t.Errorf("Now() = %v, want %v", got, want)
	}
}

func TestSystemSleepZeroReturnsImmediately(t *testing.T) {
	c := NewSystem()
	if err := c.Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) = %v, want nil", err)
	}
}
