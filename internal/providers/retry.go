package providers

import (
	"context"
	"errors"
	"time"
)

// RetryConfig controls transient-error retries around provider calls.
type RetryConfig struct {
	MaxRetries   int           // extra attempts after the first
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration

	// Sleep is the delay primitive; nil means a context-aware real sleep.
	// Tests inject a fake clock here.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryConfig matches the transient-error policy: two extra
// attempts, exponential backoff starting at 2s, factor 2, capped at 8s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 2 * time.Second,
		Factor:       2,
		MaxDelay:     8 * time.Second,
	}
}

// RetryDo runs fn with the retry policy: only retryable errors (per
// IsRetryable) are retried, a server-sent Retry-After stretches the delay,
// and context cancellation wins over any backoff.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = ctxSleep
	}

	delay := cfg.InitialDelay
	for attempt := 0; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if attempt >= cfg.MaxRetries || !IsRetryable(err) {
			return zero, err
		}

		wait := delay
		var he *HTTPError
		if errors.As(err, &he) && he.RetryAfter > wait {
			wait = he.RetryAfter
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, err
		}

		delay = time.Duration(float64(delay) * cfg.Factor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
