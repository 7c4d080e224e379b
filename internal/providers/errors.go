package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPError is a non-2xx provider reply. Status and Body drive retry
// classification; RetryAfter, when the server sent one, overrides the
// backoff delay.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("http %d: %s", e.Status, body)
}

// ParseRetryAfter parses a Retry-After header value: either delta-seconds
// or an HTTP date. Returns 0 when absent or unparsable.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// IsRetryable reports whether err is worth a backoff retry: server errors,
// rate limits, and transport failures. 4xx other than 429 is final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status >= 500 || he.Status == http.StatusTooManyRequests
	}
	// Non-HTTP errors here are transport-level (DNS, reset, EOF).
	return true
}

// unsupported-parameter markers seen in provider 400 bodies.
var unsupportedMarkers = []string{
	"unsupported_parameter",
	"unknown_parameter",
	"unsupported parameter",
	"unknown parameter",
	"unsupported value",
	"is not supported with this model",
}

// IsUnsupportedParameter reports whether err is the provider rejecting an
// optional request parameter, which the caller handles by stripping the
// optional parameters and retrying once.
func IsUnsupportedParameter(err error) bool {
	var he *HTTPError
	if !errors.As(err, &he) {
		return false
	}
	if he.Status != http.StatusBadRequest {
		return false
	}
	body := strings.ToLower(he.Body)
	for _, marker := range unsupportedMarkers {
		if strings.Contains(body, marker) {
			return true
		}
	}
	return false
}
