// Package browser drives the target site: open the listing, walk candidate
// cards, extract profile text, and operate the reply widget. The scripted
// driver works from configurable selectors; an optional planner mode
// delegates low-level actions to a computer-use model instead.
package browser

import (
	"context"
	"fmt"
)

// Driver is the operation contract the pipeline works against. Both the
// scripted and the planner-backed implementations satisfy it; tests fake it.
type Driver interface {
	// Open navigates to the listing URL and ensures a logged-in state.
	// Returns *LoginRequiredError when the site wants a login and no
	// credentials are configured.
	Open(ctx context.Context, url string) error
	// OpenNextProfile opens the next candidate card. False means the
	// listing is exhausted. Handles landing directly on a profile.
	OpenNextProfile(ctx context.Context) (bool, error)
	// ReadProfileText returns the full text of the open profile, never
	// a viewport-truncated slice and never text from a previous profile.
	ReadProfileText(ctx context.Context) (string, error)
	// ProfileName returns the candidate's display name, or "" when it
	// cannot be located.
	ProfileName(ctx context.Context) string
	// FocusInput gives keyboard focus to the reply widget.
	FocusInput(ctx context.Context) error
	// Fill clears the focused widget and types text into it.
	Fill(ctx context.Context, text string) error
	// Submit activates the reply submit control.
	Submit(ctx context.Context) error
	// VerifySent reports whether the page shows a post-send marker.
	VerifySent(ctx context.Context) (bool, error)
	// Skip dismisses the current card so OpenNextProfile advances.
	Skip(ctx context.Context) error
	// Close releases the browser.
	Close() error
}

// LoginRequiredError means the site wants a login and the driver has no
// credentials to script one. The CLI maps it to its own exit code.
type LoginRequiredError struct {
	URL string
}

func (e *LoginRequiredError) Error() string {
	return fmt.Sprintf("login required at %s and no credentials configured", e.URL)
}

// OpError wraps a failed browser operation with the operation name, so the
// coordinator can label profile_processing_error events by stage.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return fmt.Sprintf("browser %s: %v", e.Op, e.Err) }
func (e *OpError) Unwrap() error { return e.Err }
