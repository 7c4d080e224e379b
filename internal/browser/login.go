package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// ensureLoggedIn probes the logged-in signal and, when absent, runs the
// scripted login if credentials are configured. Without credentials it
// emits login_required and returns *LoginRequiredError so the run aborts.
func (r *Rod) ensureLoggedIn(ctx context.Context, url string) error {
	if r.probeLoggedIn(ctx) {
		return nil
	}

	creds := r.cfg.Credentials
	if creds.Username == "" || creds.Password == "" {
		r.emit("login_required", map[string]interface{}{"url": url})
		return &LoginRequiredError{URL: url}
	}

	if err := r.scriptedLogin(ctx, url); err != nil {
		r.emit("auto_login_failed", map[string]interface{}{"error": err.Error()})
		return &OpError{Op: "login", Err: err}
	}

	r.emit("auto_login_success", nil)
	if r.sessionPath != "" {
		// Persist the fresh session so the next run skips the login.
		_ = SaveCookies(r.page, r.sessionPath)
	}
	return nil
}

// probeLoggedIn checks for the configured logged-in signal.
func (r *Rod) probeLoggedIn(ctx context.Context) bool {
	has, _, err := r.page.Context(ctx).Timeout(3 * time.Second).Has(r.sel.LoginProbe)
	return err == nil && has
}

// scriptedLogin fills the site login form with the configured credentials.
// The credentials are typed into the page and never logged or persisted.
func (r *Rod) scriptedLogin(ctx context.Context, returnURL string) error {
	if r.sel.LoginURL != "" {
		if err := r.op(ctx).Navigate(r.sel.LoginURL); err != nil {
			return fmt.Errorf("navigate login page: %w", err)
		}
		if err := r.op(ctx).WaitLoad(); err != nil {
			return fmt.Errorf("wait login page: %w", err)
		}
	}

	user, err := r.op(ctx).Element(r.sel.LoginUser)
	if err != nil {
		return fmt.Errorf("username input: %w", err)
	}
	if err := user.Input(r.cfg.Credentials.Username); err != nil {
		return fmt.Errorf("type username: %w", err)
	}

	pass, err := r.op(ctx).Element(r.sel.LoginPass)
	if err != nil {
		return fmt.Errorf("password input: %w", err)
	}
	if err := pass.Input(r.cfg.Credentials.Password); err != nil {
		return fmt.Errorf("type password: %w", err)
	}

	submit, err := r.op(ctx).Element(r.sel.LoginSubmit)
	if err != nil {
		return fmt.Errorf("login button: %w", err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click login: %w", err)
	}
	if err := r.op(ctx).WaitLoad(); err != nil {
		return fmt.Errorf("wait after login: %w", err)
	}

	if r.sel.LoginURL != "" {
		if err := r.op(ctx).Navigate(returnURL); err != nil {
			return fmt.Errorf("return to listing: %w", err)
		}
		if err := r.op(ctx).WaitLoad(); err != nil {
			return fmt.Errorf("wait listing: %w", err)
		}
	}

	if !r.probeLoggedIn(ctx) {
		return fmt.Errorf("logged-in signal absent after scripted login")
	}
	return nil
}
