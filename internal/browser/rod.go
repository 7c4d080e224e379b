package browser

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"github.com/matchpilot/matchpilot/internal/config"
)

// Rod is the live driver on a Chromium instance via CDP. One Rod owns one
// browser; it must not be shared across runs.
type Rod struct {
	cfg         config.BrowserConfig
	sel         Selectors
	sessionPath string

	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	input    *rod.Element

	planner *Planner

	// Per-profile caches, cleared on Open / OpenNextProfile / Skip.
	textCache    string
	nameCache    string
	profileURL   string
	preSubmitURL string

	// OnEvent receives driver-level events (login_required,
	// auto_login_success, auto_login_failed, planner_turn).
	OnEvent func(event string, fields map[string]interface{})
}

// NewRod builds a driver from config. sessionPath is the cookie snapshot
// file; empty disables session reuse.
func NewRod(cfg config.BrowserConfig, sessionPath string) *Rod {
	return &Rod{
		cfg:         cfg,
		sel:         ResolveSelectors(cfg.Selectors),
		sessionPath: sessionPath,
	}
}

// SetPlanner switches card navigation to the planner-executor loop.
func (r *Rod) SetPlanner(p *Planner) { r.planner = p }

func (r *Rod) opTimeout() time.Duration {
	return time.Duration(r.cfg.OpTimeoutSec) * time.Second
}

func (r *Rod) verifyWindow() time.Duration {
	return time.Duration(r.cfg.VerifyWindowSec) * time.Second
}

func (r *Rod) emit(event string, fields map[string]interface{}) {
	if r.OnEvent != nil {
		r.OnEvent(event, fields)
	}
}

func (r *Rod) clearProfileCache() {
	r.textCache = ""
	r.nameCache = ""
	r.input = nil
}

// op returns the page scoped to ctx and the per-operation timeout.
func (r *Rod) op(ctx context.Context) *rod.Page {
	return r.page.Context(ctx).Timeout(r.opTimeout())
}

func (r *Rod) Open(ctx context.Context, url string) error {
	r.clearProfileCache()
	r.profileURL = ""

	if r.browser == nil {
		if err := r.connect(ctx); err != nil {
			return &OpError{Op: "open", Err: err}
		}
	}

	if r.page == nil {
		page, err := r.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
		if err != nil {
			return &OpError{Op: "open", Err: fmt.Errorf("create page: %w", err)}
		}
		if err := (proto.EmulationSetDeviceMetricsOverride{
			Width:             r.cfg.ViewportWidth,
			Height:            r.cfg.ViewportHeight,
			DeviceScaleFactor: 1.0,
			Mobile:            false,
		}).Call(page); err != nil {
			slog.Warn("browser: set viewport failed", "error", err)
		}
		r.page = page

		if r.sessionPath != "" {
			if err := RestoreCookies(page, r.sessionPath); err != nil {
				slog.Warn("browser: session restore failed", "error", err)
			}
		}
	}

	if err := r.op(ctx).Navigate(url); err != nil {
		return &OpError{Op: "open", Err: fmt.Errorf("navigate %s: %w", url, err)}
	}
	if err := r.op(ctx).WaitLoad(); err != nil {
		return &OpError{Op: "open", Err: fmt.Errorf("wait load: %w", err)}
	}

	return r.ensureLoggedIn(ctx, url)
}

func (r *Rod) connect(ctx context.Context) error {
	controlURL := r.cfg.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(r.cfg.Headless)
		for _, rawFlag := range r.cfg.LaunchFlags {
			name, val, hasVal := strings.Cut(strings.TrimLeft(rawFlag, "-"), "=")
			if hasVal {
				l = l.Set(flags.Flag(name), val)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}
		url, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chromium: %w", err)
		}
		r.launcher = l
		controlURL = url
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("connect to chromium: %w", err)
	}
	r.browser = b
	return nil
}

// currentURL returns the page URL, "" when unavailable.
func (r *Rod) currentURL() string {
	info, err := r.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// hasProfile reports whether a profile detail is on screen.
func (r *Rod) hasProfile(ctx context.Context) bool {
	has, _, err := r.page.Context(ctx).Timeout(2 * time.Second).Has(r.sel.ProfileRoot)
	return err == nil && has
}

func (r *Rod) OpenNextProfile(ctx context.Context) (bool, error) {
	r.clearProfileCache()

	if r.planner != nil {
		goal := "Open the next candidate profile card in the listing. " +
			"If a profile is already fully visible, leave it open. " +
			"Do not send any message."
		if err := r.planner.Run(ctx, r, goal); err != nil {
			return false, &OpError{Op: "open_next_profile", Err: err}
		}
		if r.hasProfile(ctx) && r.currentURL() != r.profileURL {
			r.profileURL = r.currentURL()
			return true, nil
		}
		return false, nil
	}

	// Landing directly on a profile counts as the next card once.
	if r.hasProfile(ctx) && r.currentURL() != r.profileURL {
		r.profileURL = r.currentURL()
		return true, nil
	}

	card, err := r.page.Context(ctx).Timeout(5 * time.Second).Element(r.sel.ProfileCard)
	if err != nil {
		// No further cards: the listing is exhausted.
		return false, nil
	}
	if err := card.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false, &OpError{Op: "open_next_profile", Err: fmt.Errorf("click card: %w", err)}
	}
	if _, err := r.op(ctx).Element(r.sel.ProfileRoot); err != nil {
		return false, &OpError{Op: "open_next_profile", Err: fmt.Errorf("profile did not appear: %w", err)}
	}

	r.profileURL = r.currentURL()
	return true, nil
}

// extractJS expands collapsed sections inside the profile container and
// returns its complete inner text, independent of the viewport.
const extractJS = `async (rootSel) => {
	const root = document.querySelector(rootSel) || document.body;
	const expanders = root.querySelectorAll('button, [role="button"]');
	let clicked = false;
	for (const el of expanders) {
		const t = (el.innerText || '').trim().toLowerCase();
		if (/^(see|show|read) more/.test(t)) { el.click(); clicked = true; }
	}
	if (clicked) { await new Promise(r => setTimeout(r, 200)); }
	return (root.innerText || '').trim();
}`

func (r *Rod) ReadProfileText(ctx context.Context) (string, error) {
	if r.textCache != "" {
		return r.textCache, nil
	}

	res, err := r.op(ctx).Evaluate(&rod.EvalOptions{
		JS:           extractJS,
		JSArgs:       []interface{}{r.sel.ProfileRoot},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return "", &OpError{Op: "read_profile_text", Err: err}
	}
	if res == nil || res.Value.Nil() {
		return "", nil
	}

	r.textCache = res.Value.Str()
	return r.textCache, nil
}

func (r *Rod) ProfileName(ctx context.Context) string {
	if r.nameCache != "" {
		return r.nameCache
	}
	res, err := r.page.Context(ctx).Timeout(2 * time.Second).Evaluate(&rod.EvalOptions{
		JS: `(sel) => {
			const el = document.querySelector(sel);
			return el ? (el.innerText || '').trim().split('\n')[0] : '';
		}`,
		JSArgs:  []interface{}{r.sel.ProfileName},
		ByValue: true,
	})
	if err != nil || res == nil || res.Value.Nil() {
		return ""
	}
	r.nameCache = strings.TrimSpace(res.Value.Str())
	return r.nameCache
}

func (r *Rod) FocusInput(ctx context.Context) error {
	// Placeholder heuristic first, generic widgets as fallback.
	var candidates []string
	for _, p := range r.sel.ReplyPlaceholders {
		candidates = append(candidates,
			fmt.Sprintf(`textarea[placeholder*=%q]`, p),
			fmt.Sprintf(`input[placeholder*=%q]`, p),
			fmt.Sprintf(`[contenteditable="true"][data-placeholder*=%q]`, p),
		)
	}
	candidates = append(candidates, "textarea", `[contenteditable="true"]`, `input[type="text"]`)

	for _, sel := range candidates {
		el, err := r.page.Context(ctx).Timeout(2 * time.Second).Element(sel)
		if err != nil {
			continue
		}
		if visible, err := el.Visible(); err != nil || !visible {
			continue
		}
		if err := el.Focus(); err != nil {
			continue
		}
		r.input = el
		return nil
	}
	return &OpError{Op: "focus_input", Err: fmt.Errorf("no reply widget found")}
}

func (r *Rod) Fill(ctx context.Context, text string) error {
	if r.input == nil {
		if err := r.FocusInput(ctx); err != nil {
			return err
		}
	}
	if err := r.input.SelectAllText(); err != nil {
		return &OpError{Op: "fill", Err: fmt.Errorf("select existing text: %w", err)}
	}
	if err := r.input.Input(text); err != nil {
		return &OpError{Op: "fill", Err: fmt.Errorf("type draft: %w", err)}
	}
	return nil
}

func (r *Rod) Submit(ctx context.Context) error {
	r.preSubmitURL = r.currentURL()

	for _, label := range r.sel.SubmitLabels {
		pattern := fmt.Sprintf(`/^\s*%s\s*$/i`, regexp.QuoteMeta(label))
		btn, err := r.page.Context(ctx).Timeout(2 * time.Second).ElementR(`button, [role="button"]`, pattern)
		if err != nil {
			continue
		}
		if visible, verr := btn.Visible(); verr != nil || !visible {
			continue
		}
		if err := btn.Click(proto.InputMouseButtonLeft, 1); err == nil {
			return nil
		}
	}

	if btn, err := r.page.Context(ctx).Timeout(2 * time.Second).Element(`button[type="submit"]`); err == nil {
		if err := btn.Click(proto.InputMouseButtonLeft, 1); err == nil {
			return nil
		}
	}

	// Last resort: Enter in the focused input.
	if r.input != nil {
		if err := r.input.Focus(); err == nil {
			if err := r.page.Keyboard.Press(input.Enter); err == nil {
				return nil
			}
		}
	}
	return &OpError{Op: "submit", Err: fmt.Errorf("no submit control matched")}
}

func (r *Rod) VerifySent(ctx context.Context) (bool, error) {
	deadline := time.Now().Add(r.verifyWindow())
	for {
		if marker := r.findSentMarker(ctx); marker != "" {
			return true, nil
		}
		if r.preSubmitURL != "" && r.currentURL() != r.preSubmitURL {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (r *Rod) findSentMarker(ctx context.Context) string {
	res, err := r.page.Context(ctx).Timeout(2 * time.Second).Evaluate(&rod.EvalOptions{
		JS: `(markers) => {
			const text = document.body.innerText || '';
			for (const m of markers) { if (text.includes(m)) return m; }
			return '';
		}`,
		JSArgs:  []interface{}{r.sel.SentMarkers},
		ByValue: true,
	})
	if err != nil || res == nil || res.Value.Nil() {
		return ""
	}
	return res.Value.Str()
}

func (r *Rod) Skip(ctx context.Context) error {
	r.clearProfileCache()

	if r.sel.SkipControl != "" {
		if el, err := r.page.Context(ctx).Timeout(2 * time.Second).Element(r.sel.SkipControl); err == nil {
			if err := el.Click(proto.InputMouseButtonLeft, 1); err == nil {
				return nil
			}
		}
	}
	if err := r.op(ctx).NavigateBack(); err != nil {
		return &OpError{Op: "skip", Err: err}
	}
	return nil
}

func (r *Rod) Close() error {
	if r.page != nil && r.sessionPath != "" {
		if err := SaveCookies(r.page, r.sessionPath); err != nil {
			slog.Warn("browser: session snapshot failed", "error", err)
		}
	}

	var err error
	if r.browser != nil {
		err = r.browser.Close()
		r.browser = nil
	}
	if r.launcher != nil {
		r.launcher.Kill()
		r.launcher.Cleanup()
		r.launcher = nil
	}
	r.page = nil
	return err
}
