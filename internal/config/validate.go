package config

import "fmt"

// Largest completion budget current OpenAI models accept.
const maxOutputTokensCap = 128000

func oneOf(v string, allowed ...string) bool {
	if v == "" {
		return true
	}
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Validate checks structural config invariants. It returns a *ConfigError
// describing the first problem found.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Run.ProfileLimit <= 0 {
		return &ConfigError{Field: "run.profile_limit", Reason: "must be positive"}
	}
	if c.Run.PaceSeconds < 0 {
		return &ConfigError{Field: "run.pace_seconds", Reason: "must not be negative"}
	}
	if c.Run.DailyQuota <= 0 {
		return &ConfigError{Field: "run.daily_quota", Reason: "must be positive"}
	}
	if c.Run.WeeklyQuota <= 0 {
		return &ConfigError{Field: "run.weekly_quota", Reason: "must be positive"}
	}
	if c.Run.MaxMessageChars <= 0 {
		return &ConfigError{Field: "run.max_message_chars", Reason: "must be positive"}
	}

	if c.Provider.Name != "openai" {
		return &ConfigError{Field: "provider.name", Reason: fmt.Sprintf("unknown provider %q", c.Provider.Name)}
	}
	if c.Provider.MaxOutputTokens <= 0 {
		return &ConfigError{Field: "provider.max_output_tokens", Reason: "must be positive"}
	}
	if c.Provider.MaxOutputTokens > maxOutputTokensCap {
		return &ConfigError{Field: "provider.max_output_tokens", Reason: fmt.Sprintf("must be at most %d", maxOutputTokensCap)}
	}
	if t := c.Provider.Temperature; t != nil && (*t < 0 || *t > 2) {
		return &ConfigError{Field: "provider.temperature", Reason: "must be between 0 and 2"}
	}
	if !oneOf(c.Provider.Verbosity, "low", "medium", "high") {
		return &ConfigError{Field: "provider.verbosity", Reason: fmt.Sprintf("unknown verbosity %q", c.Provider.Verbosity)}
	}
	if !oneOf(c.Provider.ReasoningEffort, "minimal", "low", "medium", "high") {
		return &ConfigError{Field: "provider.reasoning_effort", Reason: fmt.Sprintf("unknown effort %q", c.Provider.ReasoningEffort)}
	}
	if c.Provider.DecisionTimeoutSec <= 0 {
		return &ConfigError{Field: "provider.decision_timeout_sec", Reason: "must be positive"}
	}

	if !oneOf(c.Browser.PlannerMode, "off", "loop") {
		return &ConfigError{Field: "browser.planner_mode", Reason: fmt.Sprintf("unknown mode %q", c.Browser.PlannerMode)}
	}
	if c.Browser.PlannerMaxTurns <= 0 {
		return &ConfigError{Field: "browser.planner_max_turns", Reason: "must be positive"}
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return &ConfigError{Field: "browser.viewport", Reason: "width and height must be positive"}
	}
	if c.Browser.OpTimeoutSec <= 0 {
		return &ConfigError{Field: "browser.op_timeout_sec", Reason: "must be positive"}
	}
	if c.Browser.VerifyWindowSec <= 0 {
		return &ConfigError{Field: "browser.verify_window_sec", Reason: "must be positive"}
	}

	if !oneOf(c.Store.Backend, "sqlite", "postgres") {
		return &ConfigError{Field: "store.backend", Reason: fmt.Sprintf("unknown backend %q", c.Store.Backend)}
	}
	if c.Store.Backend == "postgres" && c.Store.PostgresDSN == "" {
		return &ConfigError{Field: "store.backend", Reason: "postgres backend needs MATCHPILOT_POSTGRES_DSN"}
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return &ConfigError{Field: "gateway.port", Reason: "must be a valid port"}
	}

	if !oneOf(c.Telemetry.Protocol, "grpc", "http") {
		return &ConfigError{Field: "telemetry.protocol", Reason: fmt.Sprintf("unknown protocol %q", c.Telemetry.Protocol)}
	}

	return nil
}

// ValidateForRun extends Validate with everything a live outreach run
// needs: the target URL, the three inputs, and provider credentials.
func (c *Config) ValidateForRun() error {
	if err := c.Validate(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Browser.ListingURL == "" {
		return &ConfigError{Field: "browser.listing_url", Reason: "required (or set MATCHPILOT_LISTING_URL)"}
	}
	if c.Run.SelfProfile == "" {
		return &ConfigError{Field: "run.self_profile", Reason: "required (inline or via self_profile_file)"}
	}
	if c.Run.Criteria == "" {
		return &ConfigError{Field: "run.criteria", Reason: "required (inline or via criteria_file)"}
	}
	if c.Run.Template == "" {
		return &ConfigError{Field: "run.template", Reason: "required (inline or via template_file)"}
	}
	if c.Provider.APIKey == "" {
		return &ConfigError{Field: "provider.api_key", Reason: "set MATCHPILOT_OPENAI_API_KEY"}
	}
	return nil
}
