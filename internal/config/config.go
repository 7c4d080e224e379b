// Package config defines the matchpilot configuration: a JSON5 file with
// env-var overlays. Secrets are never read from or written to the file —
// they come from MATCHPILOT_* environment variables only.
package config

import (
	"fmt"
	"path/filepath"
	"sync"
)

// Config is the root configuration.
type Config struct {
	DataDir   string          `json:"data_dir,omitempty"`
	Run       RunConfig       `json:"run"`
	Provider  ProviderConfig  `json:"provider"`
	Browser   BrowserConfig   `json:"browser"`
	Store     StoreConfig     `json:"store,omitempty"`
	Gateway   GatewayConfig   `json:"gateway"`
	Notify    NotifyConfig    `json:"notify,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// RunConfig holds the three user inputs and the safety knobs for a run.
// The *_file variants load the corresponding text from a file at startup;
// inline values win when both are set.
type RunConfig struct {
	SelfProfile     string `json:"self_profile,omitempty"`
	SelfProfileFile string `json:"self_profile_file,omitempty"`
	Criteria        string `json:"criteria,omitempty"`
	CriteriaFile    string `json:"criteria_file,omitempty"`
	Template        string `json:"template,omitempty"`
	TemplateFile    string `json:"template_file,omitempty"`

	AutoSend     bool `json:"auto_send"`
	Shadow       bool `json:"shadow"`
	ProfileLimit int  `json:"profile_limit"`
	PaceSeconds  int  `json:"pace_seconds"`
	DailyQuota   int  `json:"daily_quota"`
	WeeklyQuota  int  `json:"weekly_quota"`

	// Rendered message constraints.
	MaxMessageChars int      `json:"max_message_chars"`
	BannedPhrases   []string `json:"banned_phrases,omitempty"`

	// Optional cron expression for gateway-mode scheduled runs.
	Schedule string `json:"schedule,omitempty"`
}

// ProviderConfig configures the LLM provider used for decisions and the
// optional computer-use planner.
type ProviderConfig struct {
	Name    string `json:"name"`
	APIKey  string `json:"-"` // from env MATCHPILOT_OPENAI_API_KEY only
	APIBase string `json:"api_base,omitempty"`

	DecisionModel string `json:"decision_model,omitempty"`
	CUAModel      string `json:"cua_model,omitempty"`

	MaxOutputTokens    int      `json:"max_output_tokens"`
	Temperature        *float64 `json:"temperature,omitempty"`
	Verbosity          string   `json:"verbosity,omitempty"`
	ReasoningEffort    string   `json:"reasoning_effort,omitempty"`
	ServiceTier        string   `json:"service_tier,omitempty"`
	DecisionTimeoutSec int      `json:"decision_timeout_sec"`
}

// BrowserConfig configures the driver and the target site.
type BrowserConfig struct {
	ListingURL  string   `json:"listing_url"`
	Headless    bool     `json:"headless"`
	DebuggerURL string   `json:"debugger_url,omitempty"` // attach to an existing browser instead of launching
	LaunchFlags []string `json:"launch_flags,omitempty"` // extra chromium flags, "name=value" or "name"

	ViewportWidth  int `json:"viewport_width"`
	ViewportHeight int `json:"viewport_height"`

	OpTimeoutSec    int `json:"op_timeout_sec"`
	VerifyWindowSec int `json:"verify_window_sec"`

	PlannerMode           string `json:"planner_mode,omitempty"` // "off" (default) or "loop"
	PlannerMaxTurns       int    `json:"planner_max_turns"`
	PlannerTurnTimeoutSec int    `json:"planner_turn_timeout_sec"`

	SessionFile string `json:"session_file,omitempty"` // cookie snapshot for login reuse

	Credentials CredentialsConfig `json:"credentials,omitempty"`
	Selectors   SelectorsConfig   `json:"selectors,omitempty"`
}

// CredentialsConfig holds site login credentials. Env only, never persisted.
type CredentialsConfig struct {
	Username string `json:"-"` // from env MATCHPILOT_SITE_USERNAME only
	Password string `json:"-"` // from env MATCHPILOT_SITE_PASSWORD only
}

// SelectorsConfig makes the site's selector strings and confirmation
// heuristics swappable without a rebuild. Empty fields fall back to the
// driver's built-in defaults.
type SelectorsConfig struct {
	LoginProbe  string `json:"login_probe,omitempty"`  // present only when logged in
	LoginURL    string `json:"login_url,omitempty"`
	LoginUser   string `json:"login_user,omitempty"`   // username input
	LoginPass   string `json:"login_pass,omitempty"`   // password input
	LoginSubmit string `json:"login_submit,omitempty"` // login button

	ProfileCard string `json:"profile_card,omitempty"` // next candidate card in the listing
	ProfileRoot string `json:"profile_root,omitempty"` // container of the full profile text
	ProfileName string `json:"profile_name,omitempty"` // candidate display name

	ReplyPlaceholders []string `json:"reply_placeholders,omitempty"` // placeholder texts of the reply widget
	SubmitLabels      []string `json:"submit_labels,omitempty"`      // localized submit button labels, in priority order
	SentMarkers       []string `json:"sent_markers,omitempty"`       // post-send confirmation texts
	SkipControl       string   `json:"skip_control,omitempty"`       // dismiss/advance control
}

// StoreConfig selects the durable backend for the seen and quota stores.
type StoreConfig struct {
	Backend     string `json:"backend,omitempty"` // "sqlite" (default) or "postgres"
	SQLitePath  string `json:"sqlite_path,omitempty"`
	PostgresDSN string `json:"-"` // from env MATCHPILOT_POSTGRES_DSN only
}

// GatewayConfig configures the WebSocket control surface.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"-"` // from env MATCHPILOT_GATEWAY_TOKEN only
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// NotifyConfig configures optional run-summary notifications.
type NotifyConfig struct {
	Telegram TelegramNotifyConfig `json:"telegram,omitempty"`
	Discord  DiscordNotifyConfig  `json:"discord,omitempty"`
}

type TelegramNotifyConfig struct {
	Token  string `json:"-"` // from env MATCHPILOT_TELEGRAM_TOKEN only
	ChatID string `json:"chat_id,omitempty"`
}

type DiscordNotifyConfig struct {
	Token     string `json:"-"` // from env MATCHPILOT_DISCORD_TOKEN only
	ChannelID string `json:"channel_id,omitempty"`
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// ConfigError marks a configuration problem fatal at startup. The CLI maps
// it to its own exit code.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// DataDirPath returns the expanded data directory.
func (c *Config) DataDirPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.DataDir)
}

// EventLogPath returns the event log location inside the data dir.
func (c *Config) EventLogPath() string {
	return filepath.Join(c.DataDirPath(), "events.jsonl")
}

// StopFilePath returns the stop-file location inside the data dir.
func (c *Config) StopFilePath() string {
	return filepath.Join(c.DataDirPath(), "stop")
}

// SQLitePath returns the sqlite store location, honoring an explicit path.
func (c *Config) SQLitePath() string {
	c.mu.RLock()
	p := c.Store.SQLitePath
	c.mu.RUnlock()
	if p != "" {
		return ExpandHome(p)
	}
	return filepath.Join(c.DataDirPath(), "outreach.db")
}

// SessionFilePath returns the browser cookie snapshot location.
func (c *Config) SessionFilePath() string {
	c.mu.RLock()
	p := c.Browser.SessionFile
	c.mu.RUnlock()
	if p != "" {
		return ExpandHome(p)
	}
	return filepath.Join(c.DataDirPath(), "session.json")
}

// IsManagedStore reports whether the postgres backend is active.
func (c *Config) IsManagedStore() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Store.Backend == "postgres" && c.Store.PostgresDSN != ""
}
