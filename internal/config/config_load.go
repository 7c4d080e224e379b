package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DataDir: "~/.matchpilot",
		Run: RunConfig{
			ProfileLimit:    20,
			PaceSeconds:     45,
			DailyQuota:      25,
			WeeklyQuota:     120,
			MaxMessageChars: 500,
			BannedPhrases: []string{
				"act now",
				"100% free",
				"make money fast",
				"guaranteed returns",
			},
		},
		Provider: ProviderConfig{
			Name:               "openai",
			APIBase:            "https://api.openai.com/v1",
			DecisionModel:      "gpt-5-mini",
			CUAModel:           "computer-use-preview",
			MaxOutputTokens:    4000,
			Verbosity:          "low",
			ReasoningEffort:    "minimal",
			DecisionTimeoutSec: 60,
		},
		Browser: BrowserConfig{
			Headless:              true,
			ViewportWidth:         1280,
			ViewportHeight:        800,
			OpTimeoutSec:          15,
			VerifyWindowSec:       5,
			PlannerMode:           "off",
			PlannerMaxTurns:       40,
			PlannerTurnTimeoutSec: 60,
		},
		Store: StoreConfig{
			Backend: "sqlite",
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18111,
		},
	}
}

// Load reads config from a JSON5 file, overlays env vars, then pulls
// run inputs from their *_file companions.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.resolveInputFiles(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Secrets — env is the only source for these.
	envStr("MATCHPILOT_OPENAI_API_KEY", &c.Provider.APIKey)
	envStr("MATCHPILOT_SITE_USERNAME", &c.Browser.Credentials.Username)
	envStr("MATCHPILOT_SITE_PASSWORD", &c.Browser.Credentials.Password)
	envStr("MATCHPILOT_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("MATCHPILOT_TELEGRAM_TOKEN", &c.Notify.Telegram.Token)
	envStr("MATCHPILOT_DISCORD_TOKEN", &c.Notify.Discord.Token)

	// Provider overrides
	envStr("MATCHPILOT_API_BASE", &c.Provider.APIBase)
	envStr("MATCHPILOT_DECISION_MODEL", &c.Provider.DecisionModel)
	envStr("MATCHPILOT_CUA_MODEL", &c.Provider.CUAModel)

	// Run target
	envStr("MATCHPILOT_LISTING_URL", &c.Browser.ListingURL)
	if v := os.Getenv("MATCHPILOT_SHADOW"); v != "" {
		c.Run.Shadow = v == "true" || v == "1"
	}

	// Data dir & notify routing
	envStr("MATCHPILOT_DATA_DIR", &c.DataDir)
	envStr("MATCHPILOT_TELEGRAM_CHAT_ID", &c.Notify.Telegram.ChatID)
	envStr("MATCHPILOT_DISCORD_CHANNEL_ID", &c.Notify.Discord.ChannelID)

	// Gateway host/port
	envStr("MATCHPILOT_HOST", &c.Gateway.Host)
	if v := os.Getenv("MATCHPILOT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	// Database: a DSN in the env selects the postgres backend.
	if v := os.Getenv("MATCHPILOT_POSTGRES_DSN"); v != "" {
		c.Store.PostgresDSN = v
		c.Store.Backend = "postgres"
	}

	// Telemetry
	envStr("MATCHPILOT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("MATCHPILOT_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("MATCHPILOT_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("MATCHPILOT_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("MATCHPILOT_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Call after patching config at runtime to restore env secrets.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyEnvOverrides()
}

// resolveInputFiles loads the self profile, criteria and template texts
// from their *_file companions. Inline values win when both are set.
func (c *Config) resolveInputFiles() error {
	load := func(name string, file string, dst *string) error {
		if *dst != "" || file == "" {
			return nil
		}
		data, err := os.ReadFile(ExpandHome(file))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		*dst = string(data)
		return nil
	}
	if err := load("self profile", c.Run.SelfProfileFile, &c.Run.SelfProfile); err != nil {
		return err
	}
	if err := load("criteria", c.Run.CriteriaFile, &c.Run.Criteria); err != nil {
		return err
	}
	return load("template", c.Run.TemplateFile, &c.Run.Template)
}

// Save writes the config to a JSON file. Secret fields carry `json:"-"`,
// so they never reach disk.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for optimistic concurrency.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with secret presence
// indicated but values masked. Used by config.get to avoid exposing
// secrets to WebSocket clients.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Deep copy via JSON round-trip. Secrets are json:"-" and drop out here.
	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	mark := func(src string, dst *string) {
		if src != "" {
			*dst = secretMask
		}
	}
	mark(c.Provider.APIKey, &cp.Provider.APIKey)
	mark(c.Browser.Credentials.Username, &cp.Browser.Credentials.Username)
	mark(c.Browser.Credentials.Password, &cp.Browser.Credentials.Password)
	mark(c.Gateway.Token, &cp.Gateway.Token)
	mark(c.Notify.Telegram.Token, &cp.Notify.Telegram.Token)
	mark(c.Notify.Discord.Token, &cp.Notify.Discord.Token)
	mark(c.Store.PostgresDSN, &cp.Store.PostgresDSN)

	return cp
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
