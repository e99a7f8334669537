// Package config holds all PACTS configuration. Config is loaded from a
// yaml file, falls back to defaults, and can be overridden per-option via
// PACTS_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Browser   BrowserConfig   `yaml:"browser"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Healing   HealingConfig   `yaml:"healing"`
	Cache     CacheConfig     `yaml:"cache"`
	HITL      HITLConfig      `yaml:"hitl"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BrowserConfig configures the browser driver.
type BrowserConfig struct {
	Headless            bool   `yaml:"headless"`
	Bin                 string `yaml:"bin"`
	DebuggerURL         string `yaml:"debugger_url"`
	ViewportWidth       int    `yaml:"viewport_width"`
	ViewportHeight      int    `yaml:"viewport_height"`
	NavigationTimeoutMs int    `yaml:"navigation_timeout_ms"`
	ActionTimeoutMs     int    `yaml:"action_timeout_ms"`
	ReadinessWaitMs     int    `yaml:"readiness_wait_ms"`
	SPAReadinessWaitMs  int    `yaml:"spa_readiness_wait_ms"`
	// SPAMarkers are selectors whose presence marks a single-page app and
	// triggers the longer readiness wait. Operators may extend the list.
	SPAMarkers       []string `yaml:"spa_markers"`
	SessionStatePath string   `yaml:"session_state_path"`
}

// DiscoveryConfig configures the selector discovery engine.
type DiscoveryConfig struct {
	TotalTimeoutMs      int     `yaml:"total_timeout_ms"`
	LabelFirstDiscovery bool    `yaml:"label_first_discovery"`
	DecayPerRound       float64 `yaml:"decay_per_round"`
	// BlockedURLSubstrings and BlockedDOMSelectors extend the default
	// anti-bot challenge signatures.
	BlockedURLSubstrings []string `yaml:"blocked_url_substrings"`
	BlockedDOMSelectors  []string `yaml:"blocked_dom_selectors"`
}

// HealingConfig bounds the self-healing loop.
type HealingConfig struct {
	MaxHealRounds int `yaml:"max_heal_rounds"`
}

// CacheConfig configures the dual-layer selector cache.
type CacheConfig struct {
	Path               string   `yaml:"path"`
	FastTTLSeconds     int      `yaml:"fast_ttl_s"`
	DurableTTLSeconds  int      `yaml:"durable_ttl_s"`
	AllowIDCache       bool     `yaml:"allow_id_cache"`
	AllowUnstableHit   bool     `yaml:"allow_unstable_hit"`
	BypassFormCacheFor []string `yaml:"bypass_form_cache_for_origin"`
}

// HITLConfig configures human-in-the-loop signaling. All channels are
// filesystem/env based; the bridge never reads from a terminal.
type HITLConfig struct {
	TimeoutMs      int    `yaml:"timeout_ms"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	EnvVar         string `yaml:"env_var"`
	ContentFile    string `yaml:"content_file"`
	PresenceFile   string `yaml:"presence_file"`
}

// ArtifactsConfig configures run outputs.
type ArtifactsConfig struct {
	Dir           string `yaml:"dir"`
	ScreenshotDir string `yaml:"screenshot_dir"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the defaults documented in the option table.
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:            true,
			ViewportWidth:       1920,
			ViewportHeight:      1080,
			NavigationTimeoutMs: 30000,
			ActionTimeoutMs:     5000,
			ReadinessWaitMs:     500,
			SPAReadinessWaitMs:  1000,
			SPAMarkers:          []string{"#app", "#root", "[data-reactroot]"},
		},
		Discovery: DiscoveryConfig{
			TotalTimeoutMs: 30000,
			DecayPerRound:  0.03,
		},
		Healing: HealingConfig{
			MaxHealRounds: 3,
		},
		Cache: CacheConfig{
			Path:              ".pacts/cache.db",
			FastTTLSeconds:    24 * 60 * 60,
			DurableTTLSeconds: 7 * 24 * 60 * 60,
			AllowIDCache:      true,
			AllowUnstableHit:  true,
		},
		HITL: HITLConfig{
			TimeoutMs:      15 * 60 * 1000,
			PollIntervalMs: 500,
			EnvVar:         "PACTS_2FA_CODE",
			ContentFile:    "hitl/2fa_code.txt",
			PresenceFile:   "hitl/continue.ok",
		},
		Artifacts: ArtifactsConfig{
			Dir:           ".pacts/runs",
			ScreenshotDir: ".pacts/screenshots",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a yaml config file, merges it over the defaults, and applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps PACTS_* environment variables onto config fields.
func (c *Config) applyEnvOverrides() {
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setInt("PACTS_MAX_HEAL_ROUNDS", &c.Healing.MaxHealRounds)
	setInt("PACTS_DISCOVERY_TOTAL_TIMEOUT_MS", &c.Discovery.TotalTimeoutMs)
	setInt("PACTS_ACTION_TIMEOUT_MS", &c.Browser.ActionTimeoutMs)
	setInt("PACTS_READINESS_WAIT_MS", &c.Browser.ReadinessWaitMs)
	setInt("PACTS_CACHE_FAST_TTL_S", &c.Cache.FastTTLSeconds)
	setInt("PACTS_CACHE_DURABLE_TTL_S", &c.Cache.DurableTTLSeconds)
	setInt("PACTS_HITL_TIMEOUT_MS", &c.HITL.TimeoutMs)
	setBool("PACTS_ALLOW_ID_CACHE", &c.Cache.AllowIDCache)
	setBool("PACTS_ALLOW_UNSTABLE_HIT", &c.Cache.AllowUnstableHit)
	setBool("PACTS_LABEL_FIRST_DISCOVERY", &c.Discovery.LabelFirstDiscovery)
	setBool("PACTS_HEADLESS", &c.Browser.Headless)
	if v := os.Getenv("PACTS_SESSION_STATE_PATH"); v != "" {
		c.Browser.SessionStatePath = v
	}
	if v := os.Getenv("PACTS_BYPASS_FORM_CACHE_FOR_ORIGIN"); v != "" {
		c.Cache.BypassFormCacheFor = strings.Split(v, ",")
	}
	if v := os.Getenv("PACTS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate rejects configurations the engine cannot honor.
func (c *Config) Validate() error {
	if c.Healing.MaxHealRounds < 0 || c.Healing.MaxHealRounds > 5 {
		return fmt.Errorf("max_heal_rounds must be in [0,5], got %d", c.Healing.MaxHealRounds)
	}
	if c.Discovery.TotalTimeoutMs <= 0 {
		return fmt.Errorf("discovery total_timeout_ms must be positive")
	}
	if c.Browser.ActionTimeoutMs <= 0 {
		return fmt.Errorf("browser action_timeout_ms must be positive")
	}
	if c.HITL.PollIntervalMs <= 0 {
		return fmt.Errorf("hitl poll_interval_ms must be positive")
	}
	return nil
}

// Save writes the config back as yaml.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ActionTimeout returns the per-action timeout.
func (c *Config) ActionTimeout() time.Duration {
	return time.Duration(c.Browser.ActionTimeoutMs) * time.Millisecond
}

// DiscoveryTimeout returns the total discovery wall-clock budget per intent.
func (c *Config) DiscoveryTimeout() time.Duration {
	return time.Duration(c.Discovery.TotalTimeoutMs) * time.Millisecond
}

// HITLTimeout returns the maximum human-in-the-loop wait.
func (c *Config) HITLTimeout() time.Duration {
	return time.Duration(c.HITL.TimeoutMs) * time.Millisecond
}

// FastTTL returns the fast cache layer TTL.
func (c *Config) FastTTL() time.Duration {
	return time.Duration(c.Cache.FastTTLSeconds) * time.Second
}

// DurableTTL returns the durable cache layer TTL.
func (c *Config) DurableTTL() time.Duration {
	return time.Duration(c.Cache.DurableTTLSeconds) * time.Second
}
