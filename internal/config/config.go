// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/vinoscout/sourcegate/internal/session"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Governance GovernanceConfig `mapstructure:"governance"`
	Robots     RobotsConfig     `mapstructure:"robots"`
	Provenance ProvenanceConfig `mapstructure:"provenance"`
	Budgets    BudgetsConfig    `mapstructure:"budgets"`
	Retry      RetryConfig      `mapstructure:"retry"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	// Backend is one of "memory", "sqlite", "postgres".
	Backend string `mapstructure:"backend"`
	// DataDir holds the sqlite database file.
	DataDir string `mapstructure:"data_dir"`
	// DSN is the postgres connection string.
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// GovernanceConfig tunes the call gate.
type GovernanceConfig struct {
	Concurrency        int             `mapstructure:"concurrency"`
	CallTimeoutSeconds int             `mapstructure:"call_timeout_seconds"`
	RateLimits         RateLimitConfig `mapstructure:"rate_limits"`
	CircuitThreshold   int             `mapstructure:"circuit_threshold"`
	CircuitCooldownSec int             `mapstructure:"circuit_cooldown_seconds"`
}

// RateLimitConfig holds minimum request spacing, in milliseconds. Lenses and
// sources are keyed by their string names.
type RateLimitConfig struct {
	DefaultMs   int            `mapstructure:"default_ms"`
	PerLensMs   map[string]int `mapstructure:"per_lens_ms"`
	PerSourceMs map[string]int `mapstructure:"per_source_ms"`
}

// RobotsConfig tunes crawl-exclusion fetching and caching.
type RobotsConfig struct {
	UserAgent           string `mapstructure:"user_agent"`
	CacheTTLHours       int    `mapstructure:"cache_ttl_hours"`
	NotFoundTTLHours    int    `mapstructure:"not_found_ttl_hours"`
	MaxRedirects        int    `mapstructure:"max_redirects"`
	MaxBodyKB           int    `mapstructure:"max_body_kb"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
	DefaultCrawlDelayMs int    `mapstructure:"default_crawl_delay_ms"`
}

// ProvenanceConfig sets trust windows per field name, in days.
type ProvenanceConfig struct {
	DefaultTTLDays int            `mapstructure:"default_ttl_days"`
	PerFieldDays   map[string]int `mapstructure:"per_field_days"`
}

// BudgetsConfig holds the session tier table.
type BudgetsConfig struct {
	Presets              map[string]session.Preset `mapstructure:"presets"`
	SessionTimeLimitSecs int                       `mapstructure:"session_time_limit_seconds"`
}

// RetryConfig bounds the per-operation retry budget.
type RetryConfig struct {
	MaxRetries     int `mapstructure:"max_retries"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SOURCEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.max_conns", 4)
	v.SetDefault("storage.min_conns", 1)
	v.SetDefault("storage.conn_lifetime_minutes", 60)
	v.SetDefault("governance.concurrency", 8)
	v.SetDefault("governance.call_timeout_seconds", 30)
	v.SetDefault("governance.circuit_threshold", 5)
	v.SetDefault("governance.circuit_cooldown_seconds", 60)
	v.SetDefault("governance.rate_limits.default_ms", 1000)
	v.SetDefault("governance.rate_limits.per_lens_ms", map[string]int{
		"competition": 2000,
		"panel_guide": 2000,
		"critic":      1500,
		"community":   1000,
		"aggregator":  500,
		"producer":    3000,
	})
	v.SetDefault("robots.user_agent", "sourcegate/1.0 (+https://github.com/vinoscout/sourcegate)")
	v.SetDefault("robots.cache_ttl_hours", 24)
	v.SetDefault("robots.not_found_ttl_hours", 6)
	v.SetDefault("robots.max_redirects", 5)
	v.SetDefault("robots.max_body_kb", 512)
	v.SetDefault("robots.fetch_timeout_seconds", 10)
	v.SetDefault("robots.default_crawl_delay_ms", 2000)
	v.SetDefault("provenance.default_ttl_days", 30)
	v.SetDefault("budgets.session_time_limit_seconds", 300)
	for mode, preset := range session.DefaultPresets() {
		prefix := "budgets.presets." + string(mode) + "."
		v.SetDefault(prefix+"max_search_calls", preset.MaxSearchCalls)
		v.SetDefault(prefix+"max_unlock_calls", preset.MaxUnlockCalls)
		v.SetDefault(prefix+"max_ai_extract_calls", preset.MaxAIExtractCalls)
		v.SetDefault(prefix+"early_stop_threshold", preset.EarlyStopThreshold)
		v.SetDefault(prefix+"escalation_allowed", preset.EscalationAllowed)
	}
	v.SetDefault("retry.max_retries", 1)
	v.SetDefault("retry.timeout_seconds", 120)
}

// Validate enforces required values and reasonable limits. Unknown budget
// modes fail here, at startup, not at first use.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Storage.Backend {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Governance.Concurrency <= 0 {
		return fmt.Errorf("governance.concurrency must be > 0")
	}
	if c.Governance.CallTimeoutSeconds <= 0 {
		return fmt.Errorf("governance.call_timeout_seconds must be > 0")
	}
	if c.Governance.CircuitThreshold <= 0 {
		return fmt.Errorf("governance.circuit_threshold must be > 0")
	}
	for mode := range c.Budgets.Presets {
		if !session.ValidMode(session.Mode(mode)) {
			return fmt.Errorf("unknown budget mode %q", mode)
		}
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	return nil
}

// SessionPresets converts the configured tier table into the session layer's
// typed map, falling back to built-ins when a mode is absent.
func (c Config) SessionPresets() map[session.Mode]session.Preset {
	presets := session.DefaultPresets()
	for mode, preset := range c.Budgets.Presets {
		presets[session.Mode(mode)] = preset
	}
	return presets
}
