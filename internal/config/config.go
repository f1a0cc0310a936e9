package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application. It is assembled once at
// startup (defaults, then config file, then environment, then flags) and
// treated as immutable afterwards.
type Config struct {
	// Watched account and webhook target
	Account    string
	WebhookURL string
	AvatarURL  string
	PingRoles  []string

	// Upstream settings
	Instance    string
	Mode        string // "rss" or "api"
	HealthURL   string
	BearerToken string
	UserAgent   string

	// State and scheduling
	DBPath string
	Delay  time.Duration
	Jitter time.Duration

	// Log settings
	LogLevel zerolog.Level
}

// fileConfig is the YAML shape of the config file. Durations are strings so
// "10m" style values parse; empty fields leave the current value untouched.
type fileConfig struct {
	Account    string   `yaml:"account"`
	WebhookURL string   `yaml:"webhook_url"`
	AvatarURL  string   `yaml:"avatar_url"`
	PingRoles  []string `yaml:"ping_roles"`

	Instance    string `yaml:"instance"`
	Mode        string `yaml:"mode"`
	HealthURL   string `yaml:"health_url"`
	BearerToken string `yaml:"bearer_token"`
	UserAgent   string `yaml:"user_agent"`

	DBPath   string `yaml:"db"`
	Delay    string `yaml:"delay"`
	Jitter   string `yaml:"jitter"`
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns an initial configuration with hardcoded defaults.
func DefaultConfig() *Config {
	delay, _ := time.ParseDuration(DefaultDelay)
	jitter, _ := time.ParseDuration(DefaultJitter)
	logLevel, _ := zerolog.ParseLevel(DefaultLogLevel)

	return &Config{
		Instance:  DefaultInstance,
		Mode:      DefaultMode,
		UserAgent: DefaultUserAgent,
		DBPath:    DefaultDBPath,
		Delay:     delay,
		Jitter:    jitter,
		LogLevel:  logLevel,
	}
}

// LoadFile merges a YAML config file into cfg. A missing file is only an
// error when the path was given explicitly.
func LoadFile(path string, explicit bool, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&cfg.Account, fc.Account)
	setString(&cfg.WebhookURL, fc.WebhookURL)
	setString(&cfg.AvatarURL, fc.AvatarURL)
	if len(fc.PingRoles) > 0 {
		cfg.PingRoles = fc.PingRoles
	}
	setString(&cfg.Instance, fc.Instance)
	setString(&cfg.Mode, fc.Mode)
	setString(&cfg.HealthURL, fc.HealthURL)
	setString(&cfg.BearerToken, fc.BearerToken)
	setString(&cfg.UserAgent, fc.UserAgent)
	setString(&cfg.DBPath, fc.DBPath)

	if err := setDuration(&cfg.Delay, fc.Delay); err != nil {
		return fmt.Errorf("invalid delay in %s: %w", path, err)
	}
	if err := setDuration(&cfg.Jitter, fc.Jitter); err != nil {
		return fmt.Errorf("invalid jitter in %s: %w", path, err)
	}

	if fc.LogLevel != "" {
		level, err := zerolog.ParseLevel(fc.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log_level in %s: %w", path, err)
		}
		cfg.LogLevel = level
	}
	return nil
}

// ApplyEnv overrides cfg with RELAY_* environment variables. Environment
// takes precedence over the config file, flags take precedence over both.
func ApplyEnv(cfg *Config) {
	cfg.Account = GetEnvString("RELAY_ACCOUNT", cfg.Account)
	cfg.WebhookURL = GetEnvString("RELAY_WEBHOOK_URL", cfg.WebhookURL)
	cfg.AvatarURL = GetEnvString("RELAY_AVATAR_URL", cfg.AvatarURL)
	cfg.PingRoles = GetEnvStringSlice("RELAY_PING_ROLES", cfg.PingRoles)
	cfg.Instance = GetEnvString("RELAY_INSTANCE", cfg.Instance)
	cfg.Mode = GetEnvString("RELAY_MODE", cfg.Mode)
	cfg.HealthURL = GetEnvString("RELAY_HEALTH_URL", cfg.HealthURL)
	cfg.BearerToken = GetEnvString("RELAY_BEARER_TOKEN", cfg.BearerToken)
	cfg.UserAgent = GetEnvString("RELAY_USER_AGENT", cfg.UserAgent)
	cfg.DBPath = GetEnvString("RELAY_DB_PATH", cfg.DBPath)
	cfg.Delay = GetEnvDuration("RELAY_DELAY", cfg.Delay)
	cfg.Jitter = GetEnvDuration("RELAY_JITTER", cfg.Jitter)
	cfg.LogLevel = GetEnvLogLevel("RELAY_LOG_LEVEL", cfg.LogLevel)
}

// Validate checks that the configuration is complete enough to run the poller.
func (c *Config) Validate() error {
	if c.Account == "" {
		return fmt.Errorf("account is required")
	}
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook_url is required")
	}
	switch c.Mode {
	case ModeRSS, ModeAPI:
	default:
		return fmt.Errorf("unknown mode %q, expected %q or %q", c.Mode, ModeRSS, ModeAPI)
	}
	if c.Mode == ModeAPI && c.BearerToken == "" {
		return fmt.Errorf("bearer_token is required in api mode")
	}
	if c.Delay <= 0 {
		return fmt.Errorf("delay must be positive")
	}
	if c.Jitter < 0 {
		return fmt.Errorf("jitter must not be negative")
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
