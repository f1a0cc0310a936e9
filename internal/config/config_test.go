package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Instance != DefaultInstance {
		t.Errorf("Instance = %q", cfg.Instance)
	}
	if cfg.Mode != ModeRSS {
		t.Errorf("Mode = %q, want %q", cfg.Mode, ModeRSS)
	}
	if cfg.Delay != 10*time.Minute {
		t.Errorf("Delay = %v, want 10m", cfg.Delay)
	}
	if cfg.Jitter != 30*time.Second {
		t.Errorf("Jitter = %v, want 30s", cfg.Jitter)
	}
	if cfg.LogLevel != zerolog.InfoLevel {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
account: acme
webhook_url: https://discord.test/api/webhooks/1/abc
avatar_url: https://cdn.example/a.png
ping_roles:
  - "111"
  - "222"
instance: https://mirror.example
mode: api
bearer_token: Bearer xyz
db: /var/lib/relay/state.db
delay: 5m
jitter: 45s
log_level: debug
`)

	cfg := DefaultConfig()
	if err := LoadFile(path, true, cfg); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Account != "acme" {
		t.Errorf("Account = %q", cfg.Account)
	}
	if cfg.WebhookURL != "https://discord.test/api/webhooks/1/abc" {
		t.Errorf("WebhookURL = %q", cfg.WebhookURL)
	}
	if diff := cmp.Diff([]string{"111", "222"}, cfg.PingRoles); diff != "" {
		t.Errorf("PingRoles mismatch (-want +got):\n%s", diff)
	}
	if cfg.Instance != "https://mirror.example" {
		t.Errorf("Instance = %q", cfg.Instance)
	}
	if cfg.Mode != ModeAPI {
		t.Errorf("Mode = %q", cfg.Mode)
	}
	if cfg.DBPath != "/var/lib/relay/state.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Delay != 5*time.Minute {
		t.Errorf("Delay = %v", cfg.Delay)
	}
	if cfg.Jitter != 45*time.Second {
		t.Errorf("Jitter = %v", cfg.Jitter)
	}
	if cfg.LogLevel != zerolog.DebugLevel {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
	// Fields absent from the file keep their defaults.
	if cfg.UserAgent != DefaultUserAgent {
		t.Errorf("UserAgent = %q, want default preserved", cfg.UserAgent)
	}
}

func TestLoadFilePartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "account: acme\n")

	cfg := DefaultConfig()
	if err := LoadFile(path, true, cfg); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Account != "acme" {
		t.Errorf("Account = %q", cfg.Account)
	}
	if cfg.Instance != DefaultInstance || cfg.Delay != 10*time.Minute {
		t.Errorf("partial file clobbered defaults: %+v", cfg)
	}
}

func TestLoadFileMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	if err := LoadFile(missing, false, DefaultConfig()); err != nil {
		t.Errorf("implicit missing file: %v, want nil", err)
	}
	if err := LoadFile(missing, true, DefaultConfig()); err == nil {
		t.Error("explicit missing file: want error")
	}
}

func TestLoadFileBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "account: [unclosed"},
		{"bad delay", "delay: soon\n"},
		{"bad jitter", "jitter: -x\n"},
		{"bad log level", "log_level: shouting\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if err := LoadFile(path, true, DefaultConfig()); err == nil {
				t.Error("LoadFile accepted bad value")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("RELAY_ACCOUNT", "envacct")
	t.Setenv("RELAY_WEBHOOK_URL", "https://discord.test/hook")
	t.Setenv("RELAY_PING_ROLES", "1, 2 ,3,")
	t.Setenv("RELAY_MODE", "api")
	t.Setenv("RELAY_BEARER_TOKEN", "Bearer env")
	t.Setenv("RELAY_DELAY", "120")
	t.Setenv("RELAY_JITTER", "1m")
	t.Setenv("RELAY_LOG_LEVEL", "warn")

	cfg := DefaultConfig()
	ApplyEnv(cfg)

	if cfg.Account != "envacct" {
		t.Errorf("Account = %q", cfg.Account)
	}
	if diff := cmp.Diff([]string{"1", "2", "3"}, cfg.PingRoles); diff != "" {
		t.Errorf("PingRoles mismatch (-want +got):\n%s", diff)
	}
	if cfg.Mode != ModeAPI {
		t.Errorf("Mode = %q", cfg.Mode)
	}
	if cfg.Delay != 2*time.Minute {
		t.Errorf("Delay = %v, want bare seconds interpreted", cfg.Delay)
	}
	if cfg.Jitter != time.Minute {
		t.Errorf("Jitter = %v", cfg.Jitter)
	}
	if cfg.LogLevel != zerolog.WarnLevel {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "account: fromfile\ninstance: https://file.example\n")
	t.Setenv("RELAY_ACCOUNT", "fromenv")

	cfg := DefaultConfig()
	if err := LoadFile(path, true, cfg); err != nil {
		t.Fatal(err)
	}
	ApplyEnv(cfg)

	if cfg.Account != "fromenv" {
		t.Errorf("Account = %q, env must win over file", cfg.Account)
	}
	if cfg.Instance != "https://file.example" {
		t.Errorf("Instance = %q, file value must survive", cfg.Instance)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Account = "acme"
		cfg.WebhookURL = "https://discord.test/hook"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing account", func(c *Config) { c.Account = "" }, "account"},
		{"missing webhook", func(c *Config) { c.WebhookURL = "" }, "webhook_url"},
		{"unknown mode", func(c *Config) { c.Mode = "carrier-pigeon" }, "mode"},
		{"api mode without token", func(c *Config) { c.Mode = ModeAPI }, "bearer_token"},
		{"api mode with token", func(c *Config) { c.Mode = ModeAPI; c.BearerToken = "Bearer x" }, ""},
		{"zero delay", func(c *Config) { c.Delay = 0 }, "delay"},
		{"negative jitter", func(c *Config) { c.Jitter = -time.Second }, "jitter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate: %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate: %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"with unit", "90s", 90 * time.Second},
		{"compound", "1h30m", 90 * time.Minute},
		{"bare seconds", "45", 45 * time.Second},
		{"unset", "", 7 * time.Second},
		{"garbage", "soonish", 7 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv("RELAY_TEST_DUR", tt.value)
			}
			if got := GetEnvDuration("RELAY_TEST_DUR", 7*time.Second); got != tt.want {
				t.Errorf("GetEnvDuration(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
