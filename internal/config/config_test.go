package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("UPSTREAM_WS_URL", "ws://support.local/ws/agent")
	t.Setenv("RECONNECT_DELAY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ClaimTimeout != 5*time.Second {
		t.Fatalf("expected 5s claim timeout, got %s", cfg.ClaimTimeout)
	}
	if cfg.ReconnectDelay != 5*time.Second {
		t.Fatalf("invalid duration should fall back to 5s, got %s", cfg.ReconnectDelay)
	}
	if cfg.Archive.PruneSchedule == "" || !cfg.Archive.Enabled {
		t.Fatalf("unexpected archive defaults: %+v", cfg.Archive)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("X_DUR", "250ms")
	if got := getEnvDuration("X_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", got)
	}
	t.Setenv("X_DUR", "7")
	if got := getEnvDuration("X_DUR", time.Second); got != 7*time.Second {
		t.Fatalf("expected bare seconds, got %s", got)
	}
	if got := getEnvDuration("X_DUR_UNSET", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := Config{
		Port:           "8090",
		UpstreamWSURL:  "wss://support.example.com/ws/agent",
		BackendURL:     "https://support.example.com/api",
		DBPath:         "./data/agentdesk.db",
		ReconnectDelay: time.Second,
		ClaimTimeout:   time.Second,
		ClosedLimit:    10,
		Archive:        ArchiveConfig{Enabled: true, TTL: time.Hour},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"http upstream", func(c *Config) { c.UpstreamWSURL = "http://x" }, "UPSTREAM_WS_URL"},
		{"no backend", func(c *Config) { c.BackendURL = "" }, "BACKEND_URL"},
		{"zero claim timeout", func(c *Config) { c.ClaimTimeout = 0 }, "CLAIM_TIMEOUT"},
		{"zero retention", func(c *Config) { c.ClosedLimit = 0 }, "CLOSED_RETENTION"},
		{"zero archive ttl", func(c *Config) { c.Archive.TTL = 0 }, "ARCHIVE_TTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %s error, got %v", tt.want, err)
			}
		})
	}
}
