// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	AgentID        string
	UpstreamWSURL  string
	BackendURL     string
	FrontendURL    string
	DBPath         string
	LogLevel       string
	ReconnectDelay time.Duration
	ClaimTimeout   time.Duration
	HTTPTimeout    time.Duration
	ClosedLimit    int
	Archive        ArchiveConfig
}

// ArchiveConfig controls the closed-session archive.
type ArchiveConfig struct {
	Enabled       bool
	TTL           time.Duration
	PruneSchedule string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8090"),
		AgentID:        getEnv("AGENT_ID", ""),
		UpstreamWSURL:  getEnv("UPSTREAM_WS_URL", "ws://localhost:8000/ws/agent"),
		BackendURL:     getEnv("BACKEND_URL", "http://localhost:8000/api"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/agentdesk.db"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		ReconnectDelay: getEnvDuration("RECONNECT_DELAY", 5*time.Second),
		ClaimTimeout:   getEnvDuration("CLAIM_TIMEOUT", 5*time.Second),
		HTTPTimeout:    getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
		ClosedLimit:    getEnvInt("CLOSED_RETENTION", 200),
		Archive: ArchiveConfig{
			Enabled:       getEnvBool("ARCHIVE_ENABLED", true),
			TTL:           getEnvDuration("ARCHIVE_TTL", 30*24*time.Hour),
			PruneSchedule: getEnv("ARCHIVE_PRUNE_SCHEDULE", "0 * * * *"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.UpstreamWSURL == "" {
		return fmt.Errorf("UPSTREAM_WS_URL cannot be empty")
	}
	if !strings.HasPrefix(c.UpstreamWSURL, "ws://") && !strings.HasPrefix(c.UpstreamWSURL, "wss://") {
		return fmt.Errorf("UPSTREAM_WS_URL must use ws:// or wss://")
	}
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("RECONNECT_DELAY must be > 0")
	}
	if c.ClaimTimeout <= 0 {
		return fmt.Errorf("CLAIM_TIMEOUT must be > 0")
	}
	if c.ClosedLimit <= 0 {
		return fmt.Errorf("CLOSED_RETENTION must be > 0")
	}
	if c.Archive.Enabled && c.Archive.TTL <= 0 {
		return fmt.Errorf("ARCHIVE_TTL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("5s") or bare seconds ("5").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
