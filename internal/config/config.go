// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds client configuration.
type Config struct {
	BackendURL string // http(s) base of the chat backend
	Token      string // bearer token, takes precedence over TokenFile
	TokenFile  string // file to read the bearer token from
	Timezone   string // IANA timezone name; empty = detect from the host
}

// Load reads client configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		BackendURL: getEnv("CHAT_BACKEND_URL", "http://localhost:8000"),
		Token:      getEnv("CHAT_TOKEN", ""),
		TokenFile:  getEnv("CHAT_TOKEN_FILE", ""),
		Timezone:   getEnv("CHAT_TIMEZONE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("CHAT_BACKEND_URL cannot be empty")
	}
	if !strings.HasPrefix(c.BackendURL, "http://") && !strings.HasPrefix(c.BackendURL, "https://") {
		return fmt.Errorf("CHAT_BACKEND_URL must start with http:// or https://")
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("CHAT_TIMEZONE %q is not a valid IANA timezone: %w", c.Timezone, err)
		}
	}
	return nil
}

// UserTimezone resolves the IANA timezone name to report to the backend.
// The configured value wins; otherwise the host zone is used. "Local" is
// not a transportable name, so it falls back to UTC.
func (c *Config) UserTimezone() string {
	if c.Timezone != "" {
		return c.Timezone
	}
	if tz := os.Getenv("TZ"); tz != "" {
		return tz
	}
	name := time.Local.String()
	if name == "" || name == "Local" {
		return "UTC"
	}
	return name
}

// ServerConfig holds configuration for the development backend.
type ServerConfig struct {
	Port        string
	DBPath      string
	AuthToken   string        // expected bearer token; empty accepts any non-empty token
	FrontendURL string        // allowed CORS origin; empty = development
	ChunkDelay  time.Duration // pacing between streamed assistant chunks
}

// LoadServer reads development backend configuration from environment variables.
func LoadServer() (*ServerConfig, error) {
	cfg := &ServerConfig{
		Port:        getEnv("PORT", "8000"),
		DBPath:      getEnv("DB_PATH", "./data/chatsync.db"),
		AuthToken:   getEnv("AUTH_TOKEN", ""),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		ChunkDelay:  time.Duration(getEnvInt("CHUNK_DELAY_MS", 40)) * time.Millisecond,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.ChunkDelay < 0 {
		return fmt.Errorf("CHUNK_DELAY_MS must be >= 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *ServerConfig) IsDevelopment() bool {
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
