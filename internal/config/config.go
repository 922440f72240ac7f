package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the connectd server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Gateway  GatewayConfig
	Pin      PinConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// GatewayConfig points at the MCP gateway's internal API, used to flush
// cached credentials after rotation or revocation. Optional: an empty base
// URL disables the notifications.
type GatewayConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// PinConfig tunes reveal-PIN verification lockout.
type PinConfig struct {
	MaxAttempts int
	LockoutFor  time.Duration
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value
// is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("CONNECTD_PORT", 8080),
			Env:  envString("CONNECTD_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Gateway: GatewayConfig{
			BaseURL: os.Getenv("GATEWAY_BASE_URL"),
			Token:   os.Getenv("GATEWAY_TOKEN"),
			Timeout: envDuration("GATEWAY_TIMEOUT", 5*time.Second),
		},
		Pin: PinConfig{
			MaxAttempts: envInt("PIN_MAX_ATTEMPTS", 5),
			LockoutFor:  envDuration("PIN_LOCKOUT_FOR", 15*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Gateway.BaseURL != "" &&
		!strings.HasPrefix(c.Gateway.BaseURL, "http://") &&
		!strings.HasPrefix(c.Gateway.BaseURL, "https://") {
		return fmt.Errorf("GATEWAY_BASE_URL must start with http:// or https://, got %q", c.Gateway.BaseURL)
	}

	if c.Pin.MaxAttempts < 1 {
		return fmt.Errorf("PIN_MAX_ATTEMPTS must be at least 1, got %d", c.Pin.MaxAttempts)
	}
	if c.Pin.LockoutFor < time.Second {
		return fmt.Errorf("PIN_LOCKOUT_FOR must be at least 1s, got %s", c.Pin.LockoutFor)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
