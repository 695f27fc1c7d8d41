// Package config loads node settings from the environment and the release
// policy from a YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds node configuration.
type Config struct {
	LogLevel      string
	Environment   string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	OTLPEndpoint  string
	PolicyFile    string
	TimelockUnit  time.Duration
}

// Load loads configuration from environment variables. Empty DatabaseURL,
// RedisAddr and OTLPEndpoint select the in-memory and no-op variants.
func Load() (*Config, error) {
	logLevel := os.Getenv("GUARDIAN_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	env := os.Getenv("GUARDIAN_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	redisDB := 0
	if v := os.Getenv("GUARDIAN_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("GUARDIAN_REDIS_DB: %w", err)
		}
		redisDB = n
	}

	unit := time.Hour
	if v := os.Getenv("GUARDIAN_TIMELOCK_UNIT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("GUARDIAN_TIMELOCK_UNIT: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("GUARDIAN_TIMELOCK_UNIT must be positive, got %s", d)
		}
		unit = d
	}

	return &Config{
		LogLevel:      logLevel,
		Environment:   env,
		DatabaseURL:   os.Getenv("GUARDIAN_DATABASE_URL"),
		RedisAddr:     os.Getenv("GUARDIAN_REDIS_ADDR"),
		RedisPassword: os.Getenv("GUARDIAN_REDIS_PASSWORD"),
		RedisDB:       redisDB,
		OTLPEndpoint:  os.Getenv("GUARDIAN_OTLP_ENDPOINT"),
		PolicyFile:    os.Getenv("GUARDIAN_POLICY_FILE"),
		TimelockUnit:  unit,
	}, nil
}

// SlogLevel maps LogLevel onto slog. Unknown values are INFO.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
