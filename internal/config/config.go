// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Engine settings.
	MaxSteps   int           // Default step ceiling for graph runs.
	RunTimeout time.Duration // Default wall-clock budget per run; 0 means none.

	// Delegation settings.
	PoolConcurrency int           // Parallel task executions; 0 means one per worker.
	PollInterval    time.Duration // Poll cadence when awaiting task results.

	// Storage settings.
	DatabaseURL string // Postgres URL; empty selects SQLite or memory.
	SQLitePath  string // SQLite file path; empty with no DatabaseURL means in-memory.

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		MaxSteps:        envInt("KAIRO_MAX_STEPS", 100),
		RunTimeout:      envDuration("KAIRO_RUN_TIMEOUT", 0),
		PoolConcurrency: envInt("KAIRO_POOL_CONCURRENCY", 0),
		PollInterval:    envDuration("KAIRO_POLL_INTERVAL", 50*time.Millisecond),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		SQLitePath:      envStr("KAIRO_SQLITE_PATH", ""),
		OTELEndpoint:    envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:    envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:     envStr("OTEL_SERVICE_NAME", "kairo"),
		LogLevel:        envStr("KAIRO_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that configuration values are coherent.
func (c Config) Validate() error {
	if c.MaxSteps <= 0 {
		return fmt.Errorf("config: KAIRO_MAX_STEPS must be positive")
	}
	if c.RunTimeout < 0 {
		return fmt.Errorf("config: KAIRO_RUN_TIMEOUT must not be negative")
	}
	if c.PoolConcurrency < 0 {
		return fmt.Errorf("config: KAIRO_POOL_CONCURRENCY must not be negative")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: KAIRO_POLL_INTERVAL must be positive")
	}
	if c.DatabaseURL != "" && c.SQLitePath != "" {
		return fmt.Errorf("config: DATABASE_URL and KAIRO_SQLITE_PATH are mutually exclusive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
