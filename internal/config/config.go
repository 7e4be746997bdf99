// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all plugin configuration.
type Config struct {
	// Remote store
	StoreURL  string
	AuthToken string

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics ("" = disabled)
	MetricsAddr string

	// Change-feed batching
	BatchWindow   time.Duration
	SortWindow    time.Duration
	BatchMaxItems int

	// Artificial latency before remote calls, for exercising slow-connection UI
	Throttle time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		StoreURL:      envOr("MEDLEY_STORE_URL", ""),
		AuthToken:     envOr("MEDLEY_AUTH_TOKEN", ""),
		LogLevel:      envOr("MEDLEY_LOG_LEVEL", "info"),
		LogFormat:     envOr("MEDLEY_LOG_FORMAT", "console"),
		MetricsAddr:   envOr("MEDLEY_METRICS_ADDR", ""),
		BatchWindow:   envMillis("MEDLEY_BATCH_WINDOW_MS", 2000),
		SortWindow:    envMillis("MEDLEY_SORT_WINDOW_MS", 1000),
		BatchMaxItems: envInt("MEDLEY_BATCH_MAX_ITEMS", 256),
		Throttle:      envMillis("MEDLEY_THROTTLE_MS", 0),
	}

	if cfg.BatchWindow <= 0 {
		return nil, fmt.Errorf("MEDLEY_BATCH_WINDOW_MS must be positive")
	}
	if cfg.SortWindow <= 0 {
		return nil, fmt.Errorf("MEDLEY_SORT_WINDOW_MS must be positive")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envMillis(key string, fallback int64) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(fallback) * time.Millisecond
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Duration(fallback) * time.Millisecond
	}
	return time.Duration(i) * time.Millisecond
}
