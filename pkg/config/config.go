// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the vmcpd process configuration from the environment.
//
// All knobs are plain environment variables so the server runs identically
// under a process manager, a container runtime or a developer shell. CLI
// flags override individual values after Load.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/virtualmcp/vmcpd/pkg/logger"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	// DefaultPort is the inbound HTTP port.
	DefaultPort = 4483

	// DefaultHost is the inbound bind address.
	DefaultHost = "127.0.0.1"

	// DefaultDataDir holds the SQLite database and blob files.
	DefaultDataDir = "./data"

	// DefaultMaxConcurrentScripts bounds script subprocesses process-wide.
	DefaultMaxConcurrentScripts = 8

	// DefaultMaxUpstreamConcurrency bounds in-flight calls per upstream.
	DefaultMaxUpstreamConcurrency = 16

	// DefaultUpstreamQueueBound bounds calls queued behind the per-upstream
	// limit before they fail as saturated.
	DefaultUpstreamQueueBound = 64

	// DefaultRequestDeadline is the end-to-end deadline for one inbound
	// request when the vMCP does not configure its own.
	DefaultRequestDeadline = 120 * time.Second
)

// Config is the resolved process configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// DatabaseURL is the SQLite DSN. Empty derives a file under DataDir.
	DatabaseURL string

	// DataDir holds the database file and blob store.
	DataDir string

	// Host is the inbound bind address.
	Host string

	// Port is the inbound HTTP port. Zero lets the OS pick one.
	Port int

	// MaxConcurrentScripts bounds script subprocesses process-wide.
	MaxConcurrentScripts int

	// MaxUpstreamConcurrency bounds in-flight calls per upstream session.
	MaxUpstreamConcurrency int

	// UpstreamQueueBound bounds calls queued behind the per-upstream limit.
	UpstreamQueueBound int

	// DefaultRequestDeadline is the end-to-end per-request deadline.
	DefaultRequestDeadline time.Duration

	// TemplateMaxDepth bounds nested template evaluation.
	TemplateMaxDepth int

	// UsageLogging persists one usage row per inbound MCP request when true.
	UsageLogging bool

	// TokenCache selects where upstream OAuth tokens live: memory or redis.
	TokenCache string

	// RedisURL is the Redis connection URL for the redis token cache.
	RedisURL string

	// TelemetryEnabled turns the OpenTelemetry SDK on.
	TelemetryEnabled bool

	// TelemetrySamplingRate is the trace sampling ratio in [0, 1].
	TelemetrySamplingRate float64

	// TelemetryResourceAttributes is a comma-separated key=value list added
	// to the telemetry resource.
	TelemetryResourceAttributes string
}

// Load reads the configuration from the environment, applying defaults for
// anything unset, and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DATA_DIR", DefaultDataDir)
	v.SetDefault("HOST", DefaultHost)
	v.SetDefault("PORT", DefaultPort)
	v.SetDefault("MAX_CONCURRENT_SCRIPTS", DefaultMaxConcurrentScripts)
	v.SetDefault("MAX_UPSTREAM_CONCURRENCY", DefaultMaxUpstreamConcurrency)
	v.SetDefault("UPSTREAM_QUEUE_BOUND", DefaultUpstreamQueueBound)
	v.SetDefault("DEFAULT_REQUEST_DEADLINE_MS", int(DefaultRequestDeadline/time.Millisecond))
	v.SetDefault("TEMPLATE_MAX_DEPTH", vmcp.DefaultTemplateMaxDepth)
	v.SetDefault("USAGE_LOGGING", true)
	v.SetDefault("TOKEN_CACHE", "memory")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SAMPLING_RATE", 0.05)
	v.SetDefault("OTEL_RESOURCE_ATTRIBUTES", "")

	cfg := &Config{
		LogLevel:               v.GetString("LOG_LEVEL"),
		DatabaseURL:            v.GetString("DATABASE_URL"),
		DataDir:                v.GetString("DATA_DIR"),
		Host:                   v.GetString("HOST"),
		Port:                   v.GetInt("PORT"),
		MaxConcurrentScripts:   v.GetInt("MAX_CONCURRENT_SCRIPTS"),
		MaxUpstreamConcurrency: v.GetInt("MAX_UPSTREAM_CONCURRENCY"),
		UpstreamQueueBound:     v.GetInt("UPSTREAM_QUEUE_BOUND"),
		DefaultRequestDeadline: time.Duration(v.GetInt("DEFAULT_REQUEST_DEADLINE_MS")) * time.Millisecond,
		TemplateMaxDepth:       v.GetInt("TEMPLATE_MAX_DEPTH"),
		UsageLogging:           v.GetBool("USAGE_LOGGING"),

		TokenCache: v.GetString("TOKEN_CACHE"),
		RedisURL:   v.GetString("REDIS_URL"),

		TelemetryEnabled:            v.GetBool("OTEL_ENABLED"),
		TelemetrySamplingRate:       v.GetFloat64("OTEL_SAMPLING_RATE"),
		TelemetryResourceAttributes: v.GetString("OTEL_RESOURCE_ATTRIBUTES"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("PORT: %d is out of range", c.Port)
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR must not be empty")
	}
	if c.MaxConcurrentScripts < 1 {
		return fmt.Errorf("MAX_CONCURRENT_SCRIPTS: must be at least 1, got %d", c.MaxConcurrentScripts)
	}
	if c.MaxUpstreamConcurrency < 1 {
		return fmt.Errorf("MAX_UPSTREAM_CONCURRENCY: must be at least 1, got %d", c.MaxUpstreamConcurrency)
	}
	if c.UpstreamQueueBound < 0 {
		return fmt.Errorf("UPSTREAM_QUEUE_BOUND: must not be negative, got %d", c.UpstreamQueueBound)
	}
	if c.DefaultRequestDeadline <= 0 {
		return fmt.Errorf("DEFAULT_REQUEST_DEADLINE_MS: must be positive, got %s", c.DefaultRequestDeadline)
	}
	if c.TemplateMaxDepth < 1 {
		return fmt.Errorf("TEMPLATE_MAX_DEPTH: must be at least 1, got %d", c.TemplateMaxDepth)
	}
	switch c.TokenCache {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when TOKEN_CACHE is redis")
		}
	default:
		return fmt.Errorf("TOKEN_CACHE: unknown provider %q", c.TokenCache)
	}
	if c.TelemetrySamplingRate < 0 || c.TelemetrySamplingRate > 1 {
		return fmt.Errorf("OTEL_SAMPLING_RATE: %v is out of [0, 1]", c.TelemetrySamplingRate)
	}
	return nil
}

// DatabaseDSN returns the SQLite connection string: DATABASE_URL when set,
// otherwise a file under DataDir.
func (c *Config) DatabaseDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return filepath.Join(c.DataDir, "vmcpd.db")
}

// BlobDir returns the directory holding blob store files.
func (c *Config) BlobDir() string {
	return filepath.Join(c.DataDir, "blobs")
}
