// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) { //nolint:paralleltest // mutates environment
	// Ensure a clean environment for every knob we read.
	for _, key := range []string{
		"LOG_LEVEL", "DATABASE_URL", "DATA_DIR", "HOST", "PORT",
		"MAX_CONCURRENT_SCRIPTS", "MAX_UPSTREAM_CONCURRENCY",
		"UPSTREAM_QUEUE_BOUND", "DEFAULT_REQUEST_DEADLINE_MS", "TEMPLATE_MAX_DEPTH",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultMaxConcurrentScripts, cfg.MaxConcurrentScripts)
	assert.Equal(t, DefaultMaxUpstreamConcurrency, cfg.MaxUpstreamConcurrency)
	assert.Equal(t, DefaultUpstreamQueueBound, cfg.UpstreamQueueBound)
	assert.Equal(t, DefaultRequestDeadline, cfg.DefaultRequestDeadline)
	assert.Equal(t, 8, cfg.TemplateMaxDepth)
	assert.Equal(t, "memory", cfg.TokenCache)
	assert.False(t, cfg.TelemetryEnabled)
	assert.InDelta(t, 0.05, cfg.TelemetrySamplingRate, 1e-9)
}

func TestLoadFromEnvironment(t *testing.T) { //nolint:paralleltest // mutates environment
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "file:custom.db?_pragma=journal_mode(WAL)")
	t.Setenv("DATA_DIR", "/var/lib/vmcpd")
	t.Setenv("PORT", "9000")
	t.Setenv("MAX_CONCURRENT_SCRIPTS", "2")
	t.Setenv("MAX_UPSTREAM_CONCURRENCY", "4")
	t.Setenv("UPSTREAM_QUEUE_BOUND", "10")
	t.Setenv("DEFAULT_REQUEST_DEADLINE_MS", "5000")
	t.Setenv("TEMPLATE_MAX_DEPTH", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "file:custom.db?_pragma=journal_mode(WAL)", cfg.DatabaseURL)
	assert.Equal(t, "/var/lib/vmcpd", cfg.DataDir)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 2, cfg.MaxConcurrentScripts)
	assert.Equal(t, 4, cfg.MaxUpstreamConcurrency)
	assert.Equal(t, 10, cfg.UpstreamQueueBound)
	assert.Equal(t, 5*time.Second, cfg.DefaultRequestDeadline)
	assert.Equal(t, 3, cfg.TemplateMaxDepth)
}

func TestLoadRejectsBadValues(t *testing.T) { //nolint:paralleltest // mutates environment
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"Bad log level", "LOG_LEVEL", "shouty"},
		{"Port out of range", "PORT", "70000"},
		{"Negative port", "PORT", "-1"},
		{"Zero scripts", "MAX_CONCURRENT_SCRIPTS", "0"},
		{"Zero upstream concurrency", "MAX_UPSTREAM_CONCURRENCY", "0"},
		{"Negative queue bound", "UPSTREAM_QUEUE_BOUND", "-5"},
		{"Zero deadline", "DEFAULT_REQUEST_DEADLINE_MS", "0"},
		{"Zero template depth", "TEMPLATE_MAX_DEPTH", "0"},
		{"Unknown token cache", "TOKEN_CACHE", "memcached"},
		{"Sampling rate out of range", "OTEL_SAMPLING_RATE", "1.5"},
	}

	for _, tt := range tests { //nolint:paralleltest // mutates environment
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestLoadRedisTokenCacheNeedsURL(t *testing.T) { //nolint:paralleltest // mutates environment
	t.Setenv("TOKEN_CACHE", "redis")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.TokenCache)
}

func TestDatabaseDSN(t *testing.T) {
	t.Parallel()

	explicit := &Config{DatabaseURL: "file:explicit.db", DataDir: "/data"}
	assert.Equal(t, "file:explicit.db", explicit.DatabaseDSN())

	derived := &Config{DataDir: "/data"}
	assert.Equal(t, filepath.Join("/data", "vmcpd.db"), derived.DatabaseDSN())
}

func TestBlobDir(t *testing.T) {
	t.Parallel()

	c := &Config{DataDir: "/var/lib/vmcpd"}
	assert.Equal(t, filepath.Join("/var/lib/vmcpd", "blobs"), c.BlobDir())
}
