// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/virtualmcp/vmcpd/pkg/config"
	"github.com/virtualmcp/vmcpd/pkg/logger"
	"github.com/virtualmcp/vmcpd/pkg/storage/sqlite"
	"github.com/virtualmcp/vmcpd/pkg/telemetry"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/capcache"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/engine"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/manager"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/registry"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/server"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/upstream"
	upstreamauth "github.com/virtualmcp/vmcpd/pkg/vmcp/upstream/auth"
)

// newRunCmd starts the server against the persistent stores.
func newRunCmd() *cobra.Command {
	var (
		port     int
		logLevel string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the vmcpd server",
		Long: `Start the vmcpd server against the configured database. Upstream servers
and vMCP definitions are read from persistent storage; flags override the
corresponding environment settings.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return runServer(cmd.Context(), cfg, nil)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides PORT)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	return cmd
}

// newServeTestCmd starts the server from a definitions file against an
// ephemeral database. Meant for local development and integration testing.
func newServeTestCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve-test",
		Short: "Start an ephemeral server from a definitions file",
		Long: `Start the vmcpd server with upstream servers and vMCP definitions taken
from a YAML file. State lives in a temporary directory that is removed on
shutdown; nothing touches the configured database.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defs, err := LoadDefinitions(configPath)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			tmp, err := os.MkdirTemp("", "vmcpd-serve-test-")
			if err != nil {
				return fmt.Errorf("create ephemeral data dir: %w", err)
			}
			defer func() {
				if err := os.RemoveAll(tmp); err != nil {
					logger.Warnf("Failed to remove ephemeral data dir %s: %v", tmp, err)
				}
			}()
			cfg.DataDir = tmp
			cfg.DatabaseURL = ""
			cfg.UsageLogging = false

			return runServer(cmd.Context(), cfg, defs)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the definitions file")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// runServer assembles the process and serves until ctx is canceled. When
// defs is non-nil its records are loaded into the stores first.
func runServer(ctx context.Context, cfg *config.Config, defs *Definitions) error {
	if level, err := logger.ParseLevel(cfg.LogLevel); err == nil {
		logger.InitializeWithLevel(level)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}
	stores, err := sqlite.OpenStores(ctx, cfg.DatabaseDSN(), sqlite.Options{
		BlobDir:      cfg.BlobDir(),
		UsageLogging: cfg.UsageLogging,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Warnf("Failed to close stores: %v", err)
		}
	}()

	tokens, err := newTokenCache(ctx, cfg)
	if err != nil {
		return err
	}
	flow := upstreamauth.NewFlow(tokens)
	defer func() { _ = flow.Close() }()
	authRegistry := upstreamauth.NewDefaultRegistry(flow)

	telemetryProvider, err := telemetry.NewProvider(telemetry.Config{
		Enabled:            cfg.TelemetryEnabled,
		ServiceName:        "vmcpd",
		ServiceVersion:     versionString(),
		SamplingRate:       cfg.TelemetrySamplingRate,
		ResourceAttributes: mustResourceAttributes(cfg.TelemetryResourceAttributes),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := telemetryProvider.Shutdown(context.Background()); err != nil {
			logger.Warnf("Telemetry shutdown: %v", err)
		}
	}()
	requestMetrics, err := telemetry.NewRequestMetrics(telemetryProvider.Meter())
	if err != nil {
		return err
	}

	// The capability cache is wired after the registry, so the session
	// change hook reads it through this variable.
	var cache *capcache.Cache
	reg := registry.New(registry.Config{
		Store: stores.Servers,
		Session: upstream.Config{
			Registry:      authRegistry,
			Flow:          flow,
			ClientName:    "vmcpd",
			ClientVersion: versionString(),
			MaxInFlight:   cfg.MaxUpstreamConcurrency,
			QueueBound:    cfg.UpstreamQueueBound,
			OnCapabilitiesChanged: func(serverID string) {
				if cache != nil {
					cache.MarkStale(serverID)
				}
			},
		},
	})
	cache = capcache.New(capcache.Config{Registry: reg, Store: stores.Servers})

	mgr := manager.New(manager.Config{
		Servers:  stores.Servers,
		VMCPs:    stores.VMCPs,
		Usage:    stores.Usage,
		Blobs:    stores.Blobs,
		Registry: reg,
		Cache:    cache,
		Auth:     authRegistry,
		Flow:     flow,
		Script: engine.ScriptConfig{
			MaxConcurrent: int64(cfg.MaxConcurrentScripts),
		},
		TemplateMaxDepth: cfg.TemplateMaxDepth,
	})
	defer func() {
		if err := mgr.Shutdown(); err != nil {
			logger.Warnf("Failed to close upstream sessions: %v", err)
		}
	}()

	if defs != nil {
		if err := loadDefinitions(ctx, mgr, defs); err != nil {
			return err
		}
	}

	srv, err := server.New(server.Config{
		Host:           cfg.Host,
		Port:           cfg.Port,
		Provider:       mgr,
		Usage:          stores.Usage,
		Registry:       reg,
		RequestTimeout: cfg.DefaultRequestDeadline,
		Metrics:        requestMetrics,
		MetricsHandler: telemetryProvider.Handler(),
		Version:        versionString(),
	})
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}

// loadDefinitions registers the file's servers and vMCPs, resolving
// upstream names to the assigned server IDs.
func loadDefinitions(ctx context.Context, mgr *manager.Manager, defs *Definitions) error {
	idsByName := make(map[string]string, len(defs.Servers))
	for i := range defs.Servers {
		created, err := mgr.RegisterServer(ctx, defs.Servers[i].Record())
		if err != nil {
			return err
		}
		idsByName[created.Name] = created.ID
	}
	for i := range defs.VMCPs {
		def, err := defs.VMCPs[i].Definition()
		if err != nil {
			return err
		}
		for _, name := range defs.VMCPs[i].Upstreams {
			id, ok := idsByName[name]
			if !ok {
				return fmt.Errorf("vmcp %q references unknown upstream %q", def.Name, name)
			}
			def.Upstreams = append(def.Upstreams, id)
		}
		if _, err := mgr.CreateVMCP(ctx, def); err != nil {
			return err
		}
	}
	logger.Infof("Loaded %d upstream servers and %d vmcps", len(defs.Servers), len(defs.VMCPs))
	return nil
}

// newTokenCache selects the OAuth token cache backend.
func newTokenCache(_ context.Context, cfg *config.Config) (upstreamauth.TokenCache, error) {
	switch cfg.TokenCache {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("REDIS_URL: %w", err)
		}
		return upstreamauth.NewRedisTokenCacheWithClient(redis.NewClient(opts), ""), nil
	default:
		return upstreamauth.NewMemoryTokenCache(), nil
	}
}

// mustResourceAttributes parses the attribute list, dropping it with a
// warning when malformed. Telemetry labels never stop the server.
func mustResourceAttributes(input string) map[string]string {
	attrs, err := telemetry.ParseResourceAttributes(input)
	if err != nil {
		logger.Warnf("Ignoring OTEL_RESOURCE_ATTRIBUTES: %v", err)
		return nil
	}
	return attrs
}
