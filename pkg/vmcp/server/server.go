// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

// Package server terminates the inbound MCP wire protocol. Each vMCP is
// served under /private/{vmcpName}/vmcp as a streamable HTTP endpoint:
// JSON-RPC requests over POST and a heartbeat SSE stream over GET. The
// system prompt is a distinct endpoint rendered locally. Composer errors
// map to JSON-RPC error envelopes with a structured data payload.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/virtualmcp/vmcpd/pkg/logger"
	"github.com/virtualmcp/vmcpd/pkg/telemetry"
	"github.com/virtualmcp/vmcpd/pkg/storage"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/registry"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/upstream"
)

const (
	// defaultReadHeaderTimeout limits time to read request headers.
	defaultReadHeaderTimeout = 10 * time.Second

	// defaultReadTimeout bounds reading an entire request, body included.
	defaultReadTimeout = 30 * time.Second

	// defaultIdleTimeout bounds keep-alive waits between requests.
	defaultIdleTimeout = 120 * time.Second

	// defaultMaxHeaderBytes caps request header size (1 MB).
	defaultMaxHeaderBytes = 1 << 20

	// defaultShutdownTimeout bounds graceful shutdown.
	defaultShutdownTimeout = 10 * time.Second

	// defaultRequestTimeout is the end-to-end deadline for one inbound
	// MCP request when the deployment does not configure one.
	defaultRequestTimeout = 120 * time.Second
)

// Config configures the inbound MCP server.
type Config struct {
	// Host is the listen address. Empty binds all interfaces.
	Host string

	// Port is the listen port.
	Port int

	// Provider resolves vMCP names to composers. Required.
	Provider ComposerProvider

	// Usage receives one row per inbound MCP request. Nil disables
	// usage logging.
	Usage storage.UsageStore

	// Registry backs the /status report. Optional.
	Registry *registry.Registry

	// RequestTimeout is the end-to-end deadline per inbound request.
	// Zero selects the default (120s).
	RequestTimeout time.Duration

	// HeartbeatInterval paces SSE heartbeats. Zero selects 30s.
	HeartbeatInterval time.Duration

	// Metrics instruments inbound requests. Nil disables instrumentation.
	Metrics *telemetry.RequestMetrics

	// MetricsHandler is mounted on /metrics when set. Typically the
	// telemetry provider's Prometheus scrape handler.
	MetricsHandler http.Handler

	// Version is reported in handshakes and /status.
	Version string
}

// Server is the inbound MCP HTTP server.
type Server struct {
	cfg     Config
	handler *mcpHandler

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	startedAt  time.Time
}

// New builds a Server from the configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("composer provider is required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Server{
		cfg: cfg,
		handler: &mcpHandler{
			provider:  cfg.Provider,
			usage:     cfg.Usage,
			metrics:   cfg.Metrics,
			timeout:   timeout,
			heartbeat: cfg.HeartbeatInterval,
			version:   cfg.Version,
		},
	}, nil
}

// Router builds the HTTP routing tree. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/ping", s.handleHealth)
	r.Get("/status", s.handleStatus)
	if s.cfg.MetricsHandler != nil {
		r.Handle("/metrics", s.cfg.MetricsHandler)
	}

	r.Route("/private/{vmcpName}", func(r chi.Router) {
		r.Handle("/vmcp", s.handler)
		r.Post("/system-prompt", s.handleSystemPrompt)
	})

	return r
}

// Start listens and serves until the context is canceled, then shuts down
// gracefully. Returns once the server has stopped.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// WriteTimeout stays zero: SSE streams hold response writers open
	// indefinitely, and per-request deadlines bound the RPC paths.
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       defaultReadTimeout,
		IdleTimeout:       defaultIdleTimeout,
		MaxHeaderBytes:    defaultMaxHeaderBytes,
	}

	s.mu.Lock()
	s.httpServer = srv
	s.listener = listener
	s.startedAt = time.Now()
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("MCP server listening on %s", listener.Addr())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("Graceful shutdown did not complete: %v", err)
			_ = srv.Close()
		}
		return <-errCh
	}
}

// Addr returns the bound listen address, once started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleHealth answers liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleStatus reports process status plus the live upstream sessions.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	startedAt := s.startedAt
	s.mu.Unlock()

	type sessionStatus struct {
		ServerID  string `json:"server_id"`
		Name      string `json:"name"`
		State     string `json:"state"`
		LastError string `json:"last_error,omitempty"`
	}
	status := struct {
		Status    string          `json:"status"`
		Version   string          `json:"version,omitempty"`
		UptimeSec int64           `json:"uptime_seconds"`
		Upstreams []sessionStatus `json:"upstreams"`
	}{
		Status:    "ok",
		Version:   s.cfg.Version,
		Upstreams: []sessionStatus{},
	}
	if !startedAt.IsZero() {
		status.UptimeSec = int64(time.Since(startedAt).Seconds())
	}
	if s.cfg.Registry != nil {
		s.cfg.Registry.ForEach(func(sess *upstream.Session) {
			status.Upstreams = append(status.Upstreams, sessionStatus{
				ServerID:  sess.ServerID(),
				Name:      sess.ServerName(),
				State:     string(sess.State()),
				LastError: sess.LastError(),
			})
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

// handleSystemPrompt renders the vMCP's system prompt with the supplied
// arguments. A vMCP without a system prompt answers the empty string.
func (s *Server) handleSystemPrompt(w http.ResponseWriter, r *http.Request) {
	comp := s.handler.resolve(w, r)
	if comp == nil {
		return
	}

	var body struct {
		Arguments map[string]any    `json:"arguments"`
		Env       map[string]string `json:"env"`
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "unreadable request body", http.StatusBadRequest)
		return
	}
	// An empty body means no arguments.
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.handler.timeout)
	defer cancel()

	inv := comp.NewInvocation(body.Env)
	prompt, err := comp.SystemPrompt(ctx, inv, body.Arguments)
	if err != nil {
		status := http.StatusInternalServerError
		if vmcp.KindOf(err) == vmcp.KindBadArguments {
			status = http.StatusBadRequest
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"system_prompt": prompt})
}
