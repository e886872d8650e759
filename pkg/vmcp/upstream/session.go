// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/virtualmcp/vmcpd/pkg/logger"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
	authtypes "github.com/virtualmcp/vmcpd/pkg/vmcp/auth/types"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/upstream/auth"
)

const (
	// defaultMaxInFlight bounds concurrent operations per upstream.
	defaultMaxInFlight = 16

	// defaultQueueBound bounds callers waiting for an in-flight slot.
	defaultQueueBound = 64

	// connectTimeout bounds the initialize handshake.
	connectTimeout = 30 * time.Second

	// reconnectInterval paces implicit reconnects so a dead upstream is not
	// re-dialed by every queued call.
	reconnectInterval = 5 * time.Second

	defaultClientName = "vmcpd"
)

// Config wires a Session's collaborators. The zero value of the optional
// fields selects defaults.
type Config struct {
	// Registry resolves outbound auth strategies. Required.
	Registry *auth.Registry

	// Flow refreshes OAuth tokens and mints authorization URLs on 401.
	// Nil disables both; static credential strategies are unaffected.
	Flow *auth.Flow

	// EnvLookup resolves *_env secret references at connect time.
	// Defaults to os.LookupEnv.
	EnvLookup auth.EnvLookup

	// ClientName and ClientVersion identify this process in the MCP
	// handshake. Default "vmcpd" / "dev".
	ClientName    string
	ClientVersion string

	// MaxInFlight bounds concurrent operations against the upstream.
	MaxInFlight int

	// QueueBound bounds callers waiting for an in-flight slot; callers
	// beyond the bound fail fast with UpstreamSaturated.
	QueueBound int

	// OnStateChange observes every state transition when set. Called
	// synchronously; implementations must not call back into the session.
	OnStateChange func(serverID string, state vmcp.SessionState, lastError string)

	// OnCapabilitiesChanged is invoked when the upstream announces a
	// capability list change.
	OnCapabilitiesChanged func(serverID string)
}

// Session is one logical channel to one upstream MCP server. It is safe for
// concurrent use.
type Session struct {
	server vmcp.UpstreamServer
	cfg    Config

	// connMu serializes Connect, Disconnect and implicit reconnects so at
	// most one dial is in flight. Never held during operations.
	connMu sync.Mutex

	mu              sync.RWMutex
	state           vmcp.SessionState
	lastError       string
	authURL         string
	client          *mcpclient.Client
	info            vmcp.ServerInfo
	protocolVersion string
	sessionID       string
	caps            advertisedCaps

	sem         *semaphore.Weighted
	maxInFlight int64
	queueBound  int64
	waiting     atomic.Int64

	reconnect *rate.Limiter
}

// advertisedCaps records which optional capability kinds the upstream
// advertised during the handshake. Discovery skips kinds the upstream does
// not advertise.
type advertisedCaps struct {
	tools     bool
	resources bool
	prompts   bool
}

// NewSession creates a session for the given server record. The record is
// copied; later store updates do not affect a live session.
func NewSession(server vmcp.UpstreamServer, cfg Config) *Session {
	if cfg.EnvLookup == nil {
		cfg.EnvLookup = os.LookupEnv
	}
	if cfg.ClientName == "" {
		cfg.ClientName = defaultClientName
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "dev"
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = defaultMaxInFlight
	}
	if cfg.QueueBound <= 0 {
		cfg.QueueBound = defaultQueueBound
	}

	return &Session{
		server:      server,
		cfg:         cfg,
		state:       vmcp.StateIdle,
		sem:         semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		maxInFlight: int64(cfg.MaxInFlight),
		queueBound:  int64(cfg.QueueBound),
		reconnect:   rate.NewLimiter(rate.Every(reconnectInterval), 1),
	}
}

// ServerID returns the upstream server's stable ID.
func (s *Session) ServerID() string { return s.server.ID }

// ServerName returns the upstream server's name.
func (s *Session) ServerName() string { return s.server.Name }

// Server returns a copy of the server record the session was built from.
func (s *Session) Server() vmcp.UpstreamServer { return s.server }

// State returns the current session state.
func (s *Session) State() vmcp.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastError returns the most recent connection or protocol error message.
func (s *Session) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// AuthorizationURL returns the pending authorization URL when the session
// is in auth_required, or empty.
func (s *Session) AuthorizationURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authURL
}

// Info returns the upstream implementation reported at initialize time.
func (s *Session) Info() vmcp.ServerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// ProtocolVersion returns the negotiated MCP protocol version.
func (s *Session) ProtocolVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocolVersion
}

// UpstreamSessionID returns the session ID assigned by the upstream, when
// the transport carries one. SSE upstreams do not assign session IDs.
func (s *Session) UpstreamSessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Connect establishes the channel: dial, MCP initialize handshake,
// capability advertisement capture. Connecting an already-connected session
// is a no-op. Concurrent calls are serialized; the losers observe the
// winner's outcome.
func (s *Session) Connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.State() == vmcp.StateConnected {
		return nil
	}
	return s.connectLocked(ctx)
}

// implicitReconnect is the operation-path variant of Connect: it consults
// the pacing limiter so a dead upstream is dialed at most once per
// reconnectInterval regardless of call volume.
func (s *Session) implicitReconnect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.State() == vmcp.StateConnected {
		return nil
	}
	if !s.reconnect.Allow() {
		return s.unavailableError()
	}
	return s.connectLocked(ctx)
}

// connectLocked performs one dial attempt. Callers hold connMu. On an auth
// rejection it retries once after a forced token refresh; a second
// rejection parks the session in auth_required with a fresh authorization
// URL when the flow supports one.
func (s *Session) connectLocked(ctx context.Context) error {
	refreshed := false
	for {
		s.setState(vmcp.StateConnecting, "")

		err := s.dialOnce(ctx)
		if err == nil {
			return nil
		}

		cerr := classify(err, vmcp.KindUpstreamUnavailable).WithServer(s.server.Name)
		if cerr.Kind == vmcp.KindAuthRequired && !refreshed {
			refreshed = true
			if rerr := s.forceRefresh(ctx); rerr == nil {
				logger.Debugw("Retrying connect after token refresh", "server", s.server.Name)
				continue
			}
		}

		switch cerr.Kind {
		case vmcp.KindAuthRequired:
			return s.noteAuthRequired(ctx, cerr)
		default:
			s.setState(vmcp.StateError, cerr.Detail)
			return cerr
		}
	}
}

// dialOnce builds a client, runs the handshake and installs the result.
func (s *Session) dialOnce(ctx context.Context) error {
	client, err := newMCPClient(&s.server, s.cfg.Registry, s.cfg.EnvLookup)
	if err != nil {
		return err
	}

	hsCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	result, err := client.Initialize(hsCtx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    s.cfg.ClientName,
				Version: s.cfg.ClientVersion,
			},
		},
	})
	if err != nil {
		_ = client.Close()
		return err
	}

	client.OnNotification(s.handleNotification)

	// Streamable-HTTP upstreams assign a session ID during initialize; the
	// SDK captures it on the transport. SSE upstreams do not assign one.
	sessionID := ""
	if sh, ok := client.GetTransport().(*mcptransport.StreamableHTTP); ok {
		sessionID = sh.GetSessionId()
	}

	s.mu.Lock()
	s.client = client
	s.info = vmcp.ServerInfo{
		Name:    result.ServerInfo.Name,
		Version: result.ServerInfo.Version,
	}
	s.protocolVersion = result.ProtocolVersion
	s.sessionID = sessionID
	s.caps = advertisedCaps{
		tools:     result.Capabilities.Tools != nil,
		resources: result.Capabilities.Resources != nil,
		prompts:   result.Capabilities.Prompts != nil,
	}
	s.mu.Unlock()

	s.setState(vmcp.StateConnected, "")
	logger.Debugw("Upstream session connected",
		"server", s.server.Name,
		"transport", string(s.server.Transport),
		"upstreamName", result.ServerInfo.Name,
		"protocolVersion", result.ProtocolVersion,
	)
	return nil
}

// Disconnect tears the channel down deliberately. Safe to call in any
// state; disconnecting a never-connected session just records the state.
func (s *Session) Disconnect() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.mu.Lock()
	client := s.client
	s.client = nil
	s.sessionID = ""
	s.authURL = ""
	s.mu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			logger.Debugf("Closing upstream client for %s: %v", s.server.Name, err)
		}
	}
	s.setState(vmcp.StateDisconnected, "")
	return nil
}

// ClearAuth wipes any cached OAuth token for this upstream and forces the
// session to disconnected so the next connect starts from clean state.
func (s *Session) ClearAuth(ctx context.Context) error {
	if cfg := s.server.Auth; cfg.StrategyType() == authtypes.StrategyTypeOAuthPKCE && s.cfg.Flow != nil {
		if err := s.cfg.Flow.ClearToken(ctx, s.tokenKey()); err != nil {
			return vmcp.WrapError(vmcp.KindInternal, err,
				"clearing tokens for upstream %s", s.server.Name)
		}
	}
	return s.Disconnect()
}

// BeginAuthorization starts an OAuth authorization flow for this upstream
// and returns the URL the user must visit. Fails for non-OAuth upstreams.
func (s *Session) BeginAuthorization(ctx context.Context) (*auth.Authorization, error) {
	cfg := s.server.Auth
	if cfg.StrategyType() != authtypes.StrategyTypeOAuthPKCE || s.cfg.Flow == nil {
		return nil, vmcp.Errorf(vmcp.KindBadArguments,
			"upstream %s does not use OAuth authorization", s.server.Name)
	}
	a, err := s.cfg.Flow.BeginAuthorization(ctx, s.tokenKey(), s.server.URL, cfg.OAuth)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.authURL = a.URL
	s.mu.Unlock()
	return a, nil
}

// handleNotification reacts to server-initiated notifications. Capability
// change announcements are surfaced through the configured callback; other
// notifications are ignored.
func (s *Session) handleNotification(n mcp.JSONRPCNotification) {
	switch n.Method {
	case "notifications/tools/list_changed",
		"notifications/resources/list_changed",
		"notifications/prompts/list_changed":
		logger.Debugw("Upstream capability list changed",
			"server", s.server.Name, "method", n.Method)
		if cb := s.cfg.OnCapabilitiesChanged; cb != nil {
			cb(s.server.ID)
		}
	}
}

// acquire claims an in-flight slot, queueing up to queueBound callers.
func (s *Session) acquire(ctx context.Context) error {
	if s.sem.TryAcquire(1) {
		return nil
	}
	if s.waiting.Add(1) > s.queueBound {
		s.waiting.Add(-1)
		return vmcp.Errorf(vmcp.KindUpstreamSaturated,
			"%d calls in flight and %d queued", s.maxInFlight, s.queueBound).
			WithServer(s.server.Name)
	}
	defer s.waiting.Add(-1)
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return classify(err, vmcp.KindUpstreamUnavailable).WithServer(s.server.Name)
	}
	return nil
}

func (s *Session) release() { s.sem.Release(1) }

// ensureConnected returns a usable client, performing one paced implicit
// reconnect when the session sits in a terminal state. auth_required fails
// fast: reconnecting cannot succeed until a new grant completes.
func (s *Session) ensureConnected(ctx context.Context) (*mcpclient.Client, error) {
	s.mu.RLock()
	state, client, authURL := s.state, s.client, s.authURL
	s.mu.RUnlock()

	switch state {
	case vmcp.StateConnected:
		return client, nil
	case vmcp.StateAuthRequired:
		err := vmcp.Errorf(vmcp.KindAuthRequired,
			"upstream requires authorization").WithServer(s.server.Name)
		if authURL != "" {
			err = err.WithAuthorizationURL(authURL)
		}
		return nil, err
	}

	if err := s.implicitReconnect(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	client = s.client
	s.mu.RUnlock()
	if client == nil {
		return nil, s.unavailableError()
	}
	return client, nil
}

// markBroken records a channel failure: the client is torn down and the
// session parks in error so the next operation attempts a reconnect.
func (s *Session) markBroken(cause *vmcp.Error) {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.sessionID = ""
	s.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
	s.setState(vmcp.StateError, cause.Detail)
}

// noteAuthRequired parks the session in auth_required, minting an
// authorization URL when the upstream uses OAuth and a flow is available.
// Static credential rejections surface without a URL; only new
// configuration can fix those.
func (s *Session) noteAuthRequired(ctx context.Context, cause *vmcp.Error) *vmcp.Error {
	url := ""
	cfg := s.server.Auth
	if cfg.StrategyType() == authtypes.StrategyTypeOAuthPKCE && s.cfg.Flow != nil {
		a, err := s.cfg.Flow.BeginAuthorization(ctx, s.tokenKey(), s.server.URL, cfg.OAuth)
		if err != nil {
			logger.Debugw("Minting authorization URL failed",
				"server", s.server.Name, "error", err)
		} else {
			url = a.URL
		}
	}

	s.mu.Lock()
	s.authURL = url
	s.mu.Unlock()
	s.setState(vmcp.StateAuthRequired, cause.Detail)

	err := vmcp.Errorf(vmcp.KindAuthRequired, "%s", cause.Detail).WithServer(s.server.Name)
	if url != "" {
		err = err.WithAuthorizationURL(url)
	}
	return err
}

// forceRefresh renews the OAuth token after an upstream rejection. Returns
// an error for non-OAuth strategies so callers fall through to
// auth_required directly.
func (s *Session) forceRefresh(ctx context.Context) error {
	cfg := s.server.Auth
	if cfg.StrategyType() != authtypes.StrategyTypeOAuthPKCE || s.cfg.Flow == nil {
		return vmcp.Errorf(vmcp.KindAuthRequired,
			"upstream %s uses static credentials; nothing to refresh", s.server.Name)
	}
	_, err := s.cfg.Flow.ForceRefresh(ctx, s.tokenKey(), cfg.OAuth)
	return err
}

// tokenKey scopes cached OAuth tokens for this upstream.
func (s *Session) tokenKey() string {
	if s.server.Auth != nil && s.server.Auth.OAuth != nil && s.server.Auth.OAuth.TokenKey != "" {
		return s.server.Auth.OAuth.TokenKey
	}
	return s.server.ID
}

// unavailableError describes a non-connected session.
func (s *Session) unavailableError() *vmcp.Error {
	s.mu.RLock()
	state, lastError := s.state, s.lastError
	s.mu.RUnlock()
	if lastError != "" {
		return vmcp.Errorf(vmcp.KindUpstreamUnavailable,
			"upstream is %s: %s", state, lastError).WithServer(s.server.Name)
	}
	return vmcp.Errorf(vmcp.KindUpstreamUnavailable,
		"upstream is %s", state).WithServer(s.server.Name)
}

// setState records a transition and notifies the observer. No-op when
// neither the state nor the error text changes.
func (s *Session) setState(state vmcp.SessionState, lastError string) {
	s.mu.Lock()
	if s.state == state && s.lastError == lastError {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.lastError = lastError
	if state == vmcp.StateConnected {
		s.authURL = ""
	}
	s.mu.Unlock()

	if cb := s.cfg.OnStateChange; cb != nil {
		cb(s.server.ID, state, lastError)
	}
}
