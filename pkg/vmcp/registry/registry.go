// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry maintains the pool of live upstream sessions, keyed by
// server ID. Sessions are opened lazily from persisted server records and
// stay registered until closed, so status reporting and reconnect pacing
// survive transient upstream failures.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/virtualmcp/vmcpd/pkg/logger"
	"github.com/virtualmcp/vmcpd/pkg/storage"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/upstream"
)

// persistTimeout bounds the store write for one observed state transition.
// Transitions fire from operation goroutines and must not inherit their
// cancellation.
const persistTimeout = 5 * time.Second

// ErrServerDisabled is returned when a session is requested for a server
// whose record is disabled.
var ErrServerDisabled = errors.New("upstream server is disabled")

// Config wires a Registry's collaborators.
type Config struct {
	// Store loads server records and receives status transitions. Required.
	Store storage.ServerStore

	// Session is the template configuration applied to every session the
	// registry opens. Its OnStateChange hook, when set, runs after the
	// registry's own status persistence.
	Session upstream.Config
}

// Registry is the pool of live upstream sessions. It is safe for concurrent
// use.
type Registry struct {
	store      storage.ServerStore
	sessionCfg upstream.Config

	mu       sync.RWMutex
	sessions map[string]*upstream.Session
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	return &Registry{
		store:      cfg.Store,
		sessionCfg: cfg.Session,
		sessions:   make(map[string]*upstream.Session),
	}
}

// GetOrOpen returns the session for the given server, opening one from the
// persisted record when none is live. Requesting an already-open session is
// idempotent and returns the existing handle without re-dialing; broken
// sessions heal on use through their own paced reconnect.
//
// When the first connect attempt fails the session stays registered, so
// StatusOf reflects the failure and later operations retry. The session is
// returned alongside the error.
func (r *Registry) GetOrOpen(ctx context.Context, serverID string) (*upstream.Session, error) {
	r.mu.RLock()
	sess, ok := r.sessions[serverID]
	r.mu.RUnlock()
	if ok {
		return sess, nil
	}

	// Load outside the lock; concurrent openers may each read the record,
	// but only one session wins the map slot below.
	server, err := r.store.Get(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("load upstream server %s: %w", serverID, err)
	}
	if !server.Enabled {
		return nil, fmt.Errorf("upstream server %q: %w", server.Name, ErrServerDisabled)
	}

	r.mu.Lock()
	if existing, ok := r.sessions[serverID]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	sess = upstream.NewSession(server, r.sessionConfig())
	r.sessions[serverID] = sess
	r.mu.Unlock()

	if err := sess.Connect(ctx); err != nil {
		return sess, err
	}
	return sess, nil
}

// Get returns the live session for the server, if any. It never opens one.
func (r *Registry) Get(serverID string) (*upstream.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[serverID]
	return sess, ok
}

// Close disconnects and removes the server's session. Closing a server with
// no live session is a no-op. Server records must be closed here before they
// are deleted from the store.
func (r *Registry) Close(serverID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[serverID]
	delete(r.sessions, serverID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return sess.Disconnect()
}

// CloseAll disconnects and removes every session, joining the failures.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	sessions := make([]*upstream.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*upstream.Session)
	r.mu.Unlock()

	var errs []error
	for _, sess := range sessions {
		if err := sess.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", sess.ServerID(), err))
		}
	}
	return errors.Join(errs...)
}

// Status is a point-in-time view of one server's session.
type Status struct {
	ServerID   string
	ServerName string
	State      vmcp.SessionState

	// LastError carries the most recent failure for error and auth_required
	// states.
	LastError string

	// AuthorizationURL is set while the session awaits an OAuth grant.
	AuthorizationURL string

	// ServerInfo is the upstream's advertised identity, once connected.
	ServerInfo vmcp.ServerInfo

	// ProtocolVersion is the negotiated MCP protocol version, once connected.
	ProtocolVersion string

	// Live reports whether a session object exists for the server. When
	// false the state was read from the persisted record.
	Live bool
}

// StatusOf reports the server's session status. Without a live session it
// falls back to the persisted record's last known state.
func (r *Registry) StatusOf(ctx context.Context, serverID string) (Status, error) {
	if sess, ok := r.Get(serverID); ok {
		return sessionStatus(sess), nil
	}
	server, err := r.store.Get(ctx, serverID)
	if err != nil {
		return Status{}, fmt.Errorf("load upstream server %s: %w", serverID, err)
	}
	state := server.Status
	if state == "" {
		state = vmcp.StateIdle
	}
	return Status{
		ServerID:   server.ID,
		ServerName: server.Name,
		State:      state,
		LastError:  server.LastError,
	}, nil
}

func sessionStatus(sess *upstream.Session) Status {
	return Status{
		ServerID:         sess.ServerID(),
		ServerName:       sess.ServerName(),
		State:            sess.State(),
		LastError:        sess.LastError(),
		AuthorizationURL: sess.AuthorizationURL(),
		ServerInfo:       sess.Info(),
		ProtocolVersion:  sess.ProtocolVersion(),
		Live:             true,
	}
}

// ForEach calls fn for every live session. Iteration runs over a snapshot,
// so fn may call back into the registry. Order is unspecified.
func (r *Registry) ForEach(fn func(*upstream.Session)) {
	r.mu.RLock()
	sessions := make([]*upstream.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.RUnlock()
	for _, sess := range sessions {
		fn(sess)
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// sessionConfig derives the per-session configuration, chaining the
// registry's status persistence in front of any caller-provided state hook.
func (r *Registry) sessionConfig() upstream.Config {
	cfg := r.sessionCfg
	observer := cfg.OnStateChange
	cfg.OnStateChange = func(serverID string, state vmcp.SessionState, lastError string) {
		r.persistState(serverID, state, lastError)
		if observer != nil {
			observer(serverID, state, lastError)
		}
	}
	return cfg
}

// persistState writes one observed transition to the server record. Failures
// are logged, not propagated; transitions fire from live operations.
func (r *Registry) persistState(serverID string, state vmcp.SessionState, lastError string) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.store.UpdateStatus(ctx, serverID, state.Persistable(), lastError); err != nil {
		logger.Warnf("Failed to persist session state %s for server %s: %v", state, serverID, err)
	}
}
