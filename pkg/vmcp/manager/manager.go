// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

// Package manager is the control facade over the stores, the session
// registry and the capability cache. The external REST layer calls it for
// every management operation; the MCP server calls it to resolve composers.
//
// Serving state is derived: composers are built on demand from persisted
// definitions and dropped whenever a definition changes, so management
// writes never race in-flight requests.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/virtualmcp/vmcpd/pkg/logger"
	"github.com/virtualmcp/vmcpd/pkg/storage"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/capcache"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/composer"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/engine"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/registry"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/upstream"
	upstreamauth "github.com/virtualmcp/vmcpd/pkg/vmcp/upstream/auth"
)

// Config wires a Manager's collaborators.
type Config struct {
	// Servers persists upstream server records. Required.
	Servers storage.ServerStore

	// VMCPs persists vMCP definitions. Required.
	VMCPs storage.VMCPStore

	// Usage is the append-only usage log. Required.
	Usage storage.UsageStore

	// Blobs backs file-based custom resources. Optional.
	Blobs storage.BlobStore

	// Registry is the upstream session pool. Required.
	Registry *registry.Registry

	// Cache is the capability snapshot cache. Required.
	Cache *capcache.Cache

	// Auth is the outgoing auth strategy registry shared with composers.
	Auth *upstreamauth.Registry

	// Flow completes OAuth authorization rounds. Optional; nil disables
	// the authorization operations.
	Flow *upstreamauth.Flow

	// Script configures the script engine handed to composers.
	Script engine.ScriptConfig

	// TemplateMaxDepth bounds nested template evaluation in composers.
	TemplateMaxDepth int
}

// Manager implements the control surface. Safe for concurrent use.
type Manager struct {
	cfg Config

	mu        sync.Mutex
	composers map[string]*cachedComposer
}

// cachedComposer ties a composer to the definition revision it was built
// from. A differing UpdatedAt means the definition moved and the composer
// is rebuilt.
type cachedComposer struct {
	updatedAt time.Time
	comp      *composer.Composer
}

// New creates a Manager.
func New(cfg Config) *Manager {
	return &Manager{
		cfg:       cfg,
		composers: make(map[string]*cachedComposer),
	}
}

// composerDeps derives the shared composer dependency bundle.
func (m *Manager) composerDeps() composer.Deps {
	return composer.Deps{
		Registry:         m.cfg.Registry,
		Cache:            m.cfg.Cache,
		Servers:          m.cfg.Servers,
		Blobs:            m.cfg.Blobs,
		Auth:             m.cfg.Auth,
		Script:           m.cfg.Script,
		TemplateMaxDepth: m.cfg.TemplateMaxDepth,
	}
}

// ComposerFor returns the composer serving the named vMCP, building one when
// the cached composer is missing or built from a stale definition revision.
func (m *Manager) ComposerFor(ctx context.Context, name string) (*composer.Composer, error) {
	def, err := m.cfg.VMCPs.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load vmcp %q: %w", name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.composers[def.ID]; ok && cached.updatedAt.Equal(def.UpdatedAt) {
		return cached.comp, nil
	}
	comp := composer.New(&def, m.composerDeps())
	m.composers[def.ID] = &cachedComposer{updatedAt: def.UpdatedAt, comp: comp}
	return comp, nil
}

// dropComposer forgets the cached composer for a vMCP ID.
func (m *Manager) dropComposer(id string) {
	m.mu.Lock()
	delete(m.composers, id)
	m.mu.Unlock()
}

// RegisterServer validates and persists a new upstream server record. A
// missing ID is assigned.
func (m *Manager) RegisterServer(ctx context.Context, server vmcp.UpstreamServer) (vmcp.UpstreamServer, error) {
	if server.ID == "" {
		server.ID = uuid.NewString()
	}
	if server.Status == "" {
		server.Status = vmcp.StateIdle
	}
	if err := server.Validate(); err != nil {
		return vmcp.UpstreamServer{}, err
	}
	if err := m.cfg.Servers.Create(ctx, server); err != nil {
		return vmcp.UpstreamServer{}, fmt.Errorf("create upstream server %q: %w", server.Name, err)
	}
	logger.Infow("registered upstream server", "server_id", server.ID, "name", server.Name)
	return server, nil
}

// UpdateServer replaces an upstream server record. Any live session is
// closed so the next use redials with the new configuration, and the
// capability snapshot is dropped.
func (m *Manager) UpdateServer(ctx context.Context, server vmcp.UpstreamServer) error {
	if err := server.Validate(); err != nil {
		return err
	}
	if err := m.cfg.Servers.Update(ctx, server); err != nil {
		return fmt.Errorf("update upstream server %q: %w", server.Name, err)
	}
	if err := m.cfg.Registry.Close(server.ID); err != nil {
		logger.Warnf("Failed to close session for updated server %s: %v", server.ID, err)
	}
	if err := m.cfg.Cache.Clear(server.ID); err != nil {
		logger.Warnf("Failed to clear capability cache for server %s: %v", server.ID, err)
	}
	return nil
}

// RemoveServer deletes an upstream server. The live session is closed and
// the capability snapshot dropped before the record goes away.
func (m *Manager) RemoveServer(ctx context.Context, id string) error {
	if err := m.cfg.Registry.Close(id); err != nil {
		logger.Warnf("Failed to close session for removed server %s: %v", id, err)
	}
	if err := m.cfg.Cache.Clear(id); err != nil {
		logger.Warnf("Failed to clear capability cache for server %s: %v", id, err)
	}
	if err := m.cfg.Servers.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete upstream server %s: %w", id, err)
	}
	logger.Infow("removed upstream server", "server_id", id)
	return nil
}

// GetServer returns one upstream server record.
func (m *Manager) GetServer(ctx context.Context, id string) (vmcp.UpstreamServer, error) {
	return m.cfg.Servers.Get(ctx, id)
}

// ListServers returns all upstream server records.
func (m *Manager) ListServers(ctx context.Context) ([]vmcp.UpstreamServer, error) {
	return m.cfg.Servers.List(ctx)
}

// Connect opens (or confirms) the session to an upstream server.
func (m *Manager) Connect(ctx context.Context, id string) error {
	_, err := m.cfg.Registry.GetOrOpen(ctx, id)
	return err
}

// Disconnect tears down the session to an upstream server. Disconnecting a
// server with no live session is a no-op.
func (m *Manager) Disconnect(_ context.Context, id string) error {
	return m.cfg.Registry.Close(id)
}

// ClearAuth wipes the upstream's cached OAuth tokens and forces its session
// to disconnected so the next connect starts from clean state.
func (m *Manager) ClearAuth(ctx context.Context, id string) error {
	sess, err := m.session(ctx, id)
	if err != nil {
		return err
	}
	return sess.ClearAuth(ctx)
}

// ClearCache drops the upstream's capability snapshot. The next listing
// rediscovers it.
func (m *Manager) ClearCache(_ context.Context, id string) error {
	return m.cfg.Cache.Clear(id)
}

// RefreshCapabilities forces a fresh capability discovery for the upstream.
func (m *Manager) RefreshCapabilities(ctx context.Context, id string) (*capcache.Snapshot, error) {
	return m.cfg.Cache.Refresh(ctx, id)
}

// StatusOf reports the upstream's session status, live or persisted.
func (m *Manager) StatusOf(ctx context.Context, id string) (registry.Status, error) {
	return m.cfg.Registry.StatusOf(ctx, id)
}

// BeginServerAuthorization starts an OAuth authorization round for the
// upstream and returns the URL the user must visit.
func (m *Manager) BeginServerAuthorization(ctx context.Context, id string) (*upstreamauth.Authorization, error) {
	sess, err := m.session(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.BeginAuthorization(ctx)
}

// CompleteServerAuthorization exchanges an OAuth callback for tokens and
// reconnects the session that was waiting on the grant.
func (m *Manager) CompleteServerAuthorization(ctx context.Context, state, code string) error {
	if m.cfg.Flow == nil {
		return fmt.Errorf("oauth authorization is not configured")
	}
	key, err := m.cfg.Flow.CompleteAuthorization(ctx, state, code)
	if err != nil {
		return err
	}

	// Sessions stuck in auth_required pick the new token up on reconnect.
	m.cfg.Registry.ForEach(func(sess *upstream.Session) {
		if sess.State() != vmcp.StateAuthRequired {
			return
		}
		if err := sess.Connect(ctx); err != nil {
			logger.Warnf("Reconnect after authorization %s failed for %s: %v", key, sess.ServerName(), err)
		}
	})
	return nil
}

// session returns a session handle for the server, opening one when needed.
// Unlike Connect, a failed dial still yields the handle: auth operations
// must work on sessions that cannot currently connect.
func (m *Manager) session(ctx context.Context, id string) (*upstream.Session, error) {
	sess, err := m.cfg.Registry.GetOrOpen(ctx, id)
	if sess == nil {
		return nil, err
	}
	return sess, nil
}

// CreateVMCP validates and persists a new vMCP definition. A missing ID is
// assigned.
func (m *Manager) CreateVMCP(ctx context.Context, def vmcp.VMCP) (vmcp.VMCP, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if err := def.Validate(); err != nil {
		return vmcp.VMCP{}, err
	}
	if err := m.cfg.VMCPs.Create(ctx, def); err != nil {
		return vmcp.VMCP{}, fmt.Errorf("create vmcp %q: %w", def.Name, err)
	}
	logger.Infow("created vmcp", "vmcp_id", def.ID, "name", def.Name)
	return def, nil
}

// UpdateVMCP replaces a vMCP definition and drops its cached composer so
// the next request serves the new revision.
func (m *Manager) UpdateVMCP(ctx context.Context, def vmcp.VMCP) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if err := m.cfg.VMCPs.Update(ctx, def); err != nil {
		return fmt.Errorf("update vmcp %q: %w", def.Name, err)
	}
	m.dropComposer(def.ID)
	return nil
}

// DeleteVMCP removes a vMCP definition.
func (m *Manager) DeleteVMCP(ctx context.Context, id string) error {
	if err := m.cfg.VMCPs.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete vmcp %s: %w", id, err)
	}
	m.dropComposer(id)
	logger.Infow("deleted vmcp", "vmcp_id", id)
	return nil
}

// GetVMCP returns one vMCP definition by ID.
func (m *Manager) GetVMCP(ctx context.Context, id string) (vmcp.VMCP, error) {
	return m.cfg.VMCPs.Get(ctx, id)
}

// GetVMCPByName returns one vMCP definition by name.
func (m *Manager) GetVMCPByName(ctx context.Context, name string) (vmcp.VMCP, error) {
	return m.cfg.VMCPs.GetByName(ctx, name)
}

// ListVMCPs returns all vMCP definitions.
func (m *Manager) ListVMCPs(ctx context.Context) ([]vmcp.VMCP, error) {
	return m.cfg.VMCPs.List(ctx)
}

// ListPublicVMCPs returns the definitions marked public.
func (m *Manager) ListPublicVMCPs(ctx context.Context) ([]vmcp.VMCP, error) {
	return m.cfg.VMCPs.ListPublic(ctx)
}

// SaveEnv replaces a vMCP's environment variable set.
func (m *Manager) SaveEnv(ctx context.Context, id string, env []vmcp.EnvVar) error {
	def, err := m.cfg.VMCPs.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load vmcp %s: %w", id, err)
	}
	def.Env = env
	return m.UpdateVMCP(ctx, def)
}

// ShareVMCP sets a vMCP's public flag.
func (m *Manager) ShareVMCP(ctx context.Context, id string, public bool) error {
	def, err := m.cfg.VMCPs.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load vmcp %s: %w", id, err)
	}
	def.IsPublic = public
	return m.UpdateVMCP(ctx, def)
}

// ForkVMCP copies a vMCP under a new name. The fork gets a fresh ID and
// starts private regardless of the source's visibility.
func (m *Manager) ForkVMCP(ctx context.Context, id, newName string) (vmcp.VMCP, error) {
	src, err := m.cfg.VMCPs.Get(ctx, id)
	if err != nil {
		return vmcp.VMCP{}, fmt.Errorf("load vmcp %s: %w", id, err)
	}
	fork := src
	fork.ID = uuid.NewString()
	fork.Name = newName
	fork.IsPublic = false
	fork.CreatedAt = time.Time{}
	fork.UpdatedAt = time.Time{}
	return m.CreateVMCP(ctx, fork)
}

// Usage returns usage log entries matching the filter, newest first.
func (m *Manager) Usage(ctx context.Context, filter storage.UsageFilter) ([]vmcp.UsageEntry, error) {
	return m.cfg.Usage.List(ctx, filter)
}

// PruneUsage deletes usage entries started before the cutoff.
func (m *Manager) PruneUsage(ctx context.Context, cutoff time.Time) (int64, error) {
	return m.cfg.Usage.Prune(ctx, cutoff)
}

// Shutdown closes every live upstream session.
func (m *Manager) Shutdown() error {
	return m.cfg.Registry.CloseAll()
}
