// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

// Package capcache caches per-upstream capability snapshots. Composition
// reads the cache, never the sessions: list results stay stable between
// discoveries, and a slow upstream cannot stall a listing that another
// upstream already answered.
package capcache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/virtualmcp/vmcpd/pkg/logger"
	"github.com/virtualmcp/vmcpd/pkg/storage"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/registry"
)

// defaultDiscoveryLimit bounds concurrent upstream discoveries in a batch.
const defaultDiscoveryLimit = 10

// persistTimeout bounds the store write recording a discovery timestamp.
const persistTimeout = 5 * time.Second

// Snapshot is one upstream's cached capability set. Snapshots are immutable
// once published; readers must not modify the contained slices.
type Snapshot struct {
	vmcp.CapabilitySnapshot

	// Generation increases with every published discovery, cache-wide.
	// Consumers compare generations to detect that a composed view built
	// from earlier snapshots is out of date.
	Generation uint64

	// Stale is set when the upstream announced a list change after this
	// snapshot was taken. The next GetOrDiscover re-discovers.
	Stale bool
}

// Config wires a Cache's collaborators.
type Config struct {
	// Registry supplies the upstream sessions. Required.
	Registry *registry.Registry

	// Store records discovery timestamps on server records when set.
	Store storage.ServerStore

	// DiscoveryLimit bounds concurrent upstream discoveries in
	// DiscoverMany. Defaults to 10.
	DiscoveryLimit int
}

// Cache holds the most recent capability snapshot per upstream. Reads are
// lock-free pointer loads; discoveries serialize per upstream and swap the
// pointer on success.
type Cache struct {
	registry *registry.Registry
	store    storage.ServerStore
	limit    int

	// gen numbers published snapshots cache-wide.
	gen atomic.Uint64

	// mu guards the entries map only, never upstream I/O.
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	snap atomic.Pointer[Snapshot]

	// discoverMu serializes discovery for one upstream so concurrent
	// readers trigger a single round.
	discoverMu sync.Mutex
}

// New creates an empty cache.
func New(cfg Config) *Cache {
	if cfg.DiscoveryLimit <= 0 {
		cfg.DiscoveryLimit = defaultDiscoveryLimit
	}
	return &Cache{
		registry: cfg.Registry,
		store:    cfg.Store,
		limit:    cfg.DiscoveryLimit,
		entries:  make(map[string]*entry),
	}
}

// Get returns the cached snapshot without triggering discovery.
func (c *Cache) Get(serverID string) (*Snapshot, bool) {
	c.mu.Lock()
	e, ok := c.entries[serverID]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	snap := e.snap.Load()
	if snap == nil {
		return nil, false
	}
	return snap, true
}

// GetOrDiscover returns the cached snapshot, discovering synchronously when
// none exists or the cached one is stale.
func (c *Cache) GetOrDiscover(ctx context.Context, serverID string) (*Snapshot, error) {
	e := c.entry(serverID)
	if snap := e.snap.Load(); snap != nil && !snap.Stale {
		return snap, nil
	}

	e.discoverMu.Lock()
	defer e.discoverMu.Unlock()
	// A concurrent caller may have finished the same discovery while this
	// one waited for the lock.
	if snap := e.snap.Load(); snap != nil && !snap.Stale {
		return snap, nil
	}
	return c.discover(ctx, e, serverID)
}

// Refresh unconditionally discovers the upstream's capabilities and
// atomically replaces the cached snapshot.
func (c *Cache) Refresh(ctx context.Context, serverID string) (*Snapshot, error) {
	e := c.entry(serverID)
	e.discoverMu.Lock()
	defer e.discoverMu.Unlock()
	return c.discover(ctx, e, serverID)
}

// MarkStale flags the cached snapshot so the next GetOrDiscover re-discovers.
// No-op when nothing is cached. Wire this to the session's capability-change
// notification.
func (c *Cache) MarkStale(serverID string) {
	c.mu.Lock()
	e, ok := c.entries[serverID]
	c.mu.Unlock()
	if !ok {
		return
	}
	for {
		old := e.snap.Load()
		if old == nil || old.Stale {
			return
		}
		marked := *old
		marked.Stale = true
		if e.snap.CompareAndSwap(old, &marked) {
			return
		}
	}
}

// Clear drops the cached snapshot and moves the upstream's session toward
// disconnected. The next access reconnects and re-discovers.
//
// A discovery racing Clear may publish to the dropped entry; the result is
// simply lost and the next access discovers again.
func (c *Cache) Clear(serverID string) error {
	c.mu.Lock()
	delete(c.entries, serverID)
	c.mu.Unlock()

	if sess, ok := c.registry.Get(serverID); ok {
		return sess.Disconnect()
	}
	return nil
}

// ClearAll drops every cached snapshot. Sessions are left alone.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
}

// DiscoverMany fetches snapshots for the given upstreams in parallel,
// bounded by the configured limit. Individual failures are logged and the
// upstream is skipped; the batch itself never fails. The result maps server
// ID to snapshot for the upstreams that answered.
func (c *Cache) DiscoverMany(ctx context.Context, serverIDs []string) map[string]*Snapshot {
	var mu sync.Mutex
	out := make(map[string]*Snapshot, len(serverIDs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit)
	for _, id := range serverIDs {
		g.Go(func() error {
			snap, err := c.GetOrDiscover(ctx, id)
			if err != nil {
				logger.Warnf("Capability discovery failed for upstream %s: %v", id, err)
				return nil
			}
			mu.Lock()
			out[id] = snap
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; Wait only joins them.
	_ = g.Wait()
	return out
}

// entry returns the server's cache slot, creating it when absent.
func (c *Cache) entry(serverID string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[serverID]
	if !ok {
		e = &entry{}
		c.entries[serverID] = e
	}
	return e
}

// discover runs one discovery round and publishes the result. Callers hold
// the entry's discoverMu.
func (c *Cache) discover(ctx context.Context, e *entry, serverID string) (*Snapshot, error) {
	sess, err := c.registry.GetOrOpen(ctx, serverID)
	if err != nil {
		return nil, err
	}
	caps, err := sess.DiscoverAll(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		CapabilitySnapshot: *caps,
		Generation:         c.gen.Add(1),
	}
	e.snap.Store(snap)
	c.recordDiscovery(serverID, caps.DiscoveredAt)

	logger.Debugw("Cached upstream capabilities",
		"server", caps.ServerName,
		"tools", len(caps.Tools),
		"resources", len(caps.Resources),
		"templates", len(caps.ResourceTemplates),
		"prompts", len(caps.Prompts))
	return snap, nil
}

// recordDiscovery stamps the server record with the discovery time.
// Failures are logged, not propagated.
func (c *Cache) recordDiscovery(serverID string, at time.Time) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.store.MarkCapabilitiesUpdated(ctx, serverID, at); err != nil {
		logger.Warnf("Failed to record capability discovery for server %s: %v", serverID, err)
	}
}
