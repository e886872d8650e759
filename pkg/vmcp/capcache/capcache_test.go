// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package capcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	mcpmcp "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/virtualmcp/vmcpd/pkg/storage"
	"github.com/virtualmcp/vmcpd/pkg/storage/mocks"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/registry"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/upstream"
	upstreamauth "github.com/virtualmcp/vmcpd/pkg/vmcp/upstream/auth"
)

// startUpstream serves an MCP fixture with one tool, one resource and one
// prompt, returning its endpoint URL and the live server handle for
// mid-test mutation.
func startUpstream(t *testing.T) (string, *mcpserver.MCPServer) {
	t.Helper()

	mcpSrv := mcpserver.NewMCPServer("capcache-fixture", "1.0.0")
	mcpSrv.AddTool(
		mcpmcp.NewTool("echo", mcpmcp.WithDescription("Echoes input.")),
		func(_ context.Context, _ mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
			return mcpmcp.NewToolResultText("ok"), nil
		},
	)
	mcpSrv.AddResource(
		mcpmcp.Resource{URI: "test://data", Name: "data", MIMEType: "text/plain"},
		func(_ context.Context, _ mcpmcp.ReadResourceRequest) ([]mcpmcp.ResourceContents, error) {
			return []mcpmcp.ResourceContents{
				mcpmcp.TextResourceContents{URI: "test://data", MIMEType: "text/plain", Text: "hello"},
			}, nil
		},
	)
	mcpSrv.AddPrompt(
		mcpmcp.NewPrompt("greet", mcpmcp.WithPromptDescription("A greeting.")),
		func(_ context.Context, _ mcpmcp.GetPromptRequest) (*mcpmcp.GetPromptResult, error) {
			return &mcpmcp.GetPromptResult{
				Messages: []mcpmcp.PromptMessage{
					{Role: "user", Content: mcpmcp.NewTextContent("Hello!")},
				},
			}, nil
		},
	)

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(mcpSrv))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL + "/mcp", mcpSrv
}

func serverRecord(id, name, url string) vmcp.UpstreamServer {
	return vmcp.UpstreamServer{
		ID:        id,
		Name:      name,
		Transport: vmcp.TransportHTTP,
		URL:       url,
		Enabled:   true,
	}
}

// newTestCache builds a cache over a fresh registry backed by the mock
// store. UpdateStatus and MarkCapabilitiesUpdated are allowed freely;
// tests pin down Get expectations themselves.
func newTestCache(t *testing.T, store *mocks.MockServerStore) *Cache {
	t.Helper()
	store.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	store.EXPECT().MarkCapabilitiesUpdated(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()

	reg := registry.New(registry.Config{
		Store: store,
		Session: upstream.Config{
			Registry: upstreamauth.NewDefaultRegistry(nil),
		},
	})
	t.Cleanup(func() { _ = reg.CloseAll() })
	return New(Config{Registry: reg, Store: store})
}

func TestCacheGetOrDiscover(t *testing.T) {
	t.Parallel()

	url, _ := startUpstream(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockServerStore(ctrl)
	store.EXPECT().Get(gomock.Any(), "up-1").Return(serverRecord("up-1", "fixture", url), nil)
	cache := newTestCache(t, store)

	snap, err := cache.GetOrDiscover(context.Background(), "up-1")
	require.NoError(t, err)
	assert.Equal(t, "up-1", snap.ServerID)
	assert.Equal(t, "fixture", snap.ServerName)
	assert.False(t, snap.Stale)
	assert.False(t, snap.DiscoveredAt.IsZero())

	require.Len(t, snap.Tools, 1)
	assert.Equal(t, "echo", snap.Tools[0].Name)
	require.Len(t, snap.Resources, 1)
	assert.Equal(t, "test://data", snap.Resources[0].URI)
	require.Len(t, snap.Prompts, 1)
	assert.Equal(t, "greet", snap.Prompts[0].Name)

	// The second read is served from the cache.
	again, err := cache.GetOrDiscover(context.Background(), "up-1")
	require.NoError(t, err)
	assert.Same(t, snap, again)
}

func TestCacheGetPeeksWithoutDiscovery(t *testing.T) {
	t.Parallel()

	url, _ := startUpstream(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockServerStore(ctrl)
	store.EXPECT().Get(gomock.Any(), "up-1").Return(serverRecord("up-1", "fixture", url), nil)
	cache := newTestCache(t, store)

	_, ok := cache.Get("up-1")
	assert.False(t, ok)

	snap, err := cache.GetOrDiscover(context.Background(), "up-1")
	require.NoError(t, err)

	got, ok := cache.Get("up-1")
	require.True(t, ok)
	assert.Same(t, snap, got)
}

func TestCacheRefresh(t *testing.T) {
	t.Parallel()

	url, mcpSrv := startUpstream(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockServerStore(ctrl)
	store.EXPECT().Get(gomock.Any(), "up-1").Return(serverRecord("up-1", "fixture", url), nil)
	cache := newTestCache(t, store)

	first, err := cache.GetOrDiscover(context.Background(), "up-1")
	require.NoError(t, err)
	require.Len(t, first.Tools, 1)

	// The upstream grows a tool; Refresh replaces the snapshot.
	mcpSrv.AddTool(
		mcpmcp.NewTool("extra", mcpmcp.WithDescription("Added later.")),
		func(_ context.Context, _ mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
			return mcpmcp.NewToolResultText("ok"), nil
		},
	)

	second, err := cache.Refresh(context.Background(), "up-1")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Greater(t, second.Generation, first.Generation)
	names := make([]string, 0, len(second.Tools))
	for _, tool := range second.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"echo", "extra"}, names)

	got, ok := cache.Get("up-1")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestCacheMarkStale(t *testing.T) {
	t.Parallel()

	url, _ := startUpstream(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockServerStore(ctrl)
	store.EXPECT().Get(gomock.Any(), "up-1").Return(serverRecord("up-1", "fixture", url), nil)
	cache := newTestCache(t, store)

	first, err := cache.GetOrDiscover(context.Background(), "up-1")
	require.NoError(t, err)

	cache.MarkStale("up-1")
	got, ok := cache.Get("up-1")
	require.True(t, ok)
	assert.True(t, got.Stale)
	// The data survives until the next discovery.
	assert.Equal(t, first.Tools, got.Tools)

	// A stale snapshot forces re-discovery.
	fresh, err := cache.GetOrDiscover(context.Background(), "up-1")
	require.NoError(t, err)
	assert.NotSame(t, got, fresh)
	assert.False(t, fresh.Stale)
}

func TestCacheMarkStaleUnknownServer(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	cache := newTestCache(t, mocks.NewMockServerStore(ctrl))
	assert.NotPanics(t, func() { cache.MarkStale("missing") })
}

func TestCacheClear(t *testing.T) {
	t.Parallel()

	url, _ := startUpstream(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockServerStore(ctrl)
	store.EXPECT().Get(gomock.Any(), "up-1").Return(serverRecord("up-1", "fixture", url), nil)
	cache := newTestCache(t, store)

	_, err := cache.GetOrDiscover(context.Background(), "up-1")
	require.NoError(t, err)

	require.NoError(t, cache.Clear("up-1"))
	_, ok := cache.Get("up-1")
	assert.False(t, ok)

	// The session was pushed toward disconnected.
	sess, ok := cache.registry.Get("up-1")
	require.True(t, ok)
	assert.Equal(t, vmcp.StateDisconnected, sess.State())

	// The next access reconnects and discovers again.
	snap, err := cache.GetOrDiscover(context.Background(), "up-1")
	require.NoError(t, err)
	require.Len(t, snap.Tools, 1)
	assert.Equal(t, vmcp.StateConnected, sess.State())
}

func TestCacheClearAll(t *testing.T) {
	t.Parallel()

	url, _ := startUpstream(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockServerStore(ctrl)
	store.EXPECT().Get(gomock.Any(), "up-1").Return(serverRecord("up-1", "fixture", url), nil)
	cache := newTestCache(t, store)

	_, err := cache.GetOrDiscover(context.Background(), "up-1")
	require.NoError(t, err)

	cache.ClearAll()
	_, ok := cache.Get("up-1")
	assert.False(t, ok)

	// Sessions stay connected; only the snapshots are gone.
	sess, ok := cache.registry.Get("up-1")
	require.True(t, ok)
	assert.Equal(t, vmcp.StateConnected, sess.State())
}

func TestCacheGetOrDiscoverUnknownServer(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	store := mocks.NewMockServerStore(ctrl)
	store.EXPECT().Get(gomock.Any(), "missing").Return(vmcp.UpstreamServer{}, storage.ErrNotFound)
	cache := newTestCache(t, store)

	_, err := cache.GetOrDiscover(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCacheRecordsDiscoveryTimestamp(t *testing.T) {
	t.Parallel()

	url, _ := startUpstream(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockServerStore(ctrl)
	store.EXPECT().Get(gomock.Any(), "up-1").Return(serverRecord("up-1", "fixture", url), nil)
	store.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	store.EXPECT().MarkCapabilitiesUpdated(gomock.Any(), "up-1", gomock.Any()).Return(nil).Times(1)

	reg := registry.New(registry.Config{
		Store: store,
		Session: upstream.Config{
			Registry: upstreamauth.NewDefaultRegistry(nil),
		},
	})
	t.Cleanup(func() { _ = reg.CloseAll() })
	cache := New(Config{Registry: reg, Store: store})

	_, err := cache.GetOrDiscover(context.Background(), "up-1")
	require.NoError(t, err)
}

func TestCacheDiscoverMany(t *testing.T) {
	t.Parallel()

	url, _ := startUpstream(t)
	deadSrv := httptest.NewServer(http.NotFoundHandler())
	deadURL := deadSrv.URL + "/mcp"
	deadSrv.Close()

	ctrl := gomock.NewController(t)
	store := mocks.NewMockServerStore(ctrl)
	store.EXPECT().Get(gomock.Any(), "up-1").Return(serverRecord("up-1", "one", url), nil)
	store.EXPECT().Get(gomock.Any(), "up-2").Return(serverRecord("up-2", "two", url), nil)
	store.EXPECT().Get(gomock.Any(), "up-dead").Return(serverRecord("up-dead", "dead", deadURL), nil)
	cache := newTestCache(t, store)

	got := cache.DiscoverMany(context.Background(), []string{"up-1", "up-2", "up-dead"})
	require.Len(t, got, 2)
	assert.Contains(t, got, "up-1")
	assert.Contains(t, got, "up-2")
	assert.NotContains(t, got, "up-dead")
	assert.Equal(t, "one", got["up-1"].ServerName)
	assert.Equal(t, "two", got["up-2"].ServerName)
}

func TestCacheConcurrentGetOrDiscover(t *testing.T) {
	t.Parallel()

	url, _ := startUpstream(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockServerStore(ctrl)
	store.EXPECT().Get(gomock.Any(), "up-1").Return(serverRecord("up-1", "fixture", url), nil).AnyTimes()
	cache := newTestCache(t, store)

	const goroutines = 8
	snaps := make([]*Snapshot, goroutines)
	var wg sync.WaitGroup
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := cache.GetOrDiscover(context.Background(), "up-1")
			assert.NoError(t, err)
			snaps[i] = snap
		}()
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, snaps[0], snaps[i], "concurrent readers share one discovery")
	}
}
