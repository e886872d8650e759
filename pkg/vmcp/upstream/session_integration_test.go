// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mcpmcp "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtualmcp/vmcpd/pkg/vmcp"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/upstream/auth"
	authtypes "github.com/virtualmcp/vmcpd/pkg/vmcp/auth/types"
)

// serveMCP mounts an in-process MCP server on a streamable HTTP endpoint
// and returns its URL.
func serveMCP(t *testing.T, mcpSrv *mcpserver.MCPServer) string {
	t.Helper()

	streamable := mcpserver.NewStreamableHTTPServer(mcpSrv)
	mux := http.NewServeMux()
	mux.Handle("/mcp", streamable)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts.URL + "/mcp"
}

// startUpstreamFixture starts an in-process MCP server exposing a small
// fixed capability set: three tools, two resources and one prompt.
func startUpstreamFixture(t *testing.T) string {
	t.Helper()

	mcpSrv := mcpserver.NewMCPServer("upstream-fixture", "1.0.0")

	mcpSrv.AddTool(
		mcpmcp.NewTool("echo",
			mcpmcp.WithDescription("Echoes the input back"),
			mcpmcp.WithString("input", mcpmcp.Required()),
		),
		func(_ context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
			args, _ := req.Params.Arguments.(map[string]any)
			input, _ := args["input"].(string)
			return &mcpmcp.CallToolResult{
				Content: []mcpmcp.Content{mcpmcp.NewTextContent("echo: " + input)},
			}, nil
		},
	)

	mcpSrv.AddTool(
		mcpmcp.NewTool("fail", mcpmcp.WithDescription("Always reports a tool error")),
		func(_ context.Context, _ mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
			return &mcpmcp.CallToolResult{
				IsError: true,
				Content: []mcpmcp.Content{mcpmcp.NewTextContent("boom")},
			}, nil
		},
	)

	mcpSrv.AddTool(
		mcpmcp.NewTool("sum", mcpmcp.WithDescription("Returns structured output")),
		func(_ context.Context, _ mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
			res := &mcpmcp.CallToolResult{
				Content: []mcpmcp.Content{mcpmcp.NewTextContent("5")},
			}
			res.StructuredContent = map[string]any{"sum": 5}
			return res, nil
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

	mcpSrv.AddResource(
		mcpmcp.Resource{URI: "test://blob", Name: "blob", MIMEType: "application/octet-stream"},
		func(_ context.Context, _ mcpmcp.ReadResourceRequest) ([]mcpmcp.ResourceContents, error) {
			return []mcpmcp.ResourceContents{
				mcpmcp.BlobResourceContents{
					URI:      "test://blob",
					MIMEType: "application/octet-stream",
					Blob:     base64.StdEncoding.EncodeToString([]byte{0xde, 0xad, 0xbe, 0xef}),
				},
			}, nil
		},
	)

	mcpSrv.AddPrompt(
		mcpmcp.NewPrompt("greet", mcpmcp.WithPromptDescription("Greets the caller")),
		func(_ context.Context, req mcpmcp.GetPromptRequest) (*mcpmcp.GetPromptResult, error) {
			name := req.Params.Arguments["name"]
			if name == "" {
				name = "there"
			}
			return &mcpmcp.GetPromptResult{
				Description: "A greeting",
				Messages: []mcpmcp.PromptMessage{
					{Role: "user", Content: mcpmcp.NewTextContent("Hello, " + name + "!")},
				},
			}, nil
		},
	)

	return serveMCP(t, mcpSrv)
}

func fixtureServer(url string) vmcp.UpstreamServer {
	return vmcp.UpstreamServer{
		ID:        "up-1",
		Name:      "fixture",
		Transport: vmcp.TransportHTTP,
		URL:       url,
		Enabled:   true,
	}
}

func newTestSession(t *testing.T, server vmcp.UpstreamServer, cfg Config) *Session {
	t.Helper()
	if cfg.Registry == nil {
		cfg.Registry = auth.NewDefaultRegistry(nil)
	}
	s := NewSession(server, cfg)
	t.Cleanup(func() { _ = s.Disconnect() })
	return s
}

// stateRecorder collects state transitions observed through OnStateChange.
type stateRecorder struct {
	mu     sync.Mutex
	states []vmcp.SessionState
}

func (r *stateRecorder) record(_ string, state vmcp.SessionState, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder) snapshot() []vmcp.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]vmcp.SessionState, len(r.states))
	copy(out, r.states)
	return out
}

func TestSessionConnect(t *testing.T) {
	t.Parallel()

	url := startUpstreamFixture(t)
	rec := &stateRecorder{}
	sess := newTestSession(t, fixtureServer(url), Config{OnStateChange: rec.record})

	require.Equal(t, vmcp.StateIdle, sess.State())
	require.NoError(t, sess.Connect(context.Background()))

	assert.Equal(t, vmcp.StateConnected, sess.State())
	assert.Empty(t, sess.LastError())
	assert.Equal(t, "upstream-fixture", sess.Info().Name)
	assert.NotEmpty(t, sess.ProtocolVersion())
	assert.Equal(t,
		[]vmcp.SessionState{vmcp.StateConnecting, vmcp.StateConnected},
		rec.snapshot())
}

func TestSessionConnectIdempotent(t *testing.T) {
	t.Parallel()

	url := startUpstreamFixture(t)
	rec := &stateRecorder{}
	sess := newTestSession(t, fixtureServer(url), Config{OnStateChange: rec.record})

	require.NoError(t, sess.Connect(context.Background()))
	require.NoError(t, sess.Connect(context.Background()))

	// The second connect is a no-op: no extra transitions.
	assert.Len(t, rec.snapshot(), 2)
}

func TestSessionDiscoverAll(t *testing.T) {
	t.Parallel()

	url := startUpstreamFixture(t)
	sess := newTestSession(t, fixtureServer(url), Config{})

	require.NoError(t, sess.Connect(context.Background()))
	snap, err := sess.DiscoverAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "up-1", snap.ServerID)
	assert.Equal(t, "fixture", snap.ServerName)
	assert.Equal(t, "upstream-fixture", snap.ServerInfo.Name)
	assert.NotEmpty(t, snap.ProtocolVersion)
	assert.False(t, snap.DiscoveredAt.IsZero())

	toolNames := make([]string, 0, len(snap.Tools))
	for _, tool := range snap.Tools {
		toolNames = append(toolNames, tool.Name)
		assert.Equal(t, "fixture", tool.ServerName)
	}
	assert.ElementsMatch(t, []string{"echo", "fail", "sum"}, toolNames)

	var echoTool *vmcp.Tool
	for i := range snap.Tools {
		if snap.Tools[i].Name == "echo" {
			echoTool = &snap.Tools[i]
		}
	}
	require.NotNil(t, echoTool)
	assert.Equal(t, "Echoes the input back", echoTool.Description)
	props, ok := echoTool.InputSchema["properties"].(map[string]any)
	require.True(t, ok, "echo input schema should carry properties")
	assert.Contains(t, props, "input")

	uris := make([]string, 0, len(snap.Resources))
	for _, res := range snap.Resources {
		uris = append(uris, res.URI)
	}
	assert.ElementsMatch(t, []string{"test://data", "test://blob"}, uris)

	// The fixture registers no templates; the snapshot still records an
	// empty, non-nil list so "none" is distinguishable from "unknown".
	require.NotNil(t, snap.ResourceTemplates)
	assert.Empty(t, snap.ResourceTemplates)

	require.Len(t, snap.Prompts, 1)
	assert.Equal(t, "greet", snap.Prompts[0].Name)
}

func TestSessionCallToolImplicitConnect(t *testing.T) {
	t.Parallel()

	url := startUpstreamFixture(t)
	sess := newTestSession(t, fixtureServer(url), Config{})

	// No explicit Connect: the first operation dials on demand.
	result, err := sess.CallTool(context.Background(), "echo",
		map[string]any{"input": "ping"}, nil)
	require.NoError(t, err)

	require.Len(t, result.Content, 1)
	assert.Equal(t, "text", result.Content[0].Type)
	assert.Equal(t, "echo: ping", result.Content[0].Text)
	assert.False(t, result.IsError)
	assert.Equal(t, vmcp.StateConnected, sess.State())
}

func TestSessionCallToolToolError(t *testing.T) {
	t.Parallel()

	url := startUpstreamFixture(t)
	sess := newTestSession(t, fixtureServer(url), Config{})

	// A tool-reported failure is a successful call with IsError set,
	// not a transport error.
	result, err := sess.CallTool(context.Background(), "fail", nil, nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "boom", result.Content[0].Text)
}

func TestSessionCallToolStructuredContent(t *testing.T) {
	t.Parallel()

	url := startUpstreamFixture(t)
	sess := newTestSession(t, fixtureServer(url), Config{})

	result, err := sess.CallTool(context.Background(), "sum", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, result.StructuredContent)
	assert.EqualValues(t, 5, result.StructuredContent["sum"])
}

func TestSessionReadResourceText(t *testing.T) {
	t.Parallel()

	url := startUpstreamFixture(t)
	sess := newTestSession(t, fixtureServer(url), Config{})

	result, err := sess.ReadResource(context.Background(), "test://data")
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	assert.Equal(t, "test://data", result.Contents[0].URI)
	assert.Equal(t, "text/plain", result.Contents[0].MimeType)
	assert.Equal(t, "hello", result.Contents[0].Text)
	assert.Empty(t, result.Contents[0].Blob)
}

func TestSessionReadResourceBlob(t *testing.T) {
	t.Parallel()

	url := startUpstreamFixture(t)
	sess := newTestSession(t, fixtureServer(url), Config{})

	result, err := sess.ReadResource(context.Background(), "test://blob")
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, result.Contents[0].Blob)
	assert.Equal(t, "application/octet-stream", result.Contents[0].MimeType)
}

func TestSessionGetPrompt(t *testing.T) {
	t.Parallel()

	url := startUpstreamFixture(t)
	sess := newTestSession(t, fixtureServer(url), Config{})

	result, err := sess.GetPrompt(context.Background(), "greet",
		map[string]any{"name": "Ada"})
	require.NoError(t, err)

	assert.Equal(t, "A greeting", result.Description)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "user", result.Messages[0].Role)
	assert.Equal(t, "Hello, Ada!", result.Messages[0].Content.Text)
}

func TestSessionPing(t *testing.T) {
	t.Parallel()

	url := startUpstreamFixture(t)
	sess := newTestSession(t, fixtureServer(url), Config{})

	require.NoError(t, sess.Connect(context.Background()))
	assert.NoError(t, sess.Ping(context.Background()))
}

func TestSessionDisconnectAndReconnect(t *testing.T) {
	t.Parallel()

	url := startUpstreamFixture(t)
	rec := &stateRecorder{}
	sess := newTestSession(t, fixtureServer(url), Config{OnStateChange: rec.record})

	require.NoError(t, sess.Connect(context.Background()))
	require.NoError(t, sess.Disconnect())
	assert.Equal(t, vmcp.StateDisconnected, sess.State())

	// The next operation reconnects implicitly.
	result, err := sess.CallTool(context.Background(), "echo",
		map[string]any{"input": "again"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: again", result.Content[0].Text)
	assert.Equal(t, vmcp.StateConnected, sess.State())

	assert.Equal(t, []vmcp.SessionState{
		vmcp.StateConnecting, vmcp.StateConnected,
		vmcp.StateDisconnected,
		vmcp.StateConnecting, vmcp.StateConnected,
	}, rec.snapshot())
}

func TestSessionUnreachableUpstream(t *testing.T) {
	t.Parallel()

	// Start and immediately stop a server to get a dead endpoint.
	ts := httptest.NewServer(http.NewServeMux())
	url := ts.URL + "/mcp"
	ts.Close()

	sess := newTestSession(t, fixtureServer(url), Config{})

	err := sess.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, vmcp.IsKind(err, vmcp.KindUpstreamUnavailable), "got: %v", err)
	assert.Equal(t, vmcp.StateError, sess.State())
	assert.NotEmpty(t, sess.LastError())

	// Operations still fail with unavailable, whether or not a paced
	// redial is attempted.
	_, err = sess.CallTool(context.Background(), "echo", nil, nil)
	require.Error(t, err)
	assert.True(t, vmcp.IsKind(err, vmcp.KindUpstreamUnavailable), "got: %v", err)
}

// startAuthedFixture wraps the MCP endpoint with a bearer check and counts
// every request that reaches the listener.
func startAuthedFixture(t *testing.T) (string, *atomic.Int64) {
	t.Helper()

	mcpSrv := mcpserver.NewMCPServer("authed-fixture", "1.0.0")
	mcpSrv.AddTool(
		mcpmcp.NewTool("echo", mcpmcp.WithString("input", mcpmcp.Required())),
		func(_ context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
			args, _ := req.Params.Arguments.(map[string]any)
			input, _ := args["input"].(string)
			return &mcpmcp.CallToolResult{
				Content: []mcpmcp.Content{mcpmcp.NewTextContent(input)},
			}, nil
		},
	)

	streamable := mcpserver.NewStreamableHTTPServer(mcpSrv)
	var requests atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Authorization") != "Bearer good-token" {
			// Empty body on purpose: the SDK discards 401 bodies and
			// surfaces only its sentinel error, so nothing here may leak
			// into classification.
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		streamable.ServeHTTP(w, r)
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts.URL + "/mcp", &requests
}

func TestSessionBearerAuthenticates(t *testing.T) {
	t.Parallel()

	url, _ := startAuthedFixture(t)
	server := fixtureServer(url)
	server.Auth = &authtypes.UpstreamAuthConfig{
		Type:   authtypes.StrategyTypeBearer,
		Bearer: &authtypes.BearerConfig{Token: "good-token"},
	}
	sess := newTestSession(t, server, Config{})

	require.NoError(t, sess.Connect(context.Background()))
	result, err := sess.CallTool(context.Background(), "echo",
		map[string]any{"input": "authed"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "authed", result.Content[0].Text)
}

func TestSessionAuthRequiredFailFast(t *testing.T) {
	t.Parallel()

	url, requests := startAuthedFixture(t)
	server := fixtureServer(url)
	server.Auth = &authtypes.UpstreamAuthConfig{
		Type:   authtypes.StrategyTypeBearer,
		Bearer: &authtypes.BearerConfig{Token: "wrong-token"},
	}
	sess := newTestSession(t, server, Config{})

	err := sess.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, vmcp.IsKind(err, vmcp.KindAuthRequired), "got: %v", err)
	assert.Equal(t, vmcp.StateAuthRequired, sess.State())

	// Static credentials cannot mint an authorization URL.
	assert.Empty(t, sess.AuthorizationURL())

	// Subsequent operations fail fast without touching the upstream.
	seen := requests.Load()
	_, err = sess.CallTool(context.Background(), "echo", nil, nil)
	require.Error(t, err)
	assert.True(t, vmcp.IsKind(err, vmcp.KindAuthRequired), "got: %v", err)
	assert.Equal(t, seen, requests.Load())
}

// Credentials expiring on an established session: the next call must
// surface AuthRequired and park the session in auth_required, not error.
func TestSessionMidCall401ParksAuthRequired(t *testing.T) {
	t.Parallel()

	mcpSrv := mcpserver.NewMCPServer("expiring-fixture", "1.0.0")
	mcpSrv.AddTool(
		mcpmcp.NewTool("echo", mcpmcp.WithString("input", mcpmcp.Required())),
		func(_ context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
			args, _ := req.Params.Arguments.(map[string]any)
			input, _ := args["input"].(string)
			return &mcpmcp.CallToolResult{
				Content: []mcpmcp.Content{mcpmcp.NewTextContent(input)},
			}, nil
		},
	)

	streamable := mcpserver.NewStreamableHTTPServer(mcpSrv)
	var expired atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if expired.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		streamable.ServeHTTP(w, r)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	sess := newTestSession(t, fixtureServer(ts.URL+"/mcp"), Config{})
	require.NoError(t, sess.Connect(context.Background()))

	result, err := sess.CallTool(context.Background(), "echo",
		map[string]any{"input": "ok"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Content[0].Text)

	expired.Store(true)
	_, err = sess.CallTool(context.Background(), "echo",
		map[string]any{"input": "late"}, nil)
	require.Error(t, err)
	assert.True(t, vmcp.IsKind(err, vmcp.KindAuthRequired), "got: %v", err)
	assert.Equal(t, vmcp.StateAuthRequired, sess.State())
}

func TestSessionStaticHeaders(t *testing.T) {
	t.Parallel()

	mcpSrv := mcpserver.NewMCPServer("tenant-fixture", "1.0.0")
	mcpSrv.AddTool(
		mcpmcp.NewTool("whoami", mcpmcp.WithDescription("Reports the tenant")),
		func(_ context.Context, _ mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
			return &mcpmcp.CallToolResult{
				Content: []mcpmcp.Content{mcpmcp.NewTextContent("acme")},
			}, nil
		},
	)

	streamable := mcpserver.NewStreamableHTTPServer(mcpSrv)
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Tenant") != "acme" {
			http.Error(w, "missing tenant header", http.StatusForbidden)
			return
		}
		streamable.ServeHTTP(w, r)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	server := fixtureServer(ts.URL + "/mcp")
	server.Headers = map[string]string{"X-Tenant": "acme"}
	sess := newTestSession(t, server, Config{})

	require.NoError(t, sess.Connect(context.Background()))
	result, err := sess.CallTool(context.Background(), "whoami", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "acme", result.Content[0].Text)
}

func TestSessionSaturation(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{}, 2)
	release := make(chan struct{})

	mcpSrv := mcpserver.NewMCPServer("slow-fixture", "1.0.0")
	mcpSrv.AddTool(
		mcpmcp.NewTool("block", mcpmcp.WithDescription("Blocks until released")),
		func(ctx context.Context, _ mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
			entered <- struct{}{}
			select {
			case <-release:
			case <-ctx.Done():
			}
			return &mcpmcp.CallToolResult{
				Content: []mcpmcp.Content{mcpmcp.NewTextContent("done")},
			}, nil
		},
	)
	url := serveMCP(t, mcpSrv)

	sess := newTestSession(t, fixtureServer(url), Config{MaxInFlight: 1, QueueBound: 1})
	require.NoError(t, sess.Connect(context.Background()))

	var wg sync.WaitGroup
	callErrs := make([]error, 2)

	// First call occupies the single in-flight slot.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, callErrs[0] = sess.CallTool(context.Background(), "block", nil, nil)
	}()
	<-entered

	// Second call fills the queue.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, callErrs[1] = sess.CallTool(context.Background(), "block", nil, nil)
	}()
	require.Eventually(t, func() bool { return sess.waiting.Load() == 1 },
		2*time.Second, 5*time.Millisecond)

	// Third call finds both the slot and the queue full.
	_, err := sess.CallTool(context.Background(), "block", nil, nil)
	require.Error(t, err)
	assert.True(t, vmcp.IsKind(err, vmcp.KindUpstreamSaturated), "got: %v", err)

	close(release)
	wg.Wait()
	require.NoError(t, callErrs[0])
	require.NoError(t, callErrs[1])
}

func TestSessionNotificationMarksStale(t *testing.T) {
	t.Parallel()

	var changed []string
	var mu sync.Mutex
	cfg := Config{
		OnCapabilitiesChanged: func(serverID string) {
			mu.Lock()
			defer mu.Unlock()
			changed = append(changed, serverID)
		},
	}
	sess := newTestSession(t, fixtureServer("http://unused.invalid/mcp"), cfg)

	for _, method := range []string{
		"notifications/tools/list_changed",
		"notifications/resources/list_changed",
		"notifications/prompts/list_changed",
	} {
		sess.handleNotification(mcpmcp.JSONRPCNotification{
			Notification: mcpmcp.Notification{Method: method},
		})
	}
	// Unrelated notifications are ignored.
	sess.handleNotification(mcpmcp.JSONRPCNotification{
		Notification: mcpmcp.Notification{Method: "notifications/progress"},
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"up-1", "up-1", "up-1"}, changed)
}
