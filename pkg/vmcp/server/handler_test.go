// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	mcpmcp "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/virtualmcp/vmcpd/pkg/storage"
	"github.com/virtualmcp/vmcpd/pkg/storage/mocks"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/capcache"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/composer"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/registry"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/upstream"
	upstreamauth "github.com/virtualmcp/vmcpd/pkg/vmcp/upstream/auth"
)

// staticProvider serves composers from a fixed name map.
type staticProvider struct {
	composers map[string]*composer.Composer
}

func (p *staticProvider) ComposerFor(_ context.Context, name string) (*composer.Composer, error) {
	comp, ok := p.composers[name]
	if !ok {
		return nil, fmt.Errorf("vmcp %q: %w", name, storage.ErrNotFound)
	}
	return comp, nil
}

// startEchoUpstream serves an MCP fixture with one echo tool.
func startEchoUpstream(t *testing.T) string {
	t.Helper()

	mcpSrv := mcpserver.NewMCPServer("echo", "1.0.0")
	mcpSrv.AddTool(
		mcpmcp.NewTool("echo",
			mcpmcp.WithDescription("Echoes its input."),
			mcpmcp.WithString("text", mcpmcp.Required()),
		),
		func(_ context.Context, req mcpmcp.CallToolRequest) (*mcpmcp.CallToolResult, error) {
			text, _ := req.GetArguments()["text"].(string)
			return mcpmcp.NewToolResultText("echo: " + text), nil
		},
	)

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(mcpSrv))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL + "/mcp"
}

type serverFixture struct {
	baseURL string
	usage   *mocks.MockUsageStore
}

// newServerFixture stands up the full HTTP surface over one vMCP named
// "calc" backed by the echo upstream plus a custom prompt tool.
func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	ctrl := gomock.NewController(t)
	store := mocks.NewMockServerStore(ctrl)
	store.EXPECT().UpdateStatus(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	store.EXPECT().MarkCapabilitiesUpdated(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).AnyTimes()
	store.EXPECT().Get(gomock.Any(), "up-echo").Return(vmcp.UpstreamServer{
		ID:        "up-echo",
		Name:      "echoer",
		Transport: vmcp.TransportHTTP,
		URL:       startEchoUpstream(t),
		Enabled:   true,
	}, nil).AnyTimes()

	reg := registry.New(registry.Config{
		Store:   store,
		Session: upstream.Config{Registry: upstreamauth.NewDefaultRegistry(nil)},
	})
	t.Cleanup(func() { _ = reg.CloseAll() })

	def := &vmcp.VMCP{
		ID:           "v1",
		Name:         "calc",
		Upstreams:    []string{"up-echo"},
		SystemPrompt: "You work in @config.REGION.",
		Env:          []vmcp.EnvVar{{Name: "REGION", Value: "eu"}},
		Tools: []vmcp.CustomTool{{
			Name: "greet",
			Kind: vmcp.CustomToolPrompt,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{"type": "string"},
				},
				"required": []any{"name"},
			},
			Prompt: &vmcp.PromptToolDef{Body: "Hello @param.name from @config.REGION"},
		}},
	}
	comp := composer.New(def, composer.Deps{
		Registry: reg,
		Cache:    capcache.New(capcache.Config{Registry: reg, Store: store}),
		Auth:     upstreamauth.NewDefaultRegistry(nil),
	})

	usage := mocks.NewMockUsageStore(ctrl)
	srv, err := New(Config{
		Provider: &staticProvider{composers: map[string]*composer.Composer{"calc": comp}},
		Usage:    usage,
		Registry: reg,
		Version:  "test",
	})
	require.NoError(t, err)

	httpSrv := httptest.NewServer(srv.Router())
	t.Cleanup(httpSrv.Close)

	return &serverFixture{baseURL: httpSrv.URL, usage: usage}
}

func (f *serverFixture) expectUsage() {
	f.usage.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

// rpc posts one JSON-RPC request and decodes the response envelope.
func (f *serverFixture) rpc(t *testing.T, body string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, f.baseURL+"/private/calc/vmcp", bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	if resp.StatusCode == http.StatusAccepted {
		return resp, nil
	}
	var envelope map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp, envelope
}

func rpcErrorObj(t *testing.T, envelope map[string]any) map[string]any {
	t.Helper()
	errObj, ok := envelope["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", envelope)
	return errObj
}

func TestHandlerInitialize(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	f.expectUsage()

	_, envelope := f.rpc(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, nil)
	result, ok := envelope["result"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, result["protocolVersion"])

	info, ok := result["serverInfo"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "vmcpd/calc", info["name"])
	assert.Equal(t, "test", info["version"])
}

func TestHandlerToolsListAndCall(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	f.expectUsage()

	_, envelope := f.rpc(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, nil)
	result := envelope["result"].(map[string]any)
	tools := result["tools"].([]any)
	names := make([]string, len(tools))
	for i, tl := range tools {
		names[i] = tl.(map[string]any)["name"].(string)
	}
	assert.Equal(t, []string{"echo", "greet"}, names)

	_, envelope = f.rpc(t,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`, nil)
	result = envelope["result"].(map[string]any)
	content := result["content"].([]any)
	require.Len(t, content, 1)
	assert.Equal(t, "echo: hi", content[0].(map[string]any)["text"])
}

func TestHandlerUnknownToolIsMethodNotFoundCode(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	f.expectUsage()

	_, envelope := f.rpc(t,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nope"}}`, nil)
	errObj := rpcErrorObj(t, envelope)
	assert.EqualValues(t, vmcp.CodeMethodNotFound, errObj["code"])
	data := errObj["data"].(map[string]any)
	assert.Equal(t, string(vmcp.KindUnknownTool), data["kind"])
}

func TestHandlerBadArguments(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	f.expectUsage()

	_, envelope := f.rpc(t,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"greet","arguments":{}}}`, nil)
	errObj := rpcErrorObj(t, envelope)
	assert.EqualValues(t, vmcp.CodeInvalidParams, errObj["code"])
	data := errObj["data"].(map[string]any)
	assert.Equal(t, string(vmcp.KindBadArguments), data["kind"])
}

func TestHandlerUnknownMethod(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	f.expectUsage()

	_, envelope := f.rpc(t, `{"jsonrpc":"2.0","id":1,"method":"frobnicate"}`, nil)
	errObj := rpcErrorObj(t, envelope)
	assert.EqualValues(t, vmcp.CodeMethodNotFound, errObj["code"])
	assert.Contains(t, errObj["message"], "frobnicate")
	assert.Nil(t, errObj["data"])
}

func TestHandlerNotificationAccepted(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)

	resp, _ := f.rpc(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestHandlerBatchRejected(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)

	_, envelope := f.rpc(t, `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, nil)
	errObj := rpcErrorObj(t, envelope)
	assert.EqualValues(t, vmcp.CodeInvalidRequest, errObj["code"])
}

func TestHandlerParseError(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)

	_, envelope := f.rpc(t, `{"jsonrpc":`, nil)
	errObj := rpcErrorObj(t, envelope)
	assert.EqualValues(t, vmcp.CodeParseError, errObj["code"])
}

func TestHandlerEnvOverrideHeader(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	f.expectUsage()

	_, envelope := f.rpc(t,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"greet","arguments":{"name":"Ada"}}}`,
		map[string]string{envOverrideHeader: `{"REGION":"us"}`})
	result := envelope["result"].(map[string]any)
	content := result["content"].([]any)
	assert.Equal(t, "Hello Ada from us", content[0].(map[string]any)["text"])
}

func TestHandlerMalformedEnvHeader(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)

	_, envelope := f.rpc(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		map[string]string{envOverrideHeader: "not json"})
	errObj := rpcErrorObj(t, envelope)
	assert.EqualValues(t, vmcp.CodeInvalidParams, errObj["code"])
}

func TestHandlerUnknownVMCP(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)

	resp, err := http.Post(f.baseURL+"/private/ghost/vmcp", "application/json",
		bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlerUsageAttribution(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)

	var entries []vmcp.UsageEntry
	f.usage.EXPECT().Append(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e vmcp.UsageEntry) error {
			entries = append(entries, e)
			return nil
		}).Times(2)

	f.rpc(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"text":"x"}}}`, nil)
	f.rpc(t, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"nope"}}`, nil)

	require.Len(t, entries, 2)
	assert.Equal(t, "echo", entries[0].ToolName)
	assert.Equal(t, "echoer", entries[0].ServerName)
	assert.Equal(t, "ok", entries[0].Outcome)
	assert.Equal(t, "error", entries[1].Outcome)
}

func TestServerHealthAndStatus(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	f.expectUsage()

	resp, err := http.Get(f.baseURL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Touch the upstream so /status has a live session to report.
	f.rpc(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, nil)

	resp, err = http.Get(f.baseURL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var status struct {
		Status    string `json:"status"`
		Version   string `json:"version"`
		Upstreams []struct {
			Name  string `json:"name"`
			State string `json:"state"`
		} `json:"upstreams"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "test", status.Version)
	require.Len(t, status.Upstreams, 1)
	assert.Equal(t, "echoer", status.Upstreams[0].Name)
	assert.Equal(t, string(vmcp.StateConnected), status.Upstreams[0].State)
}

func TestServerSystemPromptEndpoint(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)

	resp, err := http.Post(f.baseURL+"/private/calc/system-prompt", "application/json",
		bytes.NewBufferString(`{"env":{"REGION":"us"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "You work in us.", body["system_prompt"])
}
