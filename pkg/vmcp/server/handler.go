// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/virtualmcp/vmcpd/pkg/logger"
	"github.com/virtualmcp/vmcpd/pkg/storage"
	"github.com/virtualmcp/vmcpd/pkg/telemetry"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/composer"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/server/adapter"
)

const (
	// envOverrideHeader carries request-scoped environment overrides as a
	// JSON object. Values override the vMCP's environment defaults.
	envOverrideHeader = "X-Vmcp-Env"

	// maxRequestBody caps inbound JSON-RPC request bodies.
	maxRequestBody = 10 * 1024 * 1024
)

// ComposerProvider resolves a vMCP name to its live composer. The manager
// implements it over the persisted definitions.
type ComposerProvider interface {
	// ComposerFor returns the composer serving the named vMCP.
	ComposerFor(ctx context.Context, name string) (*composer.Composer, error)
}

// mcpHandler terminates the MCP wire protocol for one URL subtree. POST
// carries JSON-RPC requests; GET opens a heartbeat-only SSE stream.
type mcpHandler struct {
	provider  ComposerProvider
	usage     storage.UsageStore
	metrics   *telemetry.RequestMetrics
	timeout   time.Duration
	heartbeat time.Duration
	version   string
}

// resolve extracts the vMCP name from the route and finds its composer.
func (h *mcpHandler) resolve(w http.ResponseWriter, r *http.Request) *composer.Composer {
	name := chi.URLParam(r, "vmcpName")
	comp, err := h.provider.ComposerFor(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "unknown vmcp: "+name, http.StatusNotFound)
		} else {
			logger.Errorf("Failed to resolve vmcp %q: %v", name, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return nil
	}
	return comp
}

// ServeHTTP routes by HTTP method: POST is the JSON-RPC channel, GET the
// SSE stream.
func (h *mcpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	comp := h.resolve(w, r)
	if comp == nil {
		return
	}
	switch r.Method {
	case http.MethodPost:
		h.serveRPC(w, r, comp)
	case http.MethodGet:
		h.serveSSE(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// serveRPC handles one JSON-RPC request per HTTP request. Every request
// produces exactly one response envelope and one usage-log row;
// notifications are acknowledged with 202 and produce neither.
func (h *mcpHandler) serveRPC(w http.ResponseWriter, r *http.Request, comp *composer.Composer) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, nil, &rpcError{Code: vmcp.CodeParseError, Message: "unreadable request body"})
		return
	}

	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		writeError(w, nil, &rpcError{Code: vmcp.CodeInvalidRequest, Message: "batch requests are not supported"})
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, &rpcError{Code: vmcp.CodeParseError, Message: "parse error"})
		return
	}
	if req.Method == "" {
		writeError(w, req.ID, &rpcError{Code: vmcp.CodeInvalidRequest, Message: "missing method"})
		return
	}

	if req.isNotification() {
		// notifications/initialized and friends need no reply.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	overrides, err := envOverrides(r)
	if err != nil {
		writeError(w, req.ID, errorToRPC(err))
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	inv := comp.NewInvocation(overrides)
	started := time.Now()
	result, toolName, dispatchErr := h.dispatch(ctx, inv, comp, &req)
	h.recordUsage(ctx, inv, comp, req.Method, toolName, started, dispatchErr)

	if dispatchErr != nil {
		if errors.Is(dispatchErr, errMethodNotFound) {
			writeError(w, req.ID, &rpcError{
				Code:    vmcp.CodeMethodNotFound,
				Message: "method not found: " + req.Method,
			})
			return
		}
		writeError(w, req.ID, errorToRPC(dispatchErr))
		return
	}
	writeResult(w, req.ID, result)
}

// dispatch translates one MCP method into composer calls. The returned
// string is the capability name for usage attribution, when the method
// names one.
func (h *mcpHandler) dispatch(
	ctx context.Context,
	inv *vmcp.InvocationContext,
	comp *composer.Composer,
	req *rpcRequest,
) (any, string, error) {
	switch req.Method {
	case "initialize":
		return h.initializeResult(comp), "", nil

	case "ping":
		return struct{}{}, "", nil

	case "tools/list":
		tools, err := comp.ListTools(ctx)
		if err != nil {
			return nil, "", err
		}
		return &mcp.ListToolsResult{Tools: adapter.ToolsToMCP(tools)}, "", nil

	case "tools/call":
		var params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := unmarshalParams(req.Params, &params); err != nil {
			return nil, "", err
		}
		res, err := comp.CallTool(ctx, inv, params.Name, params.Arguments)
		if err != nil {
			return nil, params.Name, err
		}
		return adapter.ToolResultToMCP(res), params.Name, nil

	case "resources/list":
		resources, err := comp.ListResources(ctx)
		if err != nil {
			return nil, "", err
		}
		return &mcp.ListResourcesResult{Resources: adapter.ResourcesToMCP(resources)}, "", nil

	case "resources/templates/list":
		templates, err := comp.ListResourceTemplates(ctx)
		if err != nil {
			return nil, "", err
		}
		return adapter.ResourceTemplatesToWire(templates), "", nil

	case "resources/read":
		var params struct {
			URI string `json:"uri"`
		}
		if err := unmarshalParams(req.Params, &params); err != nil {
			return nil, "", err
		}
		res, err := comp.ReadResource(ctx, inv, params.URI)
		if err != nil {
			return nil, params.URI, err
		}
		return adapter.ResourceResultToMCP(res), params.URI, nil

	case "prompts/list":
		prompts, err := comp.ListPrompts(ctx)
		if err != nil {
			return nil, "", err
		}
		return &mcp.ListPromptsResult{Prompts: adapter.PromptsToMCP(prompts)}, "", nil

	case "prompts/get":
		var params struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := unmarshalParams(req.Params, &params); err != nil {
			return nil, "", err
		}
		res, err := comp.GetPrompt(ctx, inv, params.Name, params.Arguments)
		if err != nil {
			return nil, params.Name, err
		}
		return adapter.PromptResultToMCP(res), params.Name, nil

	default:
		return nil, "", errMethodNotFound
	}
}

// errMethodNotFound marks an unsupported MCP method. Mapped to the plain
// JSON-RPC method-not-found error rather than the domain taxonomy.
var errMethodNotFound = errors.New("method not found")

// initializeResult builds the handshake response. Capabilities are plain
// maps: the SDK's capability structs are anonymous and built for its own
// dispatcher.
func (h *mcpHandler) initializeResult(comp *composer.Composer) any {
	return map[string]any{
		"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": false},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
		},
		"serverInfo": mcp.Implementation{
			Name:    "vmcpd/" + comp.Definition().Name,
			Version: h.version,
		},
	}
}

// recordUsage appends exactly one usage row for the request. Failures are
// logged; usage logging never affects the response.
func (h *mcpHandler) recordUsage(
	ctx context.Context,
	inv *vmcp.InvocationContext,
	comp *composer.Composer,
	method, toolName string,
	started time.Time,
	dispatchErr error,
) {
	elapsed := time.Since(started)
	h.metrics.Record(ctx, inv.VMCPName, method, toolName, outcomeOf(dispatchErr), elapsed)

	if h.usage == nil {
		return
	}

	entry := vmcp.UsageEntry{
		VMCPID:     inv.VMCPID,
		Method:     method,
		ToolName:   toolName,
		StartedAt:  started,
		DurationMS: elapsed.Milliseconds(),
		Outcome:    outcomeOf(dispatchErr),
	}
	if dispatchErr == nil {
		if method == "tools/call" {
			entry.ServerName = comp.ToolServer(ctx, toolName)
		}
	} else if e, ok := vmcp.AsError(dispatchErr); ok {
		entry.ServerName = e.Server
	}

	// The row is written even when the request context already expired.
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.usage.Append(writeCtx, entry); err != nil {
		logger.Warnf("Failed to append usage entry for vmcp %s: %v", inv.VMCPName, err)
	}
}

// outcomeOf folds an error into the usage outcome vocabulary.
func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	switch vmcp.KindOf(err) {
	case vmcp.KindUpstreamTimeout, vmcp.KindToolTimeout:
		return "timeout"
	default:
		return "error"
	}
}

// envOverrides parses the environment override header.
func envOverrides(r *http.Request) (map[string]string, error) {
	raw := r.Header.Get(envOverrideHeader)
	if raw == "" {
		return nil, nil
	}
	var overrides map[string]string
	if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
		return nil, vmcp.Errorf(vmcp.KindBadArguments, "header %s is not a JSON string map", envOverrideHeader)
	}
	return overrides, nil
}

// unmarshalParams decodes request params, treating malformed params as an
// argument failure.
func unmarshalParams(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return vmcp.Errorf(vmcp.KindBadArguments, "malformed params: %v", err)
	}
	return nil
}

// serveSSE holds open a heartbeat stream. The streamable transport uses
// POST for all request traffic; the GET stream exists for clients that
// listen for server-initiated messages.
func (h *mcpHandler) serveSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	interval := h.heartbeat
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, "event: ping\ndata: {}\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
