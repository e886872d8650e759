// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/virtualmcp/vmcpd/pkg/storage"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
	authtypes "github.com/virtualmcp/vmcpd/pkg/vmcp/auth/types"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/template"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/upstream/auth"
)

const (
	// defaultHTTPTimeout bounds the whole request when the tool does not
	// set its own.
	defaultHTTPTimeout = 60 * time.Second

	// httpConnectTimeout bounds dialing and the TLS handshake.
	httpConnectTimeout = 10 * time.Second

	// maxRedirects caps redirect following per request.
	maxRedirects = 5

	// maxHTTPResponse caps how much response body is read. Results feed
	// template expansion and inline content, so they stay modest.
	maxHTTPResponse = 10 * 1024 * 1024

	// httpErrorExcerptLimit caps how much body lands in status errors.
	httpErrorExcerptLimit = 512
)

// HTTPEngine executes HTTP tools: method, URL, headers and body are
// rendered through the template engine, the auth binding is applied via
// the strategy registry, and the response maps per the tool's ResponseKind.
type HTTPEngine struct {
	templates *template.Engine
	auth      *auth.Registry
	servers   storage.ServerStore
	client    *http.Client
}

// NewHTTPEngine returns an HTTP engine. servers backs auth_from_upstream
// lookups and may be nil when no tool borrows upstream auth.
func NewHTTPEngine(templates *template.Engine, authReg *auth.Registry, servers storage.ServerStore) *HTTPEngine {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: httpConnectTimeout,
		}).DialContext,
		TLSHandshakeTimeout: httpConnectTimeout,
	}
	return &HTTPEngine{
		templates: templates,
		auth:      authReg,
		servers:   servers,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

// Describe returns the tool's listing descriptor.
func (*HTTPEngine) Describe(tool *vmcp.CustomTool) vmcp.Tool {
	return tool.Descriptor()
}

// Execute renders and issues the request. Template failures keep their own
// classification; transport failures under a live context are ToolCrash,
// deadline or cancellation is ToolTimeout, and non-2xx statuses are
// ToolHTTPStatus with a redacted body excerpt.
func (e *HTTPEngine) Execute(ctx context.Context, inv *vmcp.InvocationContext, tool *vmcp.CustomTool, args map[string]any) (*vmcp.ToolCallResult, error) {
	def := tool.HTTP
	if def == nil {
		return nil, vmcp.Errorf(vmcp.KindInternal, "custom tool %q has no http definition", tool.Name)
	}

	timeout := defaultHTTPTimeout
	if def.TimeoutSeconds > 0 {
		timeout = time.Duration(def.TimeoutSeconds) * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := e.buildRequest(reqCtx, inv, tool.Name, def, args)
	if err != nil {
		return nil, err
	}
	if err := e.authenticate(reqCtx, inv, req, def); err != nil {
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, vmcp.Errorf(vmcp.KindToolTimeout,
				"tool %q did not complete within %s", tool.Name, timeout)
		}
		// The transport error may echo the rendered URL, which can carry
		// secret query values.
		return nil, vmcp.Errorf(vmcp.KindToolCrash,
			"tool %q request failed: %s", tool.Name, inv.Redact(err.Error()))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponse))
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, vmcp.Errorf(vmcp.KindToolTimeout,
				"tool %q did not complete within %s", tool.Name, timeout)
		}
		return nil, vmcp.Errorf(vmcp.KindToolCrash,
			"tool %q: reading response failed: %s", tool.Name, inv.Redact(err.Error()))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, vmcp.Errorf(vmcp.KindToolHTTPStatus,
			"tool %q: %s: %s", tool.Name, resp.Status, inv.Redact(excerpt(data, httpErrorExcerptLimit)))
	}

	return mapHTTPResponse(tool.Name, def, resp, data)
}

func (e *HTTPEngine) buildRequest(ctx context.Context, inv *vmcp.InvocationContext, name string, def *vmcp.HTTPToolDef, args map[string]any) (*http.Request, error) {
	renderedURL, err := e.templates.Render(ctx, inv, def.URLTemplate, args)
	if err != nil {
		return nil, err
	}
	method := def.Method
	if method != "" {
		if method, err = e.templates.Render(ctx, inv, method, args); err != nil {
			return nil, err
		}
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if def.BodyTemplate != "" {
		rendered, err := e.templates.Render(ctx, inv, def.BodyTemplate, args)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(rendered)
	}

	req, err := http.NewRequestWithContext(ctx, method, renderedURL, body)
	if err != nil {
		return nil, vmcp.Errorf(vmcp.KindInternal,
			"tool %q: building request: %s", name, inv.Redact(err.Error()))
	}
	for header, tmpl := range def.HeaderTemplates {
		v, err := e.templates.Render(ctx, inv, tmpl, args)
		if err != nil {
			return nil, err
		}
		req.Header.Set(header, v)
	}
	return req, nil
}

// authenticate applies the tool's auth binding. auth_from_upstream borrows
// the named server's config, resolving its secret indirections against the
// process environment the way the server's own session does, and reusing
// its cached OAuth tokens; the tool's own config resolves against the
// invocation environment instead.
func (e *HTTPEngine) authenticate(ctx context.Context, inv *vmcp.InvocationContext, req *http.Request, def *vmcp.HTTPToolDef) error {
	var (
		cfg *authtypes.UpstreamAuthConfig
		err error
	)
	switch {
	case def.AuthFromUpstream != "":
		if e.servers == nil {
			return vmcp.Errorf(vmcp.KindInternal,
				"auth_from_upstream %q: no server store configured", def.AuthFromUpstream)
		}
		server, lookupErr := e.lookupServer(ctx, def.AuthFromUpstream)
		if lookupErr != nil {
			return vmcp.WrapError(vmcp.KindInternal, lookupErr,
				"auth_from_upstream %q", def.AuthFromUpstream)
		}
		cfg, err = auth.ResolveSecrets(server.Auth, os.LookupEnv)
		if err != nil {
			return vmcp.WrapError(vmcp.KindInternal, err,
				"auth_from_upstream %q", def.AuthFromUpstream)
		}
		if cfg != nil && cfg.OAuth != nil && cfg.OAuth.TokenKey == "" {
			cfg.OAuth.TokenKey = server.ID
		}
	case def.Auth != nil:
		cfg, err = auth.ResolveSecrets(def.Auth, inv.Env)
		if err != nil {
			// A *_env indirection naming an unset invocation variable is the
			// same fault class as a missing @config reference.
			return vmcp.WrapError(vmcp.KindTemplateMissingConfig, err, "tool auth config")
		}
	default:
		return nil
	}

	if err := e.auth.AuthenticateRequest(ctx, req, cfg); err != nil {
		var domainErr *vmcp.Error
		if errors.As(err, &domainErr) {
			// OAuth strategies classify their own failures (AuthRequired
			// and friends); keep that.
			return err
		}
		return vmcp.WrapError(vmcp.KindInternal, err, "applying auth binding")
	}
	return nil
}

func (e *HTTPEngine) lookupServer(ctx context.Context, ref string) (*vmcp.UpstreamServer, error) {
	server, err := e.servers.GetByName(ctx, ref)
	if err == nil {
		return &server, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	server, err = e.servers.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &server, nil
}

// mapHTTPResponse converts a 2xx response body per the tool's ResponseKind.
func mapHTTPResponse(name string, def *vmcp.HTTPToolDef, resp *http.Response, data []byte) (*vmcp.ToolCallResult, error) {
	kind := def.ResponseKind
	if kind == "" {
		kind = vmcp.ResponseText
	}
	switch kind {
	case vmcp.ResponseText:
		return &vmcp.ToolCallResult{
			Content: []vmcp.Content{{Type: "text", Text: string(data)}},
		}, nil

	case vmcp.ResponseBinary:
		return &vmcp.ToolCallResult{
			Content: []vmcp.Content{binaryContent(resp, data)},
		}, nil

	case vmcp.ResponseJSON:
		payload := data
		if !json.Valid(payload) {
			return nil, vmcp.Errorf(vmcp.KindToolBadOutput,
				"tool %q: response is not valid JSON", name)
		}
		if def.ResponsePath != "" {
			r := gjson.GetBytes(payload, def.ResponsePath)
			if !r.Exists() {
				return nil, vmcp.Errorf(vmcp.KindToolBadOutput,
					"tool %q: response path %q matched nothing", name, def.ResponsePath)
			}
			payload = []byte(r.Raw)
		}
		var doc any
		if err := json.Unmarshal(payload, &doc); err != nil {
			return nil, vmcp.WrapError(vmcp.KindToolBadOutput, err,
				"tool %q: decoding response", name)
		}
		res := &vmcp.ToolCallResult{
			Content: []vmcp.Content{{Type: "text", Text: template.RenderValue(doc)}},
		}
		if m, ok := doc.(map[string]any); ok {
			res.StructuredContent = m
		}
		return res, nil

	default:
		return nil, vmcp.Errorf(vmcp.KindInternal, "tool %q: unknown response kind %q", name, kind)
	}
}

// binaryContent wraps response bytes into the matching MCP content shape:
// image and audio types directly, everything else as an embedded resource
// addressed by the final request URL.
func binaryContent(resp *http.Response, data []byte) vmcp.Content {
	mimeType := "application/octet-stream"
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if parsed, _, err := mime.ParseMediaType(ct); err == nil {
			mimeType = parsed
		}
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return vmcp.Content{Type: "image", Data: encoded, MimeType: mimeType}
	case strings.HasPrefix(mimeType, "audio/"):
		return vmcp.Content{Type: "audio", Data: encoded, MimeType: mimeType}
	default:
		uri := ""
		if resp.Request != nil && resp.Request.URL != nil {
			uri = resp.Request.URL.String()
		}
		return vmcp.Content{Type: "resource", Data: encoded, MimeType: mimeType, URI: uri}
	}
}
