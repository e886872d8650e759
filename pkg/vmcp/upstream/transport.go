// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"

	"github.com/virtualmcp/vmcpd/pkg/vmcp"
	authtypes "github.com/virtualmcp/vmcpd/pkg/vmcp/auth/types"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/upstream/auth"
)

const (
	// maxResponseSize caps each HTTP response body for streamable-HTTP
	// upstreams. Not applied to SSE transports — see newMCPClient.
	maxResponseSize = 100 * 1024 * 1024 // 100 MB

	// requestTimeout is the wall-clock deadline for individual
	// streamable-HTTP requests, applied at both the http.Client and SDK
	// layers. Not used for SSE, whose stream lifetime is unbounded.
	requestTimeout = 30 * time.Second

	// protocolVersionHeader carries the MCP revision on upstream requests.
	// The SDK stamps the negotiated revision once initialize completes; the
	// default below covers requests issued before negotiation.
	protocolVersionHeader  = "Mcp-Protocol-Version"
	defaultProtocolVersion = "2025-06-18"
)

// httpRoundTripperFunc adapts a plain function to http.RoundTripper.
type httpRoundTripperFunc func(*http.Request) (*http.Response, error)

func (f httpRoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// headerRoundTripper injects the server's static headers and defaults the
// protocol version header on outgoing requests.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	reqClone := req.Clone(req.Context())
	for k, v := range h.headers {
		reqClone.Header.Set(k, v)
	}
	if reqClone.Header.Get(protocolVersionHeader) == "" {
		reqClone.Header.Set(protocolVersionHeader, defaultProtocolVersion)
	}
	return h.base.RoundTrip(reqClone)
}

// authRoundTripper applies the resolved auth strategy to outgoing requests.
// The strategy runs per request, so OAuth token refreshes between calls are
// picked up without rebuilding the client.
type authRoundTripper struct {
	base     http.RoundTripper
	strategy auth.Strategy
	cfg      *authtypes.UpstreamAuthConfig
	server   string
}

func (a *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	reqClone := req.Clone(req.Context())
	if err := a.strategy.Authenticate(reqClone.Context(), reqClone, a.cfg); err != nil {
		return nil, fmt.Errorf("authentication failed for upstream %s: %w", a.server, err)
	}
	return a.base.RoundTrip(reqClone)
}

// newMCPClient builds and starts a mark3labs MCP client for the server.
// Secrets referenced via *_env fields are resolved against lookup at call
// time, so tokens rotated in the environment apply on the next connect.
// The transport is started with context.Background() so its lifetime is
// bound to client.Close(), not to the connect context.
func newMCPClient(
	server *vmcp.UpstreamServer,
	registry *auth.Registry,
	lookup auth.EnvLookup,
) (*mcpclient.Client, error) {
	cfg, err := auth.ResolveSecrets(server.Auth, lookup)
	if err != nil {
		return nil, vmcp.WrapError(vmcp.KindInternal, err,
			"resolving auth secrets for upstream %s", server.Name)
	}
	if cfg != nil && cfg.OAuth != nil && cfg.OAuth.TokenKey == "" {
		// Cached tokens are scoped per upstream server.
		cfg.OAuth.TokenKey = server.ID
	}

	strategy, err := registry.GetStrategy(cfg.StrategyType())
	if err != nil {
		return nil, vmcp.WrapError(vmcp.KindInternal, err,
			"auth strategy for upstream %s", server.Name)
	}
	if err := strategy.Validate(cfg); err != nil {
		return nil, vmcp.WrapError(vmcp.KindInternal, err,
			"invalid auth config for upstream %s", server.Name)
	}

	// Shared chain: static headers run first, the auth strategy second, so
	// credentials win over a static header with the same name.
	base := http.RoundTripper(http.DefaultTransport)
	base = &authRoundTripper{base: base, strategy: strategy, cfg: cfg, server: server.Name}
	base = &headerRoundTripper{base: base, headers: server.Headers}

	var c *mcpclient.Client
	switch server.Transport {
	case vmcp.TransportHTTP:
		// Each MCP call is a single bounded HTTP request/response pair, so a
		// per-response body size limit is safe. http.Client.Timeout provides
		// a hard wall-clock deadline; WithHTTPTimeout additionally wraps each
		// SDK request in a context.WithTimeout so the SDK surfaces a
		// descriptive error before the stdlib deadline fires.
		sizeLimited := httpRoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			resp, err := base.RoundTrip(req)
			if err != nil {
				return nil, err
			}
			resp.Body = struct {
				io.Reader
				io.Closer
			}{
				Reader: io.LimitReader(resp.Body, maxResponseSize),
				Closer: resp.Body,
			}
			return resp, nil
		})
		httpClient := &http.Client{
			Transport: sizeLimited,
			Timeout:   requestTimeout,
		}
		c, err = mcpclient.NewStreamableHttpClient(
			server.URL,
			mcptransport.WithHTTPTimeout(requestTimeout),
			mcptransport.WithHTTPBasicClient(httpClient),
		)
	case vmcp.TransportSSE:
		// The entire SSE session is one long-lived HTTP response body.
		// io.LimitReader on that body would silently cut the stream after
		// maxResponseSize cumulative bytes, and http.Client.Timeout would
		// kill it after requestTimeout, so neither is applied. Operation
		// deadlines are enforced via context cancellation; liveness is
		// covered by the registry's ping monitor.
		httpClient := &http.Client{Transport: base}
		c, err = mcpclient.NewSSEMCPClient(
			server.URL,
			mcptransport.WithHTTPClient(httpClient),
		)
	default:
		return nil, vmcp.Errorf(vmcp.KindInternal,
			"unsupported transport %q for upstream %s", server.Transport, server.Name)
	}
	if err != nil {
		return nil, vmcp.WrapError(vmcp.KindUpstreamUnavailable, err,
			"creating %s client for upstream %s", server.Transport, server.Name)
	}

	// Start with context.Background() so the transport is torn down by
	// client.Close() rather than by the connect context's cancellation.
	// Without this, the SSE read goroutine would die as soon as the connect
	// deadline fires, even though the handshake succeeded.
	if err := c.Start(context.Background()); err != nil {
		_ = c.Close()
		return nil, vmcp.WrapError(vmcp.KindUpstreamUnavailable, err,
			"starting %s client for upstream %s", server.Transport, server.Name)
	}

	return c, nil
}
