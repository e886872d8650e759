// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/virtualmcp/vmcpd/pkg/logger"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
)

const (
	// retryInitialDelay seeds the backoff between an operation's attempts.
	retryInitialDelay = 500 * time.Millisecond

	// maxCallAttempts bounds attempts per operation: the original call plus
	// one retry after a transient transport failure or a token refresh.
	maxCallAttempts = 2
)

// doCall runs one MCP operation against the session with the shared
// plumbing: in-flight slot acquisition, implicit reconnect, one retry on
// transient failures, 401-refresh-retry, and error classification. fn runs
// with a connected client; it must not retain the client.
func doCall[T any](
	ctx context.Context,
	s *Session,
	op string,
	fn func(ctx context.Context, c *mcpclient.Client) (T, error),
) (T, error) {
	var zero T

	if err := s.acquire(ctx); err != nil {
		return zero, err
	}
	defer s.release()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = retryInitialDelay
	expBackoff.MaxInterval = 60 * retryInitialDelay
	expBackoff.Reset()

	refreshed := false
	operation := func() (T, error) {
		client, err := s.ensureConnected(ctx)
		if err != nil {
			// ensureConnected already performed a full, paced connect
			// attempt; an immediate retry cannot do better.
			return zero, backoff.Permanent(err)
		}

		out, err := fn(ctx, client)
		if err == nil {
			return out, nil
		}

		cerr := classify(err, vmcp.KindUpstreamToolError).WithServer(s.server.Name)
		switch cerr.Kind {
		case vmcp.KindAuthRequired:
			if !refreshed {
				refreshed = true
				if rerr := s.forceRefresh(ctx); rerr == nil {
					logger.Debugw("Retrying after token refresh",
						"server", s.server.Name, "op", op)
					// The auth round tripper reads the cache per request,
					// so the retry carries the fresh token.
					return zero, cerr
				}
			}
			return zero, backoff.Permanent(s.noteAuthRequired(ctx, cerr))
		case vmcp.KindUpstreamUnavailable:
			// Channel broke mid-session. Tear down so the retry, and any
			// later operation, reconnects.
			s.markBroken(cerr)
			return zero, cerr
		case vmcp.KindUpstreamProtocol:
			s.markBroken(cerr)
			return zero, backoff.Permanent(cerr)
		default:
			// Timeouts are not retried; errors the upstream answered with
			// would fail identically on a retry.
			return zero, backoff.Permanent(cerr)
		}
	}

	out, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(maxCallAttempts),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.Debugw("Retrying upstream operation",
				"server", s.server.Name, "op", op, "delay", d, "error", err)
		}),
	)
	if err != nil {
		return zero, classify(err, vmcp.KindUpstreamUnavailable).WithServer(s.server.Name)
	}
	return out, nil
}

// ListTools returns the upstream's tools in upstream order.
func (s *Session) ListTools(ctx context.Context) ([]vmcp.Tool, error) {
	result, err := doCall(ctx, s, "tools/list",
		func(ctx context.Context, c *mcpclient.Client) (*mcp.ListToolsResult, error) {
			return c.ListTools(ctx, mcp.ListToolsRequest{})
		})
	if err != nil {
		return nil, err
	}

	tools := make([]vmcp.Tool, len(result.Tools))
	for i, t := range result.Tools {
		tools[i] = toolFromMCP(t, s.server.Name)
	}
	return tools, nil
}

// CallTool invokes a tool on the upstream. An upstream-reported tool
// failure comes back as a result with IsError set, not as an error.
func (s *Session) CallTool(
	ctx context.Context,
	name string,
	arguments map[string]any,
	meta map[string]any,
) (*vmcp.ToolCallResult, error) {
	result, err := doCall(ctx, s, "tools/call",
		func(ctx context.Context, c *mcpclient.Client) (*mcp.CallToolResult, error) {
			return c.CallTool(ctx, mcp.CallToolRequest{
				Params: mcp.CallToolParams{
					Name:      name,
					Arguments: arguments,
					Meta:      metaToMCP(meta),
				},
			})
		})
	if err != nil {
		return nil, err
	}

	// StructuredContent must be an object per the MCP schema; anything else
	// is kept only in the content array.
	var structured map[string]any
	if result.StructuredContent != nil {
		if m, ok := result.StructuredContent.(map[string]any); ok {
			structured = m
		}
	}

	return &vmcp.ToolCallResult{
		Content:           contentsFromMCP(result.Content),
		StructuredContent: structured,
		IsError:           result.IsError,
		Meta:              metaFromMCP(result.Meta),
	}, nil
}

// ListResources returns the upstream's concrete resources.
func (s *Session) ListResources(ctx context.Context) ([]vmcp.Resource, error) {
	result, err := doCall(ctx, s, "resources/list",
		func(ctx context.Context, c *mcpclient.Client) (*mcp.ListResourcesResult, error) {
			return c.ListResources(ctx, mcp.ListResourcesRequest{})
		})
	if err != nil {
		return nil, err
	}

	resources := make([]vmcp.Resource, len(result.Resources))
	for i, r := range result.Resources {
		resources[i] = resourceFromMCP(r, s.server.Name)
	}
	return resources, nil
}

// ListResourceTemplates returns the upstream's resource templates.
func (s *Session) ListResourceTemplates(ctx context.Context) ([]vmcp.ResourceTemplate, error) {
	result, err := doCall(ctx, s, "resources/templates/list",
		func(ctx context.Context, c *mcpclient.Client) (*mcp.ListResourceTemplatesResult, error) {
			return c.ListResourceTemplates(ctx, mcp.ListResourceTemplatesRequest{})
		})
	if err != nil {
		return nil, err
	}

	templates := make([]vmcp.ResourceTemplate, len(result.ResourceTemplates))
	for i, t := range result.ResourceTemplates {
		templates[i] = templateFromMCP(t, s.server.Name)
	}
	return templates, nil
}

// ReadResource reads a resource from the upstream by URI.
func (s *Session) ReadResource(ctx context.Context, uri string) (*vmcp.ResourceReadResult, error) {
	result, err := doCall(ctx, s, "resources/read",
		func(ctx context.Context, c *mcpclient.Client) (*mcp.ReadResourceResult, error) {
			return c.ReadResource(ctx, mcp.ReadResourceRequest{
				Params: mcp.ReadResourceParams{URI: uri},
			})
		})
	if err != nil {
		return nil, err
	}

	contents, err := resourceContentsFromMCP(result.Contents)
	if err != nil {
		cerr := vmcp.WrapError(vmcp.KindUpstreamProtocol, err,
			"reading resource %s", uri).WithServer(s.server.Name)
		s.markBroken(cerr)
		return nil, cerr
	}

	return &vmcp.ResourceReadResult{
		Contents: contents,
		Meta:     metaFromMCP(result.Meta),
	}, nil
}

// ListPrompts returns the upstream's prompts.
func (s *Session) ListPrompts(ctx context.Context) ([]vmcp.Prompt, error) {
	result, err := doCall(ctx, s, "prompts/list",
		func(ctx context.Context, c *mcpclient.Client) (*mcp.ListPromptsResult, error) {
			return c.ListPrompts(ctx, mcp.ListPromptsRequest{})
		})
	if err != nil {
		return nil, err
	}

	prompts := make([]vmcp.Prompt, len(result.Prompts))
	for i, p := range result.Prompts {
		prompts[i] = promptFromMCP(p, s.server.Name)
	}
	return prompts, nil
}

// GetPrompt renders a prompt on the upstream.
func (s *Session) GetPrompt(
	ctx context.Context,
	name string,
	arguments map[string]any,
) (*vmcp.PromptGetResult, error) {
	result, err := doCall(ctx, s, "prompts/get",
		func(ctx context.Context, c *mcpclient.Client) (*mcp.GetPromptResult, error) {
			return c.GetPrompt(ctx, mcp.GetPromptRequest{
				Params: mcp.GetPromptParams{
					Name:      name,
					Arguments: stringifyPromptArgs(arguments),
				},
			})
		})
	if err != nil {
		return nil, err
	}

	return &vmcp.PromptGetResult{
		Description: result.Description,
		Messages:    promptMessagesFromMCP(result.Messages),
		Meta:        metaFromMCP(result.Meta),
	}, nil
}

// Ping checks channel liveness with a protocol-level ping.
func (s *Session) Ping(ctx context.Context) error {
	_, err := doCall(ctx, s, "ping",
		func(ctx context.Context, c *mcpclient.Client) (struct{}, error) {
			return struct{}{}, c.Ping(ctx)
		})
	return err
}

// DiscoverAll fetches a full capability snapshot. Kinds the upstream does
// not advertise, or rejects as unsupported, are recorded as empty non-nil
// lists so a snapshot always distinguishes "none" from "not discovered".
// Any other per-kind failure fails the snapshot.
func (s *Session) DiscoverAll(ctx context.Context) (*vmcp.CapabilitySnapshot, error) {
	if _, err := s.ensureConnected(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	caps := s.caps
	s.mu.RUnlock()

	snap := &vmcp.CapabilitySnapshot{
		ServerID:          s.server.ID,
		ServerName:        s.server.Name,
		Tools:             []vmcp.Tool{},
		Resources:         []vmcp.Resource{},
		ResourceTemplates: []vmcp.ResourceTemplate{},
		Prompts:           []vmcp.Prompt{},
	}

	if caps.tools {
		tools, err := s.ListTools(ctx)
		switch {
		case err == nil:
			snap.Tools = tools
		case methodUnsupported(err):
			logger.Debugw("Upstream advertises tools but rejects tools/list",
				"server", s.server.Name, "error", err)
		default:
			return nil, err
		}
	}

	if caps.resources {
		resources, err := s.ListResources(ctx)
		switch {
		case err == nil:
			snap.Resources = resources
		case methodUnsupported(err):
			logger.Debugw("Upstream advertises resources but rejects resources/list",
				"server", s.server.Name, "error", err)
		default:
			return nil, err
		}

		// Templates ride on the resources capability; plenty of servers
		// support one without the other.
		templates, err := s.ListResourceTemplates(ctx)
		switch {
		case err == nil:
			snap.ResourceTemplates = templates
		case methodUnsupported(err):
			logger.Debugw("Upstream does not support resource templates",
				"server", s.server.Name)
		default:
			return nil, err
		}
	}

	if caps.prompts {
		prompts, err := s.ListPrompts(ctx)
		switch {
		case err == nil:
			snap.Prompts = prompts
		case methodUnsupported(err):
			logger.Debugw("Upstream advertises prompts but rejects prompts/list",
				"server", s.server.Name, "error", err)
		default:
			return nil, err
		}
	}

	s.mu.RLock()
	snap.ServerInfo = s.info
	snap.ProtocolVersion = s.protocolVersion
	s.mu.RUnlock()
	snap.DiscoveredAt = time.Now().UTC()

	logger.Debugw("Discovered upstream capabilities",
		"server", s.server.Name,
		"tools", len(snap.Tools),
		"resources", len(snap.Resources),
		"resourceTemplates", len(snap.ResourceTemplates),
		"prompts", len(snap.Prompts),
	)
	return snap, nil
}
