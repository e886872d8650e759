// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package composer

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"

	"github.com/virtualmcp/vmcpd/pkg/logger"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
)

// CallTool resolves an exposed tool name through the reverse map and
// executes it: custom tools through the matching engine, upstream tools
// through their session. Arguments are validated against the tool's input
// schema before anything is touched; missing required fields fail
// BadArguments, extra fields pass through.
func (c *Composer) CallTool(ctx context.Context, inv *vmcp.InvocationContext, name string, args map[string]any) (*vmcp.ToolCallResult, error) {
	v, err := c.currentView(ctx)
	if err != nil {
		return nil, redacted(inv, err)
	}
	o, ok := v.toolOrigins[name]
	if !ok {
		return nil, vmcp.Errorf(vmcp.KindUnknownTool, "tool %q is not exposed by vmcp %q", name, c.def.Name)
	}
	if err := validateArgs(o.Schema, args, name); err != nil {
		return nil, err
	}

	if o.Custom {
		res, err := c.engines.Execute(ctx, inv, &c.def.Tools[o.Index], args)
		return res, redacted(inv, err)
	}

	sess, err := c.deps.Registry.GetOrOpen(ctx, o.ServerID)
	if err != nil {
		return nil, redacted(inv, wrapUpstream(err, o.ServerName))
	}
	res, err := sess.CallTool(ctx, o.Local, args, nil)
	return res, redacted(inv, err)
}

// ReadResource serves a resource by exposed URI or custom-resource alias.
// Custom resources come from inline content or the blob store; everything
// else routes to the owning upstream. URIs produced by expanding an
// upstream's resource template are routed by template prefix.
func (c *Composer) ReadResource(ctx context.Context, inv *vmcp.InvocationContext, ref string) (*vmcp.ResourceReadResult, error) {
	v, err := c.currentView(ctx)
	if err != nil {
		return nil, redacted(inv, err)
	}

	if i, ok := c.customResourceIndex(ref); ok {
		res, err := c.readCustomResource(ctx, &c.def.Resources[i])
		return res, redacted(inv, err)
	}

	o, ok := v.resourceOrigins[ref]
	if !ok {
		o, ok = v.templateOrigin(ref)
	}
	if !ok {
		return nil, vmcp.Errorf(vmcp.KindUnknownResource, "resource %q is not exposed by vmcp %q", ref, c.def.Name)
	}

	sess, err := c.deps.Registry.GetOrOpen(ctx, o.ServerID)
	if err != nil {
		return nil, redacted(inv, wrapUpstream(err, o.ServerName))
	}
	res, err := sess.ReadResource(ctx, o.Local)
	return res, redacted(inv, err)
}

// GetPrompt renders a prompt by exposed name: custom prompts through the
// template engine, upstream prompts through their session. Required
// arguments are checked before dispatch.
func (c *Composer) GetPrompt(ctx context.Context, inv *vmcp.InvocationContext, name string, args map[string]any) (*vmcp.PromptGetResult, error) {
	v, err := c.currentView(ctx)
	if err != nil {
		return nil, redacted(inv, err)
	}
	o, ok := v.promptOrigins[name]
	if !ok {
		return nil, vmcp.Errorf(vmcp.KindUnknownPrompt, "prompt %q is not exposed by vmcp %q", name, c.def.Name)
	}
	if err := validateArgs(o.Schema, args, name); err != nil {
		return nil, err
	}

	if o.Custom {
		p := &c.def.Prompts[o.Index]
		out, err := c.templates.Render(ctx, inv, p.Body, args)
		if err != nil {
			return nil, redacted(inv, err)
		}
		return &vmcp.PromptGetResult{
			Description: p.Description,
			Messages: []vmcp.PromptMessage{{
				Role:    "user",
				Content: vmcp.Content{Type: "text", Text: out},
			}},
		}, nil
	}

	sess, err := c.deps.Registry.GetOrOpen(ctx, o.ServerID)
	if err != nil {
		return nil, redacted(inv, wrapUpstream(err, o.ServerName))
	}
	res, err := sess.GetPrompt(ctx, o.Local, args)
	return res, redacted(inv, err)
}

// customResourceIndex matches a reference against the definition's custom
// resources, by URI first and then by alias. Template expressions use the
// alias form @resource.NAME; the wire uses URIs.
func (c *Composer) customResourceIndex(ref string) (int, bool) {
	for i := range c.def.Resources {
		if c.def.Resources[i].URI == ref {
			return i, true
		}
	}
	for i := range c.def.Resources {
		if c.def.Resources[i].Name != "" && c.def.Resources[i].Name == ref {
			return i, true
		}
	}
	return 0, false
}

// readCustomResource materializes a custom resource's content. Stored
// blobs take precedence over inline content.
func (c *Composer) readCustomResource(ctx context.Context, r *vmcp.CustomResource) (*vmcp.ResourceReadResult, error) {
	contents := vmcp.ResourceContents{
		URI:      r.URI,
		MimeType: r.MimeType,
	}
	switch {
	case r.BlobID != "":
		if c.deps.Blobs == nil {
			return nil, vmcp.Errorf(vmcp.KindInternal, "resource %q references a blob but no blob store is configured", r.URI)
		}
		blob, err := c.deps.Blobs.Get(ctx, r.BlobID)
		if err != nil {
			return nil, vmcp.WrapError(vmcp.KindInternal, err, "loading blob for resource %q", r.URI)
		}
		if contents.MimeType == "" {
			contents.MimeType = blob.MimeType
		}
		if utf8.Valid(blob.Data) && !strings.HasPrefix(contents.MimeType, "application/octet-stream") {
			contents.Text = string(blob.Data)
		} else {
			contents.Blob = blob.Data
		}
	case r.Text != "":
		contents.Text = r.Text
	default:
		contents.Blob = r.Blob
	}
	return &vmcp.ResourceReadResult{Contents: []vmcp.ResourceContents{contents}}, nil
}

// templateOrigin routes a URI that matches no listed resource by the
// literal prefixes of the connected upstreams' resource templates, in
// definition order.
func (v *view) templateOrigin(uri string) (origin, bool) {
	for _, ts := range v.templateServers {
		for _, prefix := range ts.prefixes {
			if prefix != "" && strings.HasPrefix(uri, prefix) {
				return origin{
					ServerID:   ts.serverID,
					ServerName: ts.serverName,
					Local:      uri,
				}, true
			}
		}
	}
	return origin{}, false
}

// validateArgs checks arguments against a JSON-schema-shaped input schema.
// A nil schema accepts anything. A stored schema that cannot be compiled
// is logged and skipped rather than blocking the call; the definition was
// validated at save time.
func validateArgs(schema map[string]any, args map[string]any, name string) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		logger.Warnf("Input schema for %q did not compile, skipping validation: %v", name, err)
		return nil
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return vmcp.Errorf(vmcp.KindBadArguments, "invalid arguments for %q: %s", name, strings.Join(msgs, "; "))
}

// wrapUpstream classifies registry open failures that are not already
// classified, tagging them with the origin server.
func wrapUpstream(err error, serverName string) error {
	if err == nil {
		return nil
	}
	if e, ok := vmcp.AsError(err); ok {
		if e.Server == "" {
			e.Server = serverName
		}
		return e
	}
	return vmcp.WrapError(vmcp.KindUpstreamUnavailable, err, "upstream %q", serverName).WithServer(serverName)
}
