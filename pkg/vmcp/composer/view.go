// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package composer

import (
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
)

// origin records where a composed capability came from, keyed by its
// exposed name. The reverse map entry is what call dispatch resolves.
type origin struct {
	// Custom marks a locally defined capability. Index then points into
	// the definition's Tools/Resources/Prompts slice.
	Custom bool
	Index  int

	// ServerID and ServerName identify the owning upstream for
	// non-custom origins.
	ServerID   string
	ServerName string

	// Local is the upstream-local name (or URI) used on the wire.
	Local string

	// Schema is the capability's input schema, validated before dispatch.
	Schema map[string]any
}

// view is one composed capability surface: ordered listings plus the
// reverse maps from exposed name to origin. Immutable once published.
type view struct {
	fingerprint string

	tools             []vmcp.Tool
	resources         []vmcp.Resource
	resourceTemplates []vmcp.ResourceTemplate
	prompts           []vmcp.Prompt

	toolOrigins     map[string]origin
	resourceOrigins map[string]origin
	promptOrigins   map[string]origin

	// templateServers lists, in definition order, the connected upstreams
	// advertising resource templates, for routing reads of templated URIs.
	templateServers []templateServer
}

type templateServer struct {
	serverID   string
	serverName string
	prefixes   []string
}

// buildView merges the upstreams' cached capabilities with the definition's
// custom capabilities under the collision rules: iteration follows the
// definition's upstream order, the first occurrence of a name keeps it,
// later collisions are exposed as name@server_name, and custom definitions
// always keep the bare name even against earlier upstream occurrences.
// Upstreams not currently connected are dropped from the listings, but an
// auth-challenged upstream keeps its reverse-map entries: a call to one of
// its tools must fail with the authorization URL, not report an unknown
// tool. Keeping its name claims also pins exposed names in place across
// re-authorization.
func (c *Composer) buildView() *view {
	v := &view{
		tools:             []vmcp.Tool{},
		resources:         []vmcp.Resource{},
		resourceTemplates: []vmcp.ResourceTemplate{},
		prompts:           []vmcp.Prompt{},
		toolOrigins:       make(map[string]origin),
		resourceOrigins:   make(map[string]origin),
		promptOrigins:     make(map[string]origin),
	}

	// Custom names are reserved up front so upstream occurrences of the
	// same name are suffixed even though they list first.
	customTools := make(map[string]struct{}, len(c.def.Tools))
	for i := range c.def.Tools {
		customTools[c.def.Tools[i].Name] = struct{}{}
	}
	customPrompts := make(map[string]struct{}, len(c.def.Prompts))
	for i := range c.def.Prompts {
		customPrompts[c.def.Prompts[i].Name] = struct{}{}
	}
	customResources := make(map[string]struct{}, len(c.def.Resources))
	for i := range c.def.Resources {
		customResources[c.def.Resources[i].URI] = struct{}{}
	}

	for _, serverID := range c.def.Upstreams {
		sess, ok := c.deps.Registry.Get(serverID)
		if !ok {
			continue
		}
		state := sess.State()
		if state != vmcp.StateConnected && state != vmcp.StateAuthRequired {
			continue
		}
		snap, ok := c.deps.Cache.Get(serverID)
		if !ok {
			continue
		}
		listed := state == vmcp.StateConnected

		name := snap.ServerName
		var prefixes []string
		for _, t := range snap.Tools {
			exposed := exposeName(t.Name, name, customTools, v.toolOrigins)
			v.toolOrigins[exposed] = origin{
				ServerID:   serverID,
				ServerName: name,
				Local:      t.Name,
				Schema:     t.InputSchema,
			}
			if !listed {
				continue
			}
			entry := t
			entry.Name = exposed
			v.tools = append(v.tools, entry)
		}
		for _, r := range snap.Resources {
			exposed := exposeURI(r.URI, name, customResources, v.resourceOrigins)
			v.resourceOrigins[exposed] = origin{
				ServerID:   serverID,
				ServerName: name,
				Local:      r.URI,
			}
			if !listed {
				continue
			}
			entry := r
			entry.URI = exposed
			v.resources = append(v.resources, entry)
		}
		for _, rt := range snap.ResourceTemplates {
			if listed {
				v.resourceTemplates = append(v.resourceTemplates, rt)
			}
			prefixes = append(prefixes, templatePrefix(rt.URITemplate))
		}
		for _, p := range snap.Prompts {
			exposed := exposeName(p.Name, name, customPrompts, v.promptOrigins)
			v.promptOrigins[exposed] = origin{
				ServerID:   serverID,
				ServerName: name,
				Local:      p.Name,
				Schema:     promptSchema(p.Arguments),
			}
			if !listed {
				continue
			}
			entry := p
			entry.Name = exposed
			v.prompts = append(v.prompts, entry)
		}
		if len(prefixes) > 0 {
			v.templateServers = append(v.templateServers, templateServer{
				serverID:   serverID,
				serverName: name,
				prefixes:   prefixes,
			})
		}
	}

	for i := range c.def.Tools {
		t := &c.def.Tools[i]
		v.tools = append(v.tools, t.Descriptor())
		v.toolOrigins[t.Name] = origin{
			Custom: true,
			Index:  i,
			Local:  t.Name,
			Schema: t.InputSchema,
		}
	}
	for i := range c.def.Resources {
		r := &c.def.Resources[i]
		v.resources = append(v.resources, vmcp.Resource{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MimeType:    r.MimeType,
		})
		v.resourceOrigins[r.URI] = origin{Custom: true, Index: i, Local: r.URI}
	}
	for i := range c.def.Prompts {
		p := &c.def.Prompts[i]
		v.prompts = append(v.prompts, vmcp.Prompt{
			Name:        p.Name,
			Description: p.Description,
			Arguments:   p.Arguments,
		})
		v.promptOrigins[p.Name] = origin{
			Custom: true,
			Index:  i,
			Local:  p.Name,
			Schema: promptSchema(p.Arguments),
		}
	}

	v.fingerprint = c.fingerprint()
	return v
}

// exposeName resolves a capability name against the names claimed so far.
// Server names are unique within a vMCP, so the suffixed form never
// collides again.
func exposeName(name, serverName string, custom map[string]struct{}, claimed map[string]origin) string {
	if _, reserved := custom[name]; reserved {
		return name + "@" + serverName
	}
	if _, taken := claimed[name]; taken {
		return name + "@" + serverName
	}
	return name
}

// exposeURI resolves a resource URI the same way.
func exposeURI(uri, serverName string, custom map[string]struct{}, claimed map[string]origin) string {
	if _, reserved := custom[uri]; reserved {
		return uri + "@" + serverName
	}
	if _, taken := claimed[uri]; taken {
		return uri + "@" + serverName
	}
	return uri
}

// templatePrefix returns the literal prefix of an RFC 6570 URI template,
// used to route reads of expanded template URIs to their owner.
func templatePrefix(uriTemplate string) string {
	for i := 0; i < len(uriTemplate); i++ {
		if uriTemplate[i] == '{' {
			return uriTemplate[:i]
		}
	}
	return uriTemplate
}

// promptSchema shapes prompt arguments into the JSON-schema form the
// shared validator consumes.
func promptSchema(args []vmcp.PromptArgument) map[string]any {
	if len(args) == 0 {
		return nil
	}
	props := make(map[string]any, len(args))
	var required []any
	for _, a := range args {
		props[a.Name] = map[string]any{
			"type":        "string",
			"description": a.Description,
		}
		if a.Required {
			required = append(required, a.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
