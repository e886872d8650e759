// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

// Package composer presents a single MCP surface for one vMCP definition.
//
// The composer merges cached upstream capabilities with the vMCP's custom
// tools, resources and prompts into one ordered, collision-free listing,
// and dispatches execution to the owning upstream session or custom tool
// engine. It also implements template.Resolver, so template expressions
// inside custom tools and prompts re-enter the same composed surface.
package composer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/virtualmcp/vmcpd/pkg/storage"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/capcache"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/engine"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/registry"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/template"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/upstream/auth"
)

// Deps bundles the shared collaborators a Composer dispatches through.
// One Deps value serves every vMCP in the process.
type Deps struct {
	// Registry supplies upstream sessions. Required.
	Registry *registry.Registry

	// Cache supplies capability snapshots. Required.
	Cache *capcache.Cache

	// Servers backs auth_from_upstream lookups for HTTP tools. Optional.
	Servers storage.ServerStore

	// Blobs serves custom resources stored out of line. Optional.
	Blobs storage.BlobStore

	// Auth is the outgoing auth strategy registry for HTTP tools.
	// Optional; nil disables HTTP tool auth bindings.
	Auth *auth.Registry

	// Script configures the script engine. Zero values select defaults.
	Script engine.ScriptConfig

	// TemplateMaxDepth bounds nested template evaluation. Zero selects
	// the default.
	TemplateMaxDepth int
}

// Composer serves one vMCP definition. Safe for concurrent use; the
// composed view is rebuilt only when an upstream's snapshot generation or
// session state changes, so unchanged back-to-back listings are identical.
type Composer struct {
	def  *vmcp.VMCP
	deps Deps

	templates *template.Engine
	engines   *engine.Set

	// view is the current composed capability view. Rebuilds swap the
	// pointer under buildMu; reads are lock-free.
	view    atomic.Pointer[view]
	buildMu sync.Mutex
}

// New binds a Composer to one vMCP definition. The definition is not
// copied; callers must treat it as immutable and build a new Composer
// after updates.
func New(def *vmcp.VMCP, deps Deps) *Composer {
	c := &Composer{def: def, deps: deps}
	c.templates = template.New(c)
	c.engines = engine.NewSet(
		engine.NewScriptEngine(deps.Script),
		engine.NewHTTPEngine(c.templates, deps.Auth, deps.Servers),
		engine.NewPromptEngine(c.templates),
	)
	return c
}

// Definition returns the served vMCP definition.
func (c *Composer) Definition() *vmcp.VMCP {
	return c.def
}

// NewInvocation builds the root InvocationContext for one inbound request:
// the vMCP's environment defaults merged with request-supplied overrides,
// frozen, with the secret set carried for redaction.
func (c *Composer) NewInvocation(overrides map[string]string) *vmcp.InvocationContext {
	env := c.def.EnvMap()
	for k, v := range overrides {
		env[k] = v
	}
	return vmcp.NewInvocation(
		uuid.NewString(),
		c.def.ID,
		c.def.Name,
		env,
		c.def.SecretEnvNames(),
		c.deps.TemplateMaxDepth,
	)
}

// SystemPrompt renders the vMCP's system prompt with the given arguments.
// A vMCP without a system prompt renders the empty string.
func (c *Composer) SystemPrompt(ctx context.Context, inv *vmcp.InvocationContext, args map[string]any) (string, error) {
	if c.def.SystemPrompt == "" {
		return "", nil
	}
	out, err := c.templates.Render(ctx, inv, c.def.SystemPrompt, args)
	if err != nil {
		return "", redacted(inv, err)
	}
	return out, nil
}

// ListTools returns the composed tool list. The slice is shared with the
// cached view and must not be modified.
func (c *Composer) ListTools(ctx context.Context) ([]vmcp.Tool, error) {
	v, err := c.currentView(ctx)
	if err != nil {
		return nil, err
	}
	return v.tools, nil
}

// ListResources returns the composed resource list.
func (c *Composer) ListResources(ctx context.Context) ([]vmcp.Resource, error) {
	v, err := c.currentView(ctx)
	if err != nil {
		return nil, err
	}
	return v.resources, nil
}

// ListResourceTemplates returns the composed resource template list.
func (c *Composer) ListResourceTemplates(ctx context.Context) ([]vmcp.ResourceTemplate, error) {
	v, err := c.currentView(ctx)
	if err != nil {
		return nil, err
	}
	return v.resourceTemplates, nil
}

// ListPrompts returns the composed prompt list.
func (c *Composer) ListPrompts(ctx context.Context) ([]vmcp.Prompt, error) {
	v, err := c.currentView(ctx)
	if err != nil {
		return nil, err
	}
	return v.prompts, nil
}

// ToolServer reports the upstream server name owning an exposed tool name.
// Empty for custom tools and unknown names. Used for usage attribution.
func (c *Composer) ToolServer(ctx context.Context, name string) string {
	v, err := c.currentView(ctx)
	if err != nil {
		return ""
	}
	return v.toolOrigins[name].ServerName
}

// Invalidate drops the composed view so the next access rebuilds it.
// Called after definition-affecting control operations (refresh, clear
// cache, connect, disconnect).
func (c *Composer) Invalidate() {
	c.view.Store(nil)
}

// currentView returns the composed view, rebuilding when any upstream's
// snapshot generation or session state moved since the last build.
func (c *Composer) currentView(ctx context.Context) (*view, error) {
	if v := c.view.Load(); v != nil && v.fingerprint == c.fingerprint() {
		return v, nil
	}

	c.buildMu.Lock()
	defer c.buildMu.Unlock()
	if v := c.view.Load(); v != nil && v.fingerprint == c.fingerprint() {
		return v, nil
	}

	// Discovery connects lazily and skips upstreams that do not answer;
	// a vMCP whose upstreams are all down still composes its custom
	// capabilities.
	c.deps.Cache.DiscoverMany(ctx, c.def.Upstreams)
	if err := ctx.Err(); err != nil {
		return nil, vmcp.WrapError(vmcp.KindUpstreamTimeout, err, "capability discovery for vmcp %q", c.def.Name)
	}

	v := c.buildView()
	c.view.Store(v)
	return v, nil
}

// fingerprint captures, per upstream in definition order, the session state
// and snapshot generation the view depends on. Cheap pointer loads only.
func (c *Composer) fingerprint() string {
	var b []byte
	for _, id := range c.def.Upstreams {
		b = append(b, id...)
		b = append(b, '=')
		if sess, ok := c.deps.Registry.Get(id); ok {
			b = append(b, string(sess.State())...)
		} else {
			b = append(b, "absent"...)
		}
		b = append(b, ':')
		if snap, ok := c.deps.Cache.Get(id); ok {
			b = appendUint(b, snap.Generation)
			if snap.Stale {
				b = append(b, '!')
			}
		}
		b = append(b, ';')
	}
	return string(b)
}

func appendUint(b []byte, n uint64) []byte {
	if n == 0 {
		return append(b, '0')
	}
	var tmp [20]byte
	i := len(tmp)
	for n > 0 {
		i--
		tmp[i] = byte('0' + n%10)
		n /= 10
	}
	return append(b, tmp[i:]...)
}

// redacted strips secret environment values from a classified error's
// detail before it leaves the request.
func redacted(inv *vmcp.InvocationContext, err error) error {
	if err == nil {
		return nil
	}
	if e, ok := vmcp.AsError(err); ok {
		e.Detail = inv.Redact(e.Detail)
		return e
	}
	return err
}
