// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package vmcp

import (
	"strings"
)

// DefaultTemplateMaxDepth bounds nested template evaluation when the
// deployment does not configure TEMPLATE_MAX_DEPTH.
const DefaultTemplateMaxDepth = 8

// InvocationContext is the per-request value threaded through composer,
// template engine and custom tool engines for one inbound MCP call. It
// carries the owning vMCP's identity, the frozen environment map, the
// recursion state for nested template evaluation, and the request-scoped
// memo cache.
//
// Cancellation and the absolute deadline ride on the context.Context passed
// alongside; this value holds everything that is not a cancellation signal.
//
// An InvocationContext is confined to the goroutine serving its request:
// nested evaluations run sequentially, so no internal locking is performed.
type InvocationContext struct {
	// RequestID uniquely identifies the inbound request, for logs.
	RequestID string

	// VMCPID is the serving vMCP's ID.
	VMCPID string

	// VMCPName is the serving vMCP's name.
	VMCPName string

	// env is the frozen environment map (vMCP defaults merged with
	// request-supplied overrides). Immutable after construction.
	env map[string]string

	// secretValues holds the values of variables flagged secret, for
	// redaction of outbound details.
	secretValues []string

	// depth is the current nested evaluation depth. The root is 0.
	depth int

	// maxDepth bounds depth; exceeding it fails with TemplateRecursion.
	maxDepth int

	// chain holds the memo keys of in-flight nested evaluations, for
	// cycle detection.
	chain []string

	// memo caches rendered results of nested evaluations, keyed by
	// (kind, name, canonical args). Shared by the whole request.
	memo map[string]string
}

// NewInvocation creates the root InvocationContext for one inbound request.
// The env map is copied and frozen; secrets names the variables whose values
// must be redacted from anything that leaves the request.
func NewInvocation(requestID, vmcpID, vmcpName string, env map[string]string, secrets []string, maxDepth int) *InvocationContext {
	if maxDepth <= 0 {
		maxDepth = DefaultTemplateMaxDepth
	}
	frozen := make(map[string]string, len(env))
	for k, v := range env {
		frozen[k] = v
	}
	var secretValues []string
	for _, name := range secrets {
		if v := frozen[name]; v != "" {
			secretValues = append(secretValues, v)
		}
	}
	return &InvocationContext{
		RequestID:    requestID,
		VMCPID:       vmcpID,
		VMCPName:     vmcpName,
		env:          frozen,
		secretValues: secretValues,
		maxDepth:     maxDepth,
		memo:         make(map[string]string),
	}
}

// Env looks up a variable in the frozen environment map.
func (ic *InvocationContext) Env(name string) (string, bool) {
	v, ok := ic.env[name]
	return v, ok
}

// EnvMap returns a copy of the frozen environment map.
func (ic *InvocationContext) EnvMap() map[string]string {
	m := make(map[string]string, len(ic.env))
	for k, v := range ic.env {
		m[k] = v
	}
	return m
}

// Depth returns the current nested evaluation depth.
func (ic *InvocationContext) Depth() int {
	return ic.depth
}

// Descend derives a child context for one nested evaluation identified by
// key (the memo key of the call being entered). It fails with
// TemplateRecursion when the depth bound is exceeded or when key is already
// in flight on this request's chain.
//
// The child shares the parent's memo cache and environment; only the
// recursion state differs.
func (ic *InvocationContext) Descend(key string) (*InvocationContext, error) {
	if ic.depth+1 > ic.maxDepth {
		return nil, Errorf(KindTemplateRecursion,
			"nested evaluation exceeds max depth %d at %s", ic.maxDepth, key)
	}
	for _, inFlight := range ic.chain {
		if inFlight == key {
			return nil, Errorf(KindTemplateRecursion,
				"cyclic evaluation of %s (chain: %s)", key, strings.Join(ic.chain, " -> "))
		}
	}
	child := *ic
	child.depth = ic.depth + 1
	child.chain = append(append([]string(nil), ic.chain...), key)
	return &child, nil
}

// MemoGet returns the cached rendering for a memo key, if present.
func (ic *InvocationContext) MemoGet(key string) (string, bool) {
	v, ok := ic.memo[key]
	return v, ok
}

// MemoSet caches the rendering for a memo key for the rest of the request.
func (ic *InvocationContext) MemoSet(key, value string) {
	ic.memo[key] = value
}

// Redact replaces every secret environment value occurring in s with a
// placeholder. Applied to error details and anything else that leaves the
// request.
func (ic *InvocationContext) Redact(s string) string {
	for _, v := range ic.secretValues {
		s = strings.ReplaceAll(s, v, "***")
	}
	return s
}
