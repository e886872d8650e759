// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

// Package template implements the two-layer template language used by
// prompt-backed tools, custom prompts and HTTP tool definitions.
//
// Layer one substitutes @-expressions: @param.NAME and @param["NAME"] for
// invocation arguments, @config.NAME for environment variables,
// @tool("NAME", {args}) for nested tool calls, @resource("URI") and
// @resource.alias for resource reads, and @prompt("NAME", {args}) for
// nested prompts. "@@" escapes a literal "@". Nested calls are memoized
// per invocation and bounded by the invocation's depth and cycle checks.
//
// Layer two is a small mustache dialect over the invocation arguments:
// {{name}}, {{#if}}/{{else}}/{{/if}} and {{#each}} with {{this}} and
// {{@index}}. It runs after layer one and never fails.
package template

import (
	"context"
	"strconv"
	"strings"

	"github.com/virtualmcp/vmcpd/pkg/vmcp"
)

// Resolver executes the nested calls a template makes. The composed
// capability set backs it in production; tests substitute fakes.
type Resolver interface {
	// CallTool invokes a tool visible in the composed capability set.
	CallTool(ctx context.Context, inv *vmcp.InvocationContext, name string, args map[string]any) (*vmcp.ToolCallResult, error)

	// ReadResource reads a resource by URI or custom-resource alias.
	ReadResource(ctx context.Context, inv *vmcp.InvocationContext, ref string) (*vmcp.ResourceReadResult, error)

	// GetPrompt renders a prompt visible in the composed capability set.
	GetPrompt(ctx context.Context, inv *vmcp.InvocationContext, name string, args map[string]any) (*vmcp.PromptGetResult, error)
}

// Engine expands template strings against one invocation.
type Engine struct {
	resolver Resolver
}

// New returns an engine backed by the given resolver.
func New(resolver Resolver) *Engine {
	return &Engine{resolver: resolver}
}

// Render runs the expression layer and then the mustache pass over the
// invocation arguments. The mustache pass sees only the template's literal
// text: values substituted by the expression layer are spliced in after it
// runs, so argument or config values that happen to contain {{...}} stay
// verbatim instead of being evaluated.
func (e *Engine) Render(ctx context.Context, inv *vmcp.InvocationContext, text string, params map[string]any) (string, error) {
	if !strings.ContainsRune(text, '@') {
		return Mustache(text, params), nil
	}
	nodes, err := Scan(text)
	if err != nil {
		return "", err
	}

	segs := make([]segment, len(nodes))
	for i, n := range nodes {
		s, err := e.eval(ctx, inv, n, params)
		if err != nil {
			return "", err
		}
		segs[i] = segment{substituted: n.Kind != NodeLiteral, text: s}
	}

	// Substituted segments stand in as marker-delimited indexes while
	// mustache runs over the skeleton. The marker grows until it appears
	// in no literal segment; NUL never survives a template author's
	// editor, so one byte is the common case.
	marker := "\x00"
	for markerCollides(segs, marker) {
		marker += "\x00"
	}
	var skeleton strings.Builder
	for i, seg := range segs {
		if seg.substituted {
			skeleton.WriteString(marker)
			skeleton.WriteString(strconv.Itoa(i))
			skeleton.WriteString(marker)
		} else {
			skeleton.WriteString(seg.text)
		}
	}
	out := Mustache(skeleton.String(), params)

	// Splice values back in one left-to-right pass. A section block may
	// have dropped or repeated a token; both read naturally here.
	var b strings.Builder
	for {
		j := strings.Index(out, marker)
		if j < 0 {
			b.WriteString(out)
			break
		}
		b.WriteString(out[:j])
		out = out[j+len(marker):]
		k := strings.Index(out, marker)
		if k < 0 {
			b.WriteString(out)
			break
		}
		if idx, err := strconv.Atoi(out[:k]); err == nil && idx >= 0 && idx < len(segs) {
			b.WriteString(segs[idx].text)
		}
		out = out[k+len(marker):]
	}
	return b.String(), nil
}

// segment is one evaluated expansion node: either the template's literal
// text or a value the expression layer substituted.
type segment struct {
	substituted bool
	text        string
}

func markerCollides(segs []segment, marker string) bool {
	for _, seg := range segs {
		if !seg.substituted && strings.Contains(seg.text, marker) {
			return true
		}
	}
	return false
}
