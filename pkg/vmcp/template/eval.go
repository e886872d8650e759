// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package template

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/virtualmcp/vmcpd/pkg/vmcp"
)

// Expand runs only the expression layer. Parameters referenced by
// @param render through RenderValue; missing parameters render empty,
// since argument presence is the schema validator's concern.
func (e *Engine) Expand(ctx context.Context, inv *vmcp.InvocationContext, text string, params map[string]any) (string, error) {
	if !strings.ContainsRune(text, '@') {
		return text, nil
	}
	nodes, err := Scan(text)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, n := range nodes {
		s, err := e.eval(ctx, inv, n, params)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

func (e *Engine) eval(ctx context.Context, inv *vmcp.InvocationContext, n Node, params map[string]any) (string, error) {
	switch n.Kind {
	case NodeLiteral:
		return n.Text, nil

	case NodeParam:
		v, ok := params[n.Name]
		if !ok {
			return "", nil
		}
		return RenderValue(v), nil

	case NodeConfig:
		v, ok := inv.Env(n.Name)
		if !ok {
			return "", vmcp.Errorf(vmcp.KindTemplateMissingConfig,
				"environment variable %q referenced at byte offset %d is not defined", n.Name, n.Offset)
		}
		return v, nil

	case NodeToolCall, NodeResourceRef, NodePromptCall:
		return e.evalCall(ctx, inv, n)

	default:
		return "", vmcp.Errorf(vmcp.KindInternal, "unhandled template node kind %d", n.Kind)
	}
}

// evalCall resolves one nested call. Results are memoized per invocation
// so repeated expressions hit the resolver once; descending into the call
// enforces the depth bound and cycle detection.
func (e *Engine) evalCall(ctx context.Context, inv *vmcp.InvocationContext, n Node) (string, error) {
	key := memoKey(n)
	if v, ok := inv.MemoGet(key); ok {
		return v, nil
	}
	child, err := inv.Descend(key)
	if err != nil {
		return "", locate(n, err)
	}

	var rendered string
	switch n.Kind {
	case NodeToolCall:
		res, err := e.resolver.CallTool(ctx, child, n.Name, n.Args)
		if err != nil {
			return "", locate(n, err)
		}
		rendered, err = RenderToolResult(res)
		if err != nil {
			return "", locate(n, err)
		}
	case NodeResourceRef:
		res, err := e.resolver.ReadResource(ctx, child, n.Name)
		if err != nil {
			return "", locate(n, err)
		}
		rendered = RenderResourceResult(res)
	case NodePromptCall:
		res, err := e.resolver.GetPrompt(ctx, child, n.Name, n.Args)
		if err != nil {
			return "", locate(n, err)
		}
		rendered = RenderPromptResult(res)
	}

	inv.MemoSet(key, rendered)
	return rendered, nil
}

// memoKey canonicalizes one nested call. encoding/json sorts map keys at
// every level, so equal argument maps produce equal keys.
func memoKey(n Node) string {
	var kind string
	switch n.Kind {
	case NodeToolCall:
		kind = "tool"
	case NodeResourceRef:
		kind = "resource"
	case NodePromptCall:
		kind = "prompt"
	}
	if len(n.Args) == 0 {
		return kind + "|" + n.Name + "|{}"
	}
	b, err := json.Marshal(n.Args)
	if err != nil {
		// Arguments were parsed from JSON; marshaling them back cannot
		// fail, but a stable fallback beats a panic.
		return fmt.Sprintf("%s|%s|!%v", kind, n.Name, err)
	}
	return kind + "|" + n.Name + "|" + string(b)
}

// locate wraps a nested failure with the expression's byte offset, keeping
// its classification. Unknown-target kinds collapse to
// TemplateUnknownTarget so callers see a template fault, not a phantom
// client request.
func locate(n Node, err error) error {
	kind := vmcp.KindOf(err)
	switch kind {
	case vmcp.KindUnknownTool, vmcp.KindUnknownResource, vmcp.KindUnknownPrompt:
		kind = vmcp.KindTemplateUnknownTarget
	}
	return vmcp.WrapError(kind, err, "template expression at byte offset %d", n.Offset)
}
