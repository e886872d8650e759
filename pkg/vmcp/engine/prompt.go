// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"

	"github.com/virtualmcp/vmcpd/pkg/vmcp"
	"github.com/virtualmcp/vmcpd/pkg/vmcp/template"
)

// PromptEngine executes prompt tools: the body renders through the
// template engine and the result is a single text content part. Nested
// calls inside the body are bounded by the invocation's recursion checks.
type PromptEngine struct {
	templates *template.Engine
}

// NewPromptEngine returns a prompt engine.
func NewPromptEngine(templates *template.Engine) *PromptEngine {
	return &PromptEngine{templates: templates}
}

// Describe returns the tool's listing descriptor.
func (*PromptEngine) Describe(tool *vmcp.CustomTool) vmcp.Tool {
	return tool.Descriptor()
}

// Execute renders the body. Template failures keep their classification.
func (e *PromptEngine) Execute(ctx context.Context, inv *vmcp.InvocationContext, tool *vmcp.CustomTool, args map[string]any) (*vmcp.ToolCallResult, error) {
	def := tool.Prompt
	if def == nil {
		return nil, vmcp.Errorf(vmcp.KindInternal, "custom tool %q has no prompt definition", tool.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, vmcp.WrapError(vmcp.KindToolTimeout, err, "tool %q", tool.Name)
	}
	out, err := e.templates.Render(ctx, inv, def.Body, args)
	if err != nil {
		return nil, err
	}
	return &vmcp.ToolCallResult{
		Content: []vmcp.Content{{Type: "text", Text: out}},
	}, nil
}
