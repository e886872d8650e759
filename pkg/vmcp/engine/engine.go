// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine executes custom tools: script tools in an interpreter
// subprocess, HTTP tools as templated outbound requests, prompt tools as
// locally rendered text. Engines share one interface so the composer can
// dispatch on the tool kind without knowing the mechanics.
package engine

import (
	"context"

	"github.com/virtualmcp/vmcpd/pkg/vmcp"
)

// Engine executes one kind of custom tool.
type Engine interface {
	// Execute runs the tool with the given arguments. Engines honor the
	// context's deadline and cancellation, reporting both as ToolTimeout.
	Execute(ctx context.Context, inv *vmcp.InvocationContext, tool *vmcp.CustomTool, args map[string]any) (*vmcp.ToolCallResult, error)

	// Describe returns the tool's listing descriptor.
	Describe(tool *vmcp.CustomTool) vmcp.Tool
}

// Set routes custom tool execution to the engine for the tool's kind.
type Set struct {
	script Engine
	http   Engine
	prompt Engine
}

// NewSet bundles the three engines.
func NewSet(script, http, prompt Engine) *Set {
	return &Set{script: script, http: http, prompt: prompt}
}

// Execute dispatches on the tool kind.
func (s *Set) Execute(ctx context.Context, inv *vmcp.InvocationContext, tool *vmcp.CustomTool, args map[string]any) (*vmcp.ToolCallResult, error) {
	eng, err := s.engineFor(tool)
	if err != nil {
		return nil, err
	}
	return eng.Execute(ctx, inv, tool, args)
}

// Describe returns the listing descriptor for the tool.
func (*Set) Describe(tool *vmcp.CustomTool) vmcp.Tool {
	return tool.Descriptor()
}

func (s *Set) engineFor(tool *vmcp.CustomTool) (Engine, error) {
	switch tool.Kind {
	case vmcp.CustomToolScript:
		return s.script, nil
	case vmcp.CustomToolHTTP:
		return s.http, nil
	case vmcp.CustomToolPrompt:
		return s.prompt, nil
	default:
		return nil, vmcp.Errorf(vmcp.KindInternal, "custom tool %q has unknown kind %q", tool.Name, tool.Kind)
	}
}
