// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package template

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/virtualmcp/vmcpd/pkg/vmcp"
)

// RenderValue renders a parameter value for textual substitution: strings
// as-is, nil as empty, everything else as compact JSON.
func RenderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// RenderToolResult renders a nested tool call's result for substitution.
// A tool-level failure propagates as UpstreamToolError carrying the tool's
// own text.
func RenderToolResult(res *vmcp.ToolCallResult) (string, error) {
	if res.IsError {
		msg := renderContents(res.Content)
		if msg == "" {
			msg = "tool reported an error"
		}
		return "", vmcp.Errorf(vmcp.KindUpstreamToolError, "%s", msg)
	}
	if len(res.Content) == 0 && res.StructuredContent != nil {
		b, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return "", vmcp.WrapError(vmcp.KindInternal, err, "encoding structured tool result")
		}
		return string(b), nil
	}
	return renderContents(res.Content), nil
}

// RenderResourceResult renders a resource read: text contents as-is,
// binary contents base64-encoded, multiple contents joined with newlines.
func RenderResourceResult(res *vmcp.ResourceReadResult) string {
	parts := make([]string, 0, len(res.Contents))
	for _, c := range res.Contents {
		if len(c.Blob) > 0 {
			parts = append(parts, base64.StdEncoding.EncodeToString(c.Blob))
			continue
		}
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, "\n")
}

// RenderPromptResult renders a nested prompt: message texts joined with
// newlines, roles dropped.
func RenderPromptResult(res *vmcp.PromptGetResult) string {
	parts := make([]string, 0, len(res.Messages))
	for _, m := range res.Messages {
		if m.Content.Type == "text" || m.Content.Text != "" {
			parts = append(parts, m.Content.Text)
			continue
		}
		parts = append(parts, binarySentinel(m.Content))
	}
	return strings.Join(parts, "\n")
}

// renderContents joins text parts with newlines. Non-text parts render as
// a size sentinel so binary payloads never leak raw into prose.
func renderContents(items []vmcp.Content) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		switch {
		case item.Type == "text":
			parts = append(parts, item.Text)
		case item.Type == "resource" && item.Text != "":
			parts = append(parts, item.Text)
		default:
			parts = append(parts, binarySentinel(item))
		}
	}
	return strings.Join(parts, "\n")
}

func binarySentinel(item vmcp.Content) string {
	n := len(item.Data)
	if raw, err := base64.StdEncoding.DecodeString(item.Data); err == nil {
		n = len(raw)
	}
	mime := item.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}
	return fmt.Sprintf("[binary:%s:%d bytes]", mime, n)
}
