// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/virtualmcp/vmcpd/pkg/logger"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
)

// This file converts between MCP SDK types and the vmcp domain types so the
// SDK stays confined to this package. Conversions preserve ordering and the
// _meta field from upstream responses.

// toolFromMCP converts an SDK tool descriptor, stamping the owning server.
func toolFromMCP(t mcp.Tool, serverName string) vmcp.Tool {
	schema := map[string]any{
		"type": t.InputSchema.Type,
	}
	if t.InputSchema.Properties != nil {
		schema["properties"] = t.InputSchema.Properties
	}
	if len(t.InputSchema.Required) > 0 {
		schema["required"] = t.InputSchema.Required
	}
	if t.InputSchema.Defs != nil {
		schema["$defs"] = t.InputSchema.Defs
	}

	return vmcp.Tool{
		Name:         t.Name,
		Description:  t.Description,
		InputSchema:  schema,
		OutputSchema: toolOutputSchema(t),
		ServerName:   serverName,
	}
}

// toolOutputSchema extracts the declared output schema, if any. The SDK
// models output schemas as a typed struct whose field set tracks protocol
// revisions, so the extraction goes through the wire form instead of
// field access.
func toolOutputSchema(t mcp.Tool) map[string]any {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil
	}
	var wire struct {
		OutputSchema map[string]any `json:"outputSchema"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil
	}
	if len(wire.OutputSchema) == 0 {
		return nil
	}
	return wire.OutputSchema
}

// resourceFromMCP converts an SDK resource descriptor.
func resourceFromMCP(r mcp.Resource, serverName string) vmcp.Resource {
	return vmcp.Resource{
		URI:         r.URI,
		Name:        r.Name,
		Description: r.Description,
		MimeType:    r.MIMEType,
		ServerName:  serverName,
	}
}

// templateFromMCP converts an SDK resource template descriptor.
func templateFromMCP(t mcp.ResourceTemplate, serverName string) vmcp.ResourceTemplate {
	raw := ""
	if t.URITemplate != nil {
		raw = t.URITemplate.Raw()
	}
	return vmcp.ResourceTemplate{
		URITemplate: raw,
		Name:        t.Name,
		Description: t.Description,
		MimeType:    t.MIMEType,
		ServerName:  serverName,
	}
}

// promptFromMCP converts an SDK prompt descriptor.
func promptFromMCP(p mcp.Prompt, serverName string) vmcp.Prompt {
	args := make([]vmcp.PromptArgument, len(p.Arguments))
	for i, a := range p.Arguments {
		args[i] = vmcp.PromptArgument{
			Name:        a.Name,
			Description: a.Description,
			Required:    a.Required,
		}
	}
	return vmcp.Prompt{
		Name:        p.Name,
		Description: p.Description,
		Arguments:   args,
		ServerName:  serverName,
	}
}

// contentFromMCP converts one SDK content item. Unknown content types are
// preserved as type "unknown" rather than dropped, so array positions stay
// aligned with the upstream response.
func contentFromMCP(c mcp.Content) vmcp.Content {
	if textContent, ok := mcp.AsTextContent(c); ok {
		return vmcp.Content{
			Type: "text",
			Text: textContent.Text,
		}
	}
	if imageContent, ok := mcp.AsImageContent(c); ok {
		return vmcp.Content{
			Type:     "image",
			Data:     imageContent.Data,
			MimeType: imageContent.MIMEType,
		}
	}
	if audioContent, ok := mcp.AsAudioContent(c); ok {
		return vmcp.Content{
			Type:     "audio",
			Data:     audioContent.Data,
			MimeType: audioContent.MIMEType,
		}
	}
	if embedded, ok := mcp.AsEmbeddedResource(c); ok {
		out := vmcp.Content{Type: "resource"}
		if tr, ok := mcp.AsTextResourceContents(embedded.Resource); ok {
			out.URI = tr.URI
			out.MimeType = tr.MIMEType
			out.Text = tr.Text
		} else if br, ok := mcp.AsBlobResourceContents(embedded.Resource); ok {
			out.URI = br.URI
			out.MimeType = br.MIMEType
			out.Data = br.Blob
		}
		return out
	}
	logger.Warnf("Unknown MCP content type %T, passing through as unknown", c)
	return vmcp.Content{Type: "unknown"}
}

// contentsFromMCP converts an SDK content array.
func contentsFromMCP(items []mcp.Content) []vmcp.Content {
	out := make([]vmcp.Content, len(items))
	for i, c := range items {
		out[i] = contentFromMCP(c)
	}
	return out
}

// resourceContentsFromMCP converts the contents of a resource read. Blob
// items are base64 per the MCP spec; a payload that does not decode is a
// protocol violation and fails the whole read.
func resourceContentsFromMCP(items []mcp.ResourceContents) ([]vmcp.ResourceContents, error) {
	out := make([]vmcp.ResourceContents, 0, len(items))
	for i, rc := range items {
		if tr, ok := mcp.AsTextResourceContents(rc); ok {
			out = append(out, vmcp.ResourceContents{
				URI:      tr.URI,
				MimeType: tr.MIMEType,
				Text:     tr.Text,
			})
			continue
		}
		if br, ok := mcp.AsBlobResourceContents(rc); ok {
			decoded, err := base64.StdEncoding.DecodeString(br.Blob)
			if err != nil {
				return nil, fmt.Errorf("contents[%d] (%s): invalid base64 blob: %w", i, br.URI, err)
			}
			out = append(out, vmcp.ResourceContents{
				URI:      br.URI,
				MimeType: br.MIMEType,
				Blob:     decoded,
			})
			continue
		}
		return nil, fmt.Errorf("contents[%d]: unsupported resource contents type %T", i, rc)
	}
	return out, nil
}

// promptMessagesFromMCP converts prompt messages, keeping non-text content.
func promptMessagesFromMCP(msgs []mcp.PromptMessage) []vmcp.PromptMessage {
	out := make([]vmcp.PromptMessage, len(msgs))
	for i, m := range msgs {
		out[i] = vmcp.PromptMessage{
			Role:    string(m.Role),
			Content: contentFromMCP(m.Content),
		}
	}
	return out
}

// metaFromMCP converts SDK meta to a plain map, preserving the _meta field
// from upstream responses. Returns nil when there is nothing to preserve.
func metaFromMCP(meta *mcp.Meta) map[string]any {
	if meta == nil {
		return nil
	}

	result := make(map[string]any)
	if meta.ProgressToken != nil {
		result["progressToken"] = meta.ProgressToken
	}
	maps.Copy(result, meta.AdditionalFields)

	if len(result) == 0 {
		return nil
	}
	return result
}

// metaToMCP converts a plain meta map back to the SDK form for forwarding.
// Returns nil when the map is empty so _meta is omitted on the wire.
func metaToMCP(meta map[string]any) *mcp.Meta {
	if len(meta) == 0 {
		return nil
	}

	result := &mcp.Meta{
		AdditionalFields: make(map[string]any),
	}
	for k, v := range meta {
		if k == "progressToken" {
			result.ProgressToken = v
		} else {
			result.AdditionalFields[k] = v
		}
	}
	return result
}

// stringifyPromptArgs flattens prompt arguments to the string map the MCP
// prompts/get request requires.
func stringifyPromptArgs(arguments map[string]any) map[string]string {
	if len(arguments) == 0 {
		return nil
	}
	out := make(map[string]string, len(arguments))
	for k, v := range arguments {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
