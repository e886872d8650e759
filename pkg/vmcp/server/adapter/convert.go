// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

// Package adapter converts vmcp domain types into MCP SDK wire payloads
// for the inbound protocol surface. It is the outbound mirror of the
// upstream package's SDK-to-domain conversions: the SDK stays confined to
// the protocol edges and everything between speaks domain types.
package adapter

import (
	"encoding/base64"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/virtualmcp/vmcpd/pkg/vmcp"
)

// ToolsToMCP converts composed tool descriptors for a tools/list result.
// Input schemas go out raw so composed upstream schemas survive untouched.
func ToolsToMCP(tools []vmcp.Tool) []mcp.Tool {
	out := make([]mcp.Tool, 0, len(tools))
	for _, t := range tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		raw, err := json.Marshal(schema)
		if err != nil {
			// Schemas come from JSON columns or upstream JSON; a map that
			// cannot re-marshal cannot occur with those sources.
			raw = []byte(`{"type":"object"}`)
		}
		tool := mcp.Tool{
			Name:           t.Name,
			Description:    t.Description,
			RawInputSchema: json.RawMessage(raw),
		}
		out = append(out, tool)
	}
	return out
}

// ResourcesToMCP converts composed resource descriptors.
func ResourcesToMCP(resources []vmcp.Resource) []mcp.Resource {
	out := make([]mcp.Resource, 0, len(resources))
	for _, r := range resources {
		out = append(out, mcp.Resource{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MIMEType:    r.MimeType,
		})
	}
	return out
}

// ResourceTemplateWire is the wire form of one resource template. The SDK's
// typed template insists on parsing the URI template at construction time;
// upstream-advertised templates are relayed verbatim instead.
type ResourceTemplateWire struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// ResourceTemplatesResultWire is the wire form of a
// resources/templates/list result.
type ResourceTemplatesResultWire struct {
	ResourceTemplates []ResourceTemplateWire `json:"resourceTemplates"`
}

// ResourceTemplatesToWire converts composed resource template descriptors.
func ResourceTemplatesToWire(templates []vmcp.ResourceTemplate) ResourceTemplatesResultWire {
	out := make([]ResourceTemplateWire, 0, len(templates))
	for _, t := range templates {
		out = append(out, ResourceTemplateWire{
			URITemplate: t.URITemplate,
			Name:        t.Name,
			Description: t.Description,
			MIMEType:    t.MimeType,
		})
	}
	return ResourceTemplatesResultWire{ResourceTemplates: out}
}

// PromptsToMCP converts composed prompt descriptors.
func PromptsToMCP(prompts []vmcp.Prompt) []mcp.Prompt {
	out := make([]mcp.Prompt, 0, len(prompts))
	for _, p := range prompts {
		args := make([]mcp.PromptArgument, 0, len(p.Arguments))
		for _, a := range p.Arguments {
			args = append(args, mcp.PromptArgument{
				Name:        a.Name,
				Description: a.Description,
				Required:    a.Required,
			})
		}
		out = append(out, mcp.Prompt{
			Name:        p.Name,
			Description: p.Description,
			Arguments:   args,
		})
	}
	return out
}

// ToolResultToMCP converts a tool call result for a tools/call response.
func ToolResultToMCP(res *vmcp.ToolCallResult) *mcp.CallToolResult {
	out := &mcp.CallToolResult{
		Result:  mcp.Result{Meta: metaToMCP(res.Meta)},
		Content: contentsToMCP(res.Content),
		IsError: res.IsError,
	}
	if res.StructuredContent != nil {
		out.StructuredContent = res.StructuredContent
	}
	return out
}

// ResourceResultToMCP converts a resource read result for a resources/read
// response. Binary contents are base64-encoded per the MCP schema.
func ResourceResultToMCP(res *vmcp.ResourceReadResult) *mcp.ReadResourceResult {
	contents := make([]mcp.ResourceContents, 0, len(res.Contents))
	for _, rc := range res.Contents {
		if rc.Blob != nil {
			contents = append(contents, mcp.BlobResourceContents{
				URI:      rc.URI,
				MIMEType: rc.MimeType,
				Blob:     base64.StdEncoding.EncodeToString(rc.Blob),
			})
			continue
		}
		contents = append(contents, mcp.TextResourceContents{
			URI:      rc.URI,
			MIMEType: rc.MimeType,
			Text:     rc.Text,
		})
	}
	return &mcp.ReadResourceResult{
		Result:   mcp.Result{Meta: metaToMCP(res.Meta)},
		Contents: contents,
	}
}

// PromptResultToMCP converts a prompt rendering for a prompts/get response.
func PromptResultToMCP(res *vmcp.PromptGetResult) *mcp.GetPromptResult {
	messages := make([]mcp.PromptMessage, 0, len(res.Messages))
	for _, m := range res.Messages {
		messages = append(messages, mcp.PromptMessage{
			Role:    mcp.Role(m.Role),
			Content: contentToMCP(m.Content),
		})
	}
	return &mcp.GetPromptResult{
		Result:      mcp.Result{Meta: metaToMCP(res.Meta)},
		Description: res.Description,
		Messages:    messages,
	}
}

// contentToMCP converts one domain content item back to its SDK form.
// Unknown types degrade to empty text rather than breaking the response.
func contentToMCP(c vmcp.Content) mcp.Content {
	switch c.Type {
	case "text":
		return mcp.NewTextContent(c.Text)
	case "image":
		return mcp.NewImageContent(c.Data, c.MimeType)
	case "audio":
		return mcp.NewAudioContent(c.Data, c.MimeType)
	case "resource":
		if c.Data != "" {
			return mcp.NewEmbeddedResource(mcp.BlobResourceContents{
				URI:      c.URI,
				MIMEType: c.MimeType,
				Blob:     c.Data,
			})
		}
		return mcp.NewEmbeddedResource(mcp.TextResourceContents{
			URI:      c.URI,
			MIMEType: c.MimeType,
			Text:     c.Text,
		})
	default:
		return mcp.NewTextContent(c.Text)
	}
}

func contentsToMCP(items []vmcp.Content) []mcp.Content {
	out := make([]mcp.Content, len(items))
	for i, c := range items {
		out[i] = contentToMCP(c)
	}
	return out
}

// metaToMCP restores the _meta field on outbound results. Nil when empty so
// the field is omitted on the wire.
func metaToMCP(meta map[string]any) *mcp.Meta {
	if len(meta) == 0 {
		return nil
	}
	out := &mcp.Meta{AdditionalFields: make(map[string]any)}
	for k, v := range meta {
		if k == "progressToken" {
			out.ProgressToken = v
		} else {
			out.AdditionalFields[k] = v
		}
	}
	return out
}
