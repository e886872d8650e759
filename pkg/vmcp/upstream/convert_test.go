// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtualmcp/vmcpd/pkg/vmcp"
)

func TestToolFromMCP(t *testing.T) {
	t.Parallel()

	in := mcp.Tool{
		Name:        "query",
		Description: "Runs a query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"q": map[string]any{"type": "string"},
			},
			Required: []string{"q"},
			Defs: map[string]any{
				"Filter": map[string]any{"type": "object"},
			},
		},
	}

	out := toolFromMCP(in, "backend")

	assert.Equal(t, "query", out.Name)
	assert.Equal(t, "Runs a query", out.Description)
	assert.Equal(t, "backend", out.ServerName)
	assert.Equal(t, "object", out.InputSchema["type"])
	assert.Equal(t, []string{"q"}, out.InputSchema["required"])
	props, ok := out.InputSchema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "q")
	assert.Contains(t, out.InputSchema, "$defs")

	// No output schema declared.
	assert.Nil(t, out.OutputSchema)
}

func TestTemplateFromMCP(t *testing.T) {
	t.Parallel()

	var in mcp.ResourceTemplate
	err := json.Unmarshal([]byte(
		`{"uriTemplate":"test://items/{id}","name":"Items","description":"One item","mimeType":"application/json"}`,
	), &in)
	require.NoError(t, err)

	out := templateFromMCP(in, "backend")
	assert.Equal(t, "test://items/{id}", out.URITemplate)
	assert.Equal(t, "Items", out.Name)
	assert.Equal(t, "One item", out.Description)
	assert.Equal(t, "application/json", out.MimeType)
	assert.Equal(t, "backend", out.ServerName)

	// A template without a URI template degrades to an empty string.
	empty := templateFromMCP(mcp.ResourceTemplate{Name: "bare"}, "backend")
	assert.Empty(t, empty.URITemplate)
}

func TestPromptFromMCP(t *testing.T) {
	t.Parallel()

	in := mcp.Prompt{
		Name:        "greet",
		Description: "Greets someone",
		Arguments: []mcp.PromptArgument{
			{Name: "name", Description: "Who to greet", Required: true},
			{Name: "tone"},
		},
	}

	out := promptFromMCP(in, "backend")
	assert.Equal(t, "greet", out.Name)
	require.Len(t, out.Arguments, 2)
	assert.Equal(t, "name", out.Arguments[0].Name)
	assert.True(t, out.Arguments[0].Required)
	assert.False(t, out.Arguments[1].Required)
}

func TestContentFromMCP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   mcp.Content
		want vmcp.Content
	}{
		{
			name: "text",
			in:   mcp.NewTextContent("hi"),
			want: vmcp.Content{Type: "text", Text: "hi"},
		},
		{
			name: "image",
			in:   mcp.ImageContent{Type: "image", Data: "aW1n", MIMEType: "image/png"},
			want: vmcp.Content{Type: "image", Data: "aW1n", MimeType: "image/png"},
		},
		{
			name: "audio",
			in:   mcp.AudioContent{Type: "audio", Data: "YXVkaW8=", MIMEType: "audio/wav"},
			want: vmcp.Content{Type: "audio", Data: "YXVkaW8=", MimeType: "audio/wav"},
		},
		{
			name: "embedded text resource",
			in: mcp.EmbeddedResource{
				Type: "resource",
				Resource: mcp.TextResourceContents{
					URI: "test://doc", MIMEType: "text/plain", Text: "body",
				},
			},
			want: vmcp.Content{Type: "resource", URI: "test://doc", MimeType: "text/plain", Text: "body"},
		},
		{
			name: "embedded blob resource",
			in: mcp.EmbeddedResource{
				Type: "resource",
				Resource: mcp.BlobResourceContents{
					URI: "test://bin", MIMEType: "application/octet-stream", Blob: "AAEC",
				},
			},
			want: vmcp.Content{Type: "resource", URI: "test://bin", MimeType: "application/octet-stream", Data: "AAEC"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, contentFromMCP(tt.in))
		})
	}
}

func TestResourceContentsFromMCP(t *testing.T) {
	t.Parallel()

	t.Run("text and blob", func(t *testing.T) {
		t.Parallel()
		out, err := resourceContentsFromMCP([]mcp.ResourceContents{
			mcp.TextResourceContents{URI: "test://a", MIMEType: "text/plain", Text: "hello"},
			mcp.BlobResourceContents{URI: "test://b", MIMEType: "application/octet-stream", Blob: "3q2+7w=="},
		})
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "hello", out[0].Text)
		assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, out[1].Blob)
	})

	t.Run("invalid base64 fails the read", func(t *testing.T) {
		t.Parallel()
		_, err := resourceContentsFromMCP([]mcp.ResourceContents{
			mcp.BlobResourceContents{URI: "test://bad", Blob: "not base64!!!"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid base64")
	})
}

func TestPromptMessagesFromMCP(t *testing.T) {
	t.Parallel()

	out := promptMessagesFromMCP([]mcp.PromptMessage{
		{Role: "user", Content: mcp.NewTextContent("question")},
		{Role: "assistant", Content: mcp.NewTextContent("answer")},
	})

	require.Len(t, out, 2)
	assert.Equal(t, "user", out[0].Role)
	assert.Equal(t, "question", out[0].Content.Text)
	assert.Equal(t, "assistant", out[1].Role)
	assert.Equal(t, "answer", out[1].Content.Text)
}

func TestMetaConversion(t *testing.T) {
	t.Parallel()

	t.Run("nil and empty collapse to nil", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, metaFromMCP(nil))
		assert.Nil(t, metaFromMCP(&mcp.Meta{}))
		assert.Nil(t, metaToMCP(nil))
		assert.Nil(t, metaToMCP(map[string]any{}))
	})

	t.Run("progress token is kept out of additional fields", func(t *testing.T) {
		t.Parallel()
		m := metaToMCP(map[string]any{
			"progressToken": "p-1",
			"trace_id":      "abc",
		})
		require.NotNil(t, m)
		assert.Equal(t, "p-1", m.ProgressToken)
		assert.Equal(t, map[string]any{"trace_id": "abc"}, m.AdditionalFields)
	})

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()
		in := map[string]any{
			"progressToken": "p-2",
			"client":        "vmcpd",
		}
		assert.Equal(t, in, metaFromMCP(metaToMCP(in)))
	})
}

func TestStringifyPromptArgs(t *testing.T) {
	t.Parallel()

	assert.Nil(t, stringifyPromptArgs(nil))
	assert.Nil(t, stringifyPromptArgs(map[string]any{}))

	out := stringifyPromptArgs(map[string]any{
		"name":  "Ada",
		"count": 7,
		"loud":  true,
	})
	assert.Equal(t, map[string]string{
		"name":  "Ada",
		"count": "7",
		"loud":  "true",
	}, out)
}
