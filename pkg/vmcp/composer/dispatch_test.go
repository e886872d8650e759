// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package composer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/virtualmcp/vmcpd/pkg/storage"
	"github.com/virtualmcp/vmcpd/pkg/storage/mocks"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
)

func TestComposerReadUpstreamResource(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addServer("up-a", "matha", startMathUpstream(t, "a"))

	c := New(&vmcp.VMCP{ID: "v1", Name: "calc", Upstreams: []string{"up-a"}}, f.deps)
	inv := c.NewInvocation(nil)

	res, err := c.ReadResource(context.Background(), inv, "math://a/table")
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "1+1=2", res.Contents[0].Text)
}

func TestComposerReadCustomResourceInline(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	def := &vmcp.VMCP{
		ID:   "v1",
		Name: "docs",
		Resources: []vmcp.CustomResource{{
			URI:      "vmcp://docs/readme",
			Name:     "readme",
			MimeType: "text/markdown",
			Text:     "# Hello",
		}},
	}
	c := New(def, f.deps)
	inv := c.NewInvocation(nil)

	// By URI.
	res, err := c.ReadResource(context.Background(), inv, "vmcp://docs/readme")
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "# Hello", res.Contents[0].Text)
	assert.Equal(t, "text/markdown", res.Contents[0].MimeType)

	// By alias, as template expressions reference it.
	res, err = c.ReadResource(context.Background(), inv, "readme")
	require.NoError(t, err)
	assert.Equal(t, "# Hello", res.Contents[0].Text)
}

func TestComposerReadCustomResourceFromBlobStore(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	blobs := mocks.NewMockBlobStore(ctrl)
	blobs.EXPECT().Get(gomock.Any(), "blob-1").Return(storage.Blob{
		ID:       "blob-1",
		Filename: "notes.txt",
		MimeType: "text/plain",
		Data:     []byte("stored notes"),
	}, nil)

	f := newFixture(t)
	f.deps.Blobs = blobs

	def := &vmcp.VMCP{
		ID:   "v1",
		Name: "docs",
		Resources: []vmcp.CustomResource{{
			URI:    "vmcp://docs/notes",
			Name:   "notes",
			BlobID: "blob-1",
		}},
	}
	c := New(def, f.deps)
	inv := c.NewInvocation(nil)

	res, err := c.ReadResource(context.Background(), inv, "vmcp://docs/notes")
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "stored notes", res.Contents[0].Text)
	assert.Equal(t, "text/plain", res.Contents[0].MimeType)
}

func TestComposerCustomResourceShadowsUpstreamURI(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addServer("up-a", "matha", startMathUpstream(t, "a"))

	def := &vmcp.VMCP{
		ID:        "v1",
		Name:      "calc",
		Upstreams: []string{"up-a"},
		Resources: []vmcp.CustomResource{{
			URI:  "math://a/table",
			Name: "localtable",
			Text: "local override",
		}},
	}
	c := New(def, f.deps)

	resources, err := c.ListResources(context.Background())
	require.NoError(t, err)
	uris := make([]string, len(resources))
	for i, r := range resources {
		uris[i] = r.URI
	}
	assert.Equal(t, []string{"math://a/table@matha", "math://a/table"}, uris)

	inv := c.NewInvocation(nil)
	res, err := c.ReadResource(context.Background(), inv, "math://a/table")
	require.NoError(t, err)
	assert.Equal(t, "local override", res.Contents[0].Text)

	res, err = c.ReadResource(context.Background(), inv, "math://a/table@matha")
	require.NoError(t, err)
	assert.Equal(t, "1+1=2", res.Contents[0].Text)
}

func TestComposerUnknownResource(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	c := New(&vmcp.VMCP{ID: "v1", Name: "bare"}, f.deps)
	inv := c.NewInvocation(nil)

	_, err := c.ReadResource(context.Background(), inv, "nope://missing")
	assert.True(t, vmcp.IsKind(err, vmcp.KindUnknownResource))
}

func TestComposerGetUpstreamPrompt(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addServer("up-a", "matha", startMathUpstream(t, "a"))

	c := New(&vmcp.VMCP{ID: "v1", Name: "calc", Upstreams: []string{"up-a"}}, f.deps)
	inv := c.NewInvocation(nil)

	res, err := c.GetPrompt(context.Background(), inv, "explain", nil)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "from a", res.Messages[0].Content.Text)
}

func TestComposerCustomPromptWinsBareName(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addServer("up-a", "matha", startMathUpstream(t, "a"))

	def := &vmcp.VMCP{
		ID:        "v1",
		Name:      "calc",
		Upstreams: []string{"up-a"},
		Prompts: []vmcp.CustomPrompt{{
			Name: "explain",
			Body: "locally explained",
		}},
	}
	c := New(def, f.deps)

	prompts, err := c.ListPrompts(context.Background())
	require.NoError(t, err)
	names := make([]string, len(prompts))
	for i, p := range prompts {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"explain@matha", "explain"}, names)

	inv := c.NewInvocation(nil)
	res, err := c.GetPrompt(context.Background(), inv, "explain", nil)
	require.NoError(t, err)
	assert.Equal(t, "locally explained", res.Messages[0].Content.Text)

	res, err = c.GetPrompt(context.Background(), inv, "explain@matha", nil)
	require.NoError(t, err)
	assert.Equal(t, "from a", res.Messages[0].Content.Text)
}

func TestComposerRequiredPromptArguments(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	def := &vmcp.VMCP{
		ID:   "v1",
		Name: "strict",
		Prompts: []vmcp.CustomPrompt{{
			Name:      "brief",
			Arguments: []vmcp.PromptArgument{{Name: "topic", Required: true}},
			Body:      "About @param.topic",
		}},
	}
	c := New(def, f.deps)
	inv := c.NewInvocation(nil)

	_, err := c.GetPrompt(context.Background(), inv, "brief", nil)
	assert.True(t, vmcp.IsKind(err, vmcp.KindBadArguments))

	res, err := c.GetPrompt(context.Background(), inv, "brief", map[string]any{"topic": "tides"})
	require.NoError(t, err)
	assert.Equal(t, "About tides", res.Messages[0].Content.Text)
}
