// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the persistence interfaces for vmcpd: upstream
// server records, vMCP definitions, the append-only usage log and the blob
// store backing file-based custom resources.
package storage

import (
	"context"
	"time"

	"github.com/virtualmcp/vmcpd/pkg/vmcp"
)

//go:generate mockgen -destination=mocks/mock_stores.go -package=mocks -source=interfaces.go ServerStore,VMCPStore,UsageStore,BlobStore

// ServerStore manages persisted upstream server records.
type ServerStore interface {
	// Create stores a new upstream server record.
	Create(ctx context.Context, server vmcp.UpstreamServer) error
	// Get retrieves an upstream server by ID.
	Get(ctx context.Context, id string) (vmcp.UpstreamServer, error)
	// GetByName retrieves an upstream server by its unique name.
	GetByName(ctx context.Context, name string) (vmcp.UpstreamServer, error)
	// List returns all upstream servers ordered by name.
	List(ctx context.Context) ([]vmcp.UpstreamServer, error)
	// Update replaces an existing upstream server record.
	Update(ctx context.Context, server vmcp.UpstreamServer) error
	// UpdateStatus records the last observed session state and error for a
	// server without touching the rest of the record.
	UpdateStatus(ctx context.Context, id string, status vmcp.SessionState, lastError string) error
	// MarkCapabilitiesUpdated records when the server's capabilities were
	// last discovered.
	MarkCapabilitiesUpdated(ctx context.Context, id string, at time.Time) error
	// Delete removes an upstream server by ID. Callers must close any live
	// session for the server first.
	Delete(ctx context.Context, id string) error
}

// VMCPStore manages persisted vMCP definitions.
type VMCPStore interface {
	// Create stores a new vMCP definition.
	Create(ctx context.Context, v vmcp.VMCP) error
	// Get retrieves a vMCP by ID.
	Get(ctx context.Context, id string) (vmcp.VMCP, error)
	// GetByName retrieves a vMCP by its unique name.
	GetByName(ctx context.Context, name string) (vmcp.VMCP, error)
	// List returns all vMCP definitions ordered by name.
	List(ctx context.Context) ([]vmcp.VMCP, error)
	// ListPublic returns the vMCP definitions marked public, ordered by name.
	ListPublic(ctx context.Context) ([]vmcp.VMCP, error)
	// Update replaces an existing vMCP definition.
	Update(ctx context.Context, v vmcp.VMCP) error
	// Delete removes a vMCP by ID.
	Delete(ctx context.Context, id string) error
}

// UsageStore records one row per inbound MCP request. Rows are append-only;
// the only mutation is age-based pruning.
type UsageStore interface {
	// Append records a usage entry. The entry's ID is ignored.
	Append(ctx context.Context, entry vmcp.UsageEntry) error
	// List returns usage entries matching the filter, newest first.
	List(ctx context.Context, filter UsageFilter) ([]vmcp.UsageEntry, error)
	// Prune deletes entries started before the cutoff and reports how many
	// were removed.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// UsageFilter configures filtering for UsageStore.List.
type UsageFilter struct {
	// VMCPID filters by vMCP. Empty matches all vMCPs.
	VMCPID string
	// Method filters by MCP method, e.g. "tools/call". Empty matches all.
	Method string
	// Since excludes entries started before the given time when non-zero.
	Since time.Time
	// Limit caps the number of returned entries. Zero means no cap.
	Limit int
}

// Blob is a stored file with its content.
type Blob struct {
	// ID is the stable blob identifier.
	ID string
	// Filename is the user-facing file name.
	Filename string
	// MimeType is the content type.
	MimeType string
	// Data is the file content.
	Data []byte
}

// BlobInfo describes a stored blob without its content.
type BlobInfo struct {
	ID         string
	Filename   string
	MimeType   string
	Size       int64
	ModifiedAt time.Time
}

// BlobStore manages files referenced by custom resources.
type BlobStore interface {
	// Put stores a new blob and returns its assigned ID.
	Put(ctx context.Context, filename, mimeType string, data []byte) (string, error)
	// Get retrieves a blob with its content by ID.
	Get(ctx context.Context, id string) (Blob, error)
	// Delete removes a blob by ID.
	Delete(ctx context.Context, id string) error
	// Rename changes a blob's user-facing filename.
	Rename(ctx context.Context, id, filename string) error
	// List returns metadata for all stored blobs ordered by filename.
	List(ctx context.Context) ([]BlobInfo, error)
}
