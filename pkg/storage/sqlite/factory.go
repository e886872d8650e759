// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"

	"github.com/virtualmcp/vmcpd/pkg/storage"
)

// Options configure OpenStores.
type Options struct {
	// BlobDir is the directory backing the file blob store.
	BlobDir string

	// UsageLogging enables the persistent usage log. When false, usage
	// entries are discarded.
	UsageLogging bool
}

// OpenStores opens the database at dsn, applies migrations and assembles
// the persistence bundle for the process.
func OpenStores(ctx context.Context, dsn string, opts Options) (*storage.Stores, error) {
	db, err := Open(ctx, dsn)
	if err != nil {
		return nil, err
	}

	blobs, err := storage.NewFileBlobStore(opts.BlobDir)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	var usage storage.UsageStore = NewUsageStore(db)
	if !opts.UsageLogging {
		usage = &storage.NoopUsageStore{}
	}

	return &storage.Stores{
		Servers: NewServerStore(db),
		VMCPs:   NewVMCPStore(db),
		Usage:   usage,
		Blobs:   blobs,
		DB:      db,
	}, nil
}
