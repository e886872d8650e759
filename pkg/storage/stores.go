// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import "io"

// Stores bundles the persistence backends for one vmcpd process.
type Stores struct {
	Servers ServerStore
	VMCPs   VMCPStore
	Usage   UsageStore
	Blobs   BlobStore

	// DB is the shared handle behind the database-backed stores. It may be
	// nil in tests that assemble the bundle from fakes.
	DB io.Closer
}

// Close releases the shared database handle.
func (s *Stores) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
