// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"time"

	"github.com/virtualmcp/vmcpd/pkg/vmcp"
)

// NoopUsageStore is a no-op UsageStore used when usage logging is disabled.
// Append and Prune succeed silently and List returns empty.
type NoopUsageStore struct{}

var _ UsageStore = (*NoopUsageStore)(nil)

// Append is a no-op that always succeeds.
func (*NoopUsageStore) Append(_ context.Context, _ vmcp.UsageEntry) error {
	return nil
}

// List always returns an empty slice in the no-op implementation.
func (*NoopUsageStore) List(_ context.Context, _ UsageFilter) ([]vmcp.UsageEntry, error) {
	return []vmcp.UsageEntry{}, nil
}

// Prune is a no-op that always reports zero removals.
func (*NoopUsageStore) Prune(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}
