// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/virtualmcp/vmcpd/pkg/storage"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
)

// UsageStore implements storage.UsageStore using SQLite.
type UsageStore struct {
	db *sql.DB
}

// NewUsageStore creates a SQLite-backed UsageStore sharing the given
// database handle.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db.DB()}
}

var _ storage.UsageStore = (*UsageStore)(nil)

// Append records a usage entry.
func (s *UsageStore) Append(ctx context.Context, entry vmcp.UsageEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_log (
			vmcp_id, method, tool_name, server_name, started_at,
			duration_ms, outcome
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.VMCPID,
		entry.Method,
		entry.ToolName,
		entry.ServerName,
		formatTime(entry.StartedAt),
		entry.DurationMS,
		entry.Outcome,
	)
	if err != nil {
		return fmt.Errorf("inserting usage entry: %w", err)
	}
	return nil
}

// List returns usage entries matching the filter, newest first.
func (s *UsageStore) List(ctx context.Context, filter storage.UsageFilter) ([]vmcp.UsageEntry, error) {
	query := `SELECT id, vmcp_id, method, tool_name, server_name, started_at,
			duration_ms, outcome
		FROM usage_log WHERE 1=1`

	var args []any
	if filter.VMCPID != "" {
		query += ` AND vmcp_id = ?`
		args = append(args, filter.VMCPID)
	}
	if filter.Method != "" {
		query += ` AND method = ?`
		args = append(args, filter.Method)
	}
	if !filter.Since.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, formatTime(filter.Since))
	}

	query += ` ORDER BY started_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying usage log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []vmcp.UsageEntry
	for rows.Next() {
		var (
			entry        vmcp.UsageEntry
			startedAtStr string
		)
		err := rows.Scan(
			&entry.ID, &entry.VMCPID, &entry.Method, &entry.ToolName,
			&entry.ServerName, &startedAtStr, &entry.DurationMS, &entry.Outcome,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning usage row: %w", err)
		}
		if entry.StartedAt, err = parseTime(startedAtStr); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}
	return entries, nil
}

// Prune deletes entries started before the cutoff.
func (s *UsageStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM usage_log WHERE started_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("pruning usage log: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return affected, nil
}
