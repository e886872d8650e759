// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	authtypes "github.com/virtualmcp/vmcpd/pkg/vmcp/auth/types"

	"github.com/virtualmcp/vmcpd/pkg/storage"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
)

// ServerStore implements storage.ServerStore using SQLite.
type ServerStore struct {
	db *sql.DB
}

// NewServerStore creates a SQLite-backed ServerStore sharing the given
// database handle.
func NewServerStore(db *DB) *ServerStore {
	return &ServerStore{db: db.DB()}
}

var _ storage.ServerStore = (*ServerStore)(nil)

// serverColumns is the SELECT column list shared by Get and List queries.
const serverColumns = `id, name, transport, url, headers_json, auth_json, enabled,
			status, last_error, last_capabilities_update, created_at, updated_at`

// Create stores a new upstream server record.
func (s *ServerStore) Create(ctx context.Context, server vmcp.UpstreamServer) error {
	headersJSON, err := encodeJSON(server.Headers)
	if err != nil {
		return fmt.Errorf("encoding headers: %w", err)
	}
	authJSON, err := encodeAuth(server.Auth)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO upstream_server (
			id, name, transport, url, headers_json, auth_json, enabled,
			status, last_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		server.ID,
		server.Name,
		string(server.Transport),
		server.URL,
		headersJSON,
		authJSON,
		server.Enabled,
		string(server.Status.Persistable()),
		server.LastError,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting upstream server: %w", err)
	}
	return nil
}

// Get retrieves an upstream server by ID.
func (s *ServerStore) Get(ctx context.Context, id string) (vmcp.UpstreamServer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM upstream_server WHERE id = ?`, id)
	return scanServer(row)
}

// GetByName retrieves an upstream server by its unique name.
func (s *ServerStore) GetByName(ctx context.Context, name string) (vmcp.UpstreamServer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM upstream_server WHERE name = ?`, name)
	return scanServer(row)
}

// List returns all upstream servers ordered by name.
func (s *ServerStore) List(ctx context.Context) ([]vmcp.UpstreamServer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+serverColumns+` FROM upstream_server ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying upstream servers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var servers []vmcp.UpstreamServer
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating upstream server rows: %w", err)
	}
	return servers, nil
}

// Update replaces the definition fields of an existing record. Runtime
// fields (status, last error, capabilities timestamp) are left to
// UpdateStatus and MarkCapabilitiesUpdated.
func (s *ServerStore) Update(ctx context.Context, server vmcp.UpstreamServer) error {
	headersJSON, err := encodeJSON(server.Headers)
	if err != nil {
		return fmt.Errorf("encoding headers: %w", err)
	}
	authJSON, err := encodeAuth(server.Auth)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE upstream_server SET
			name = ?, transport = ?, url = ?, headers_json = ?, auth_json = ?,
			enabled = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = ?`,
		server.Name,
		string(server.Transport),
		server.URL,
		headersJSON,
		authJSON,
		server.Enabled,
		server.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("updating upstream server: %w", err)
	}
	return requireAffected(res)
}

// UpdateStatus records the last observed session state and error.
func (s *ServerStore) UpdateStatus(ctx context.Context, id string, status vmcp.SessionState, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE upstream_server SET
			status = ?, last_error = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = ?`,
		string(status.Persistable()), lastError, id,
	)
	if err != nil {
		return fmt.Errorf("updating upstream server status: %w", err)
	}
	return requireAffected(res)
}

// MarkCapabilitiesUpdated records when capabilities were last discovered.
func (s *ServerStore) MarkCapabilitiesUpdated(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE upstream_server SET
			last_capabilities_update = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = ?`,
		formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("updating capabilities timestamp: %w", err)
	}
	return requireAffected(res)
}

// Delete removes an upstream server by ID.
func (s *ServerStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM upstream_server WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting upstream server: %w", err)
	}
	return requireAffected(res)
}

// scanServer scans one upstream_server row.
func scanServer(sc scanner) (vmcp.UpstreamServer, error) {
	var (
		server       vmcp.UpstreamServer
		transport    string
		headersBlob  string
		authBlob     sql.NullString
		status       string
		capUpdateStr sql.NullString
		createdAtStr string
		updatedAtStr string
	)

	err := sc.Scan(
		&server.ID, &server.Name, &transport, &server.URL, &headersBlob,
		&authBlob, &server.Enabled, &status, &server.LastError,
		&capUpdateStr, &createdAtStr, &updatedAtStr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return vmcp.UpstreamServer{}, storage.ErrNotFound
		}
		return vmcp.UpstreamServer{}, fmt.Errorf("scanning upstream server row: %w", err)
	}

	server.Transport = vmcp.TransportType(transport)
	server.Status = vmcp.SessionState(status)

	if headersBlob != "" && headersBlob != "null" {
		if err := json.Unmarshal([]byte(headersBlob), &server.Headers); err != nil {
			return vmcp.UpstreamServer{}, fmt.Errorf("decoding headers: %w", err)
		}
	}
	if authBlob.Valid && authBlob.String != "" {
		var auth authtypes.UpstreamAuthConfig
		if err := json.Unmarshal([]byte(authBlob.String), &auth); err != nil {
			return vmcp.UpstreamServer{}, fmt.Errorf("decoding auth config: %w", err)
		}
		server.Auth = &auth
	}
	if capUpdateStr.Valid && capUpdateStr.String != "" {
		if server.LastCapabilitiesUpdate, err = parseTime(capUpdateStr.String); err != nil {
			return vmcp.UpstreamServer{}, err
		}
	}
	if server.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return vmcp.UpstreamServer{}, err
	}
	if server.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return vmcp.UpstreamServer{}, err
	}

	return server, nil
}

// encodeAuth marshals the auth policy, mapping nil to SQL NULL.
func encodeAuth(auth *authtypes.UpstreamAuthConfig) (any, error) {
	if auth == nil {
		return nil, nil
	}
	data, err := encodeJSON(auth)
	if err != nil {
		return nil, fmt.Errorf("encoding auth config: %w", err)
	}
	return data, nil
}

// requireAffected translates "no rows affected" into ErrNotFound.
func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
