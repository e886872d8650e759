// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/virtualmcp/vmcpd/pkg/storage"
	"github.com/virtualmcp/vmcpd/pkg/vmcp"
)

// VMCPStore implements storage.VMCPStore using SQLite.
type VMCPStore struct {
	db *sql.DB
}

// NewVMCPStore creates a SQLite-backed VMCPStore sharing the given database
// handle.
func NewVMCPStore(db *DB) *VMCPStore {
	return &VMCPStore{db: db.DB()}
}

var _ storage.VMCPStore = (*VMCPStore)(nil)

// vmcpColumns is the SELECT column list shared by Get and List queries.
const vmcpColumns = `id, name, description, config_json, system_prompt, env_json,
			is_public, tags, created_at, updated_at`

// vmcpConfig is the config_json payload: the parts of a vMCP definition
// that have no dedicated column.
type vmcpConfig struct {
	Upstreams []string              `json:"upstreams,omitempty"`
	Tools     []vmcp.CustomTool     `json:"tools,omitempty"`
	Resources []vmcp.CustomResource `json:"resources,omitempty"`
	Prompts   []vmcp.CustomPrompt   `json:"prompts,omitempty"`
}

// Create stores a new vMCP definition.
func (s *VMCPStore) Create(ctx context.Context, v vmcp.VMCP) error {
	configJSON, envJSON, tagsJSON, err := encodeVMCP(v)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vmcp (
			id, name, description, config_json, system_prompt, env_json,
			is_public, tags
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID,
		v.Name,
		v.Description,
		configJSON,
		v.SystemPrompt,
		envJSON,
		v.IsPublic,
		tagsJSON,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("inserting vmcp: %w", err)
	}
	return nil
}

// Get retrieves a vMCP by ID.
func (s *VMCPStore) Get(ctx context.Context, id string) (vmcp.VMCP, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+vmcpColumns+` FROM vmcp WHERE id = ?`, id)
	return scanVMCP(row)
}

// GetByName retrieves a vMCP by its unique name.
func (s *VMCPStore) GetByName(ctx context.Context, name string) (vmcp.VMCP, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+vmcpColumns+` FROM vmcp WHERE name = ?`, name)
	return scanVMCP(row)
}

// List returns all vMCP definitions ordered by name.
func (s *VMCPStore) List(ctx context.Context) ([]vmcp.VMCP, error) {
	return s.list(ctx, `SELECT `+vmcpColumns+` FROM vmcp ORDER BY name`)
}

// ListPublic returns the vMCP definitions marked public, ordered by name.
func (s *VMCPStore) ListPublic(ctx context.Context) ([]vmcp.VMCP, error) {
	return s.list(ctx, `SELECT `+vmcpColumns+` FROM vmcp WHERE is_public = 1 ORDER BY name`)
}

func (s *VMCPStore) list(ctx context.Context, query string) ([]vmcp.VMCP, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying vmcps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var vmcps []vmcp.VMCP
	for rows.Next() {
		v, err := scanVMCP(rows)
		if err != nil {
			return nil, err
		}
		vmcps = append(vmcps, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vmcp rows: %w", err)
	}
	return vmcps, nil
}

// Update replaces an existing vMCP definition.
func (s *VMCPStore) Update(ctx context.Context, v vmcp.VMCP) error {
	configJSON, envJSON, tagsJSON, err := encodeVMCP(v)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE vmcp SET
			name = ?, description = ?, config_json = ?, system_prompt = ?,
			env_json = ?, is_public = ?, tags = ?,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = ?`,
		v.Name,
		v.Description,
		configJSON,
		v.SystemPrompt,
		envJSON,
		v.IsPublic,
		tagsJSON,
		v.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("updating vmcp: %w", err)
	}
	return requireAffected(res)
}

// Delete removes a vMCP by ID.
func (s *VMCPStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vmcp WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting vmcp: %w", err)
	}
	return requireAffected(res)
}

// encodeVMCP marshals the JSON columns of a vMCP row.
func encodeVMCP(v vmcp.VMCP) (configJSON, envJSON, tagsJSON string, err error) {
	configJSON, err = encodeJSON(vmcpConfig{
		Upstreams: v.Upstreams,
		Tools:     v.Tools,
		Resources: v.Resources,
		Prompts:   v.Prompts,
	})
	if err != nil {
		return "", "", "", fmt.Errorf("encoding config: %w", err)
	}

	env := v.Env
	if env == nil {
		env = []vmcp.EnvVar{}
	}
	envJSON, err = encodeJSON(env)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding env: %w", err)
	}

	tags := v.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err = encodeJSON(tags)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding tags: %w", err)
	}

	return configJSON, envJSON, tagsJSON, nil
}

// scanVMCP scans one vmcp row.
func scanVMCP(sc scanner) (vmcp.VMCP, error) {
	var (
		v            vmcp.VMCP
		configBlob   string
		envBlob      string
		tagsBlob     string
		createdAtStr string
		updatedAtStr string
	)

	err := sc.Scan(
		&v.ID, &v.Name, &v.Description, &configBlob, &v.SystemPrompt,
		&envBlob, &v.IsPublic, &tagsBlob, &createdAtStr, &updatedAtStr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return vmcp.VMCP{}, storage.ErrNotFound
		}
		return vmcp.VMCP{}, fmt.Errorf("scanning vmcp row: %w", err)
	}

	var cfg vmcpConfig
	if err := json.Unmarshal([]byte(configBlob), &cfg); err != nil {
		return vmcp.VMCP{}, fmt.Errorf("decoding config: %w", err)
	}
	v.Upstreams = cfg.Upstreams
	v.Tools = cfg.Tools
	v.Resources = cfg.Resources
	v.Prompts = cfg.Prompts

	if err := json.Unmarshal([]byte(envBlob), &v.Env); err != nil {
		return vmcp.VMCP{}, fmt.Errorf("decoding env: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsBlob), &v.Tags); err != nil {
		return vmcp.VMCP{}, fmt.Errorf("decoding tags: %w", err)
	}

	if v.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return vmcp.VMCP{}, err
	}
	if v.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return vmcp.VMCP{}, err
	}

	return v, nil
}
