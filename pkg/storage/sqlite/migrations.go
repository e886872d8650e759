// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	"github.com/virtualmcp/vmcpd/pkg/logger"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// coreTables are the tables the stores in this package assume exist once
// migrations have run.
var coreTables = []string{"upstream_server", "vmcp", "usage_log"}

// runMigrations brings the schema up to date from the embedded migration
// files, then verifies the stores' tables exist so a broken migration set
// fails startup instead of the first query.
func runMigrations(ctx context.Context, db *sql.DB) error {
	// The embedded filesystem has files under "migrations/"; goose wants
	// a flat filesystem of .sql files.
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(database.DialectSQLite3, db, migrationFS)
	if err != nil {
		return fmt.Errorf("creating goose provider: %w", err)
	}

	applied, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	for _, m := range applied {
		logger.Infow("applied schema migration",
			"version", m.Source.Version,
			"path", m.Source.Path,
			"duration", m.Duration)
	}

	return verifySchema(ctx, db)
}

// verifySchema confirms every core table is present.
func verifySchema(ctx context.Context, db *sql.DB) error {
	for _, table := range coreTables {
		var name string
		err := db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`,
			table,
		).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("schema verification: table %q missing after migrations", table)
		}
		if err != nil {
			return fmt.Errorf("schema verification: table %q: %w", table, err)
		}
	}
	return nil
}
