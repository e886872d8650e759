// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlite implements the storage interfaces on a single SQLite
// database file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// DB is the shared SQLite handle with pragmas applied and migrations run.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database described by dsn. Plain file paths
// and file: DSNs are both accepted; parent directories are created for
// file-backed databases.
func Open(ctx context.Context, dsn string) (*DB, error) {
	if path := filePathFromDSN(dsn); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// modernc.org/sqlite serializes writes on the file lock; a single
	// connection avoids SQLITE_BUSY churn between our own statements.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db}, nil
}

// DB returns the underlying connection pool.
func (d *DB) DB() *sql.DB { return d.db }

// Close closes the underlying database.
func (d *DB) Close() error { return d.db.Close() }

// filePathFromDSN extracts the on-disk path from a SQLite DSN. It returns
// the empty string for in-memory databases, which need no directory.
func filePathFromDSN(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		if strings.Contains(path[i+1:], "mode=memory") {
			return ""
		}
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return path
}
