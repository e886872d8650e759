// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

// openTestDB opens an isolated in-memory database for one test.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := Open(t.Context(), dsn)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_InMemory(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	// Migrations must have created the tables.
	for _, table := range []string{"upstream_server", "vmcp", "usage_log"} {
		var name string
		err := db.DB().QueryRowContext(t.Context(),
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`,
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q missing after migrations: %v", table, err)
		}
	}
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "dir", "vmcpd.db")
	db, err := Open(t.Context(), path)
	if err != nil {
		t.Fatalf("opening file database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
}

func TestOpen_Reopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "vmcpd.db")

	db, err := Open(t.Context(), path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}

	// A second open must not re-apply migrations.
	db, err = Open(t.Context(), path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
}

func TestFilePathFromDSN(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{name: "plain path", dsn: "/var/lib/vmcpd/vmcpd.db", want: "/var/lib/vmcpd/vmcpd.db"},
		{name: "relative path", dsn: "data/vmcpd.db", want: "data/vmcpd.db"},
		{name: "file uri", dsn: "file:/var/lib/vmcpd/vmcpd.db", want: "/var/lib/vmcpd/vmcpd.db"},
		{name: "file uri with query", dsn: "file:data/vmcpd.db?_busy_timeout=100", want: "data/vmcpd.db"},
		{name: "shared memory", dsn: "file:memdb?mode=memory&cache=shared", want: ""},
		{name: "plain memory", dsn: ":memory:", want: ""},
		{name: "empty", dsn: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := filePathFromDSN(tt.dsn); got != tt.want {
				t.Errorf("filePathFromDSN(%q) = %q, want %q", tt.dsn, got, tt.want)
			}
		})
	}
}
