// Package sqlite is the SQLite dataplane.Adapter, a thin dialect over
// internal/dataplane/sqlcommon using modernc.org/sqlite (no cgo dependency,
// matching the teacher's driver choice for its shadow-database workflow).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/lockplane/rowmigrate/internal/dataplane/sqlcommon"
	"github.com/lockplane/rowmigrate/internal/model"
)

type dialect struct{}

func (dialect) Placeholder(int) string { return "?" }

func (dialect) CreateTableStatement(table model.Table) string {
	return fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, data TEXT NOT NULL DEFAULT '{}')`,
		table,
	)
}

func (dialect) UpsertStatement(table model.Table) string {
	return fmt.Sprintf(
		`INSERT INTO %s (id, data) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		table,
	)
}

// Open opens a SQLite database file (or ":memory:") and returns a ready
// dataplane.Adapter with the core table set already present.
func Open(ctx context.Context, path string) (*sqlcommon.Adapter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}
	// One file-backed connection at a time avoids SQLITE_BUSY under the
	// phase engine's sequential table-by-table writes.
	db.SetMaxOpenConns(1)
	adapter := sqlcommon.New(db, dialect{})
	if err := adapter.EnsureTables(ctx); err != nil {
		return nil, err
	}
	return adapter, nil
}
