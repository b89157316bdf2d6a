// Package libsql is the libSQL/Turso dataplane.Adapter, a thin dialect over
// internal/dataplane/sqlcommon using tursodatabase/libsql-client-go. Turso
// is SQLite-wire-compatible, so it shares sqlite's placeholder and DDL
// dialect but connects over libsql:// or https:// instead of a local file.
package libsql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/tursodatabase/libsql-client-go/libsql"

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

// Open connects to a libsql:// or https:// Turso URL (optionally with an
// embedded auth token) and returns a ready dataplane.Adapter with the core
// table set already present.
func Open(ctx context.Context, url string) (*sqlcommon.Adapter, error) {
	db, err := sql.Open("libsql", url)
	if err != nil {
		return nil, fmt.Errorf("opening libsql connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging libsql: %w", err)
	}
	adapter := sqlcommon.New(db, dialect{})
	if err := adapter.EnsureTables(ctx); err != nil {
		return nil, err
	}
	return adapter, nil
}
