// Package postgres is the Postgres dataplane.Adapter, a thin dialect over
// internal/dataplane/sqlcommon using github.com/lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/lockplane/rowmigrate/internal/dataplane/sqlcommon"
	"github.com/lockplane/rowmigrate/internal/model"
)

type dialect struct{}

func (dialect) Placeholder(i int) string { return fmt.Sprintf("$%d", i) }

func (dialect) CreateTableStatement(table model.Table) string {
	return fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (id UUID PRIMARY KEY, data JSONB NOT NULL DEFAULT '{}'::jsonb)`,
		table,
	)
}

func (dialect) UpsertStatement(table model.Table) string {
	return fmt.Sprintf(
		`INSERT INTO %s (id, data) VALUES ($1, $2::jsonb)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`,
		table,
	)
}

// Open connects to a Postgres DSN and returns a ready dataplane.Adapter with
// the core table set already present.
func Open(ctx context.Context, dsn string) (*sqlcommon.Adapter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	adapter := sqlcommon.New(db, dialect{})
	if err := adapter.EnsureTables(ctx); err != nil {
		return nil, err
	}
	return adapter, nil
}
