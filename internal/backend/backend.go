// Package backend resolves a configured backend kind ("postgres",
// "sqlite", "libsql", or "memory") to a concrete dataplane.Adapter. It is
// the one place that knows about every driver package, so cmd stays
// free of import-specific wiring.
package backend

import (
	"context"
	"fmt"

	"github.com/lockplane/rowmigrate/internal/dataplane"
	"github.com/lockplane/rowmigrate/internal/dataplane/libsql"
	"github.com/lockplane/rowmigrate/internal/dataplane/memtable"
	"github.com/lockplane/rowmigrate/internal/dataplane/postgres"
	"github.com/lockplane/rowmigrate/internal/dataplane/sqlite"
)

// Open connects to a backend of the given kind and returns a ready
// dataplane.Adapter with the core table set already present.
func Open(ctx context.Context, kind, dsn string) (dataplane.Adapter, error) {
	switch kind {
	case "postgres", "postgresql":
		return postgres.Open(ctx, dsn)
	case "sqlite", "sqlite3":
		return sqlite.Open(ctx, dsn)
	case "libsql", "turso":
		return libsql.Open(ctx, dsn)
	case "memory", "":
		return memtable.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q (want postgres, sqlite, libsql, or memory)", kind)
	}
}
