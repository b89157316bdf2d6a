// Package sqlcommon is the shared database/sql-backed implementation of
// dataplane.Adapter, parameterized by a small Dialect so the postgres,
// sqlite, and libsql adapters are thin wrappers around one code path — the
// same way the teacher's database.Driver embeds a shared Generator and
// varies only the dialect-specific SQL fragments.
//
// Every core table is stored as (id, data) where data is the row's
// non-key fields serialized as JSON. The migration core treats fields as
// loosely typed (internal/model.Record.Fields is a map[string]any); a
// generic key+blob layout lets one adapter serve all eight tables without
// per-table column definitions, which the spec does not prescribe.
package sqlcommon

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lockplane/rowmigrate/internal/dataplane"
	"github.com/lockplane/rowmigrate/internal/model"
)

// Dialect supplies the SQL fragments that differ between backends.
type Dialect interface {
	// Placeholder returns the parameter marker for the i'th bind (1-based).
	Placeholder(i int) string
	// CreateTableStatement returns DDL to ensure the generic (id, data) table exists.
	CreateTableStatement(table model.Table) string
	// UpsertStatement returns the idempotent insert-or-update statement.
	UpsertStatement(table model.Table) string
}

// Adapter is a database/sql-backed dataplane.Adapter.
type Adapter struct {
	DB      *sql.DB
	Dialect Dialect
}

func New(db *sql.DB, dialect Dialect) *Adapter {
	return &Adapter{DB: db, Dialect: dialect}
}

// EnsureTables creates the generic per-table storage for every core table.
// Not part of the dataplane.Adapter interface; callers invoke it once at
// startup, mirroring the teacher's explicit CreateTable step before apply.
func (a *Adapter) EnsureTables(ctx context.Context) error {
	for _, t := range model.DependencyOrder() {
		if _, err := a.DB.ExecContext(ctx, a.Dialect.CreateTableStatement(t)); err != nil {
			return fmt.Errorf("ensuring table %s: %w", t, err)
		}
	}
	return nil
}

func (a *Adapter) BulkRead(ctx context.Context, table model.Table, cursor string, batchSize int) (dataplane.Page, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	// An empty cursor means "from the start." id is a typed UUID column on
	// Postgres, so an empty string isn't a valid bind there; seed the first
	// page with the all-zero id instead, which sorts before every real row
	// on every backend's id type.
	if cursor == "" {
		cursor = model.NilID.String()
	}
	query := fmt.Sprintf(
		"SELECT id, data FROM %s WHERE id > %s ORDER BY id ASC LIMIT %s",
		sanitizedTableName(table), a.Dialect.Placeholder(1), a.Dialect.Placeholder(2),
	)
	rows, err := a.DB.QueryContext(ctx, query, cursor, batchSize+1)
	if err != nil {
		return dataplane.Page{}, classifyErr(table, err)
	}
	defer rows.Close()

	page := dataplane.Page{}
	count := 0
	for rows.Next() {
		var idStr, data string
		if err := rows.Scan(&idStr, &data); err != nil {
			return dataplane.Page{}, fmt.Errorf("scanning row from %s: %w", table, err)
		}
		count++
		if count > batchSize {
			page.NextCursor = page.Rows[len(page.Rows)-1].ID.String()
			return page, rows.Err()
		}
		rec, err := decodeRecord(table, idStr, data)
		if err != nil {
			return dataplane.Page{}, err
		}
		page.Rows = append(page.Rows, rec)
	}
	if err := rows.Err(); err != nil {
		return dataplane.Page{}, classifyErr(table, err)
	}
	page.Done = true
	return page, nil
}

func (a *Adapter) BulkWrite(ctx context.Context, table model.Table, records []model.Record) (dataplane.WriteOutcome, error) {
	if len(records) == 0 {
		return dataplane.WriteOutcome{}, nil
	}
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return dataplane.WriteOutcome{}, classifyErr(table, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt := a.Dialect.UpsertStatement(table)
	written := 0
	for _, r := range records {
		data, err := encodeFields(r.Fields)
		if err != nil {
			return dataplane.WriteOutcome{}, fmt.Errorf("encoding %s: %w", r, err)
		}
		if _, err := tx.ExecContext(ctx, stmt, r.ID.String(), data); err != nil {
			return dataplane.WriteOutcome{Written: written}, classifyErr(table, err)
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		return dataplane.WriteOutcome{Written: 0}, classifyErr(table, err)
	}
	return dataplane.WriteOutcome{Written: written}, nil
}

func (a *Adapter) DeleteAll(ctx context.Context, table model.Table) (int, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE id <> %s", sanitizedTableName(table), a.Dialect.Placeholder(1))
	res, err := a.DB.ExecContext(ctx, query, model.NilID.String())
	if err != nil {
		return 0, classifyErr(table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected for %s: %w", table, err)
	}
	return int(n), nil
}

func (a *Adapter) Count(ctx context.Context, table model.Table) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", sanitizedTableName(table))
	var n int
	if err := a.DB.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, classifyErr(table, err)
	}
	return n, nil
}

func (a *Adapter) Lookup(ctx context.Context, table model.Table, id model.ID) (*model.Record, bool, error) {
	query := fmt.Sprintf("SELECT id, data FROM %s WHERE id = %s", sanitizedTableName(table), a.Dialect.Placeholder(1))
	var idStr, data string
	err := a.DB.QueryRowContext(ctx, query, id.String()).Scan(&idStr, &data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classifyErr(table, err)
	}
	rec, err := decodeRecord(table, idStr, data)
	if err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

func (a *Adapter) Exists(ctx context.Context, table model.Table) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", sanitizedTableName(table))
	var one int
	err := a.DB.QueryRowContext(ctx, query).Scan(&one)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, classifyErr(table, err)
	}
	return true, nil
}

func sanitizedTableName(t model.Table) string {
	// The table set is the fixed schema in internal/model; this is never
	// driven by user input, but we still reject anything surprising rather
	// than interpolate it unchecked.
	name := string(t)
	for _, r := range name {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			return "invalid_table"
		}
	}
	return name
}

func encodeFields(fields map[string]any) (string, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeRecord(table model.Table, idStr, data string) (model.Record, error) {
	id, err := model.ParseID(idStr)
	if err != nil {
		return model.Record{}, fmt.Errorf("parsing id %q from %s: %w", idStr, table, err)
	}
	var fields map[string]any
	if data != "" {
		if err := json.Unmarshal([]byte(data), &fields); err != nil {
			return model.Record{}, fmt.Errorf("decoding row %s/%s: %w", table, idStr, err)
		}
	}
	return model.Record{ID: id, Table: table, Fields: fields}, nil
}

func classifyErr(table model.Table, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such table"), strings.Contains(msg, "does not exist") && strings.Contains(msg, "relation"):
		return &dataplane.TableNotFoundError{Table: table}
	case strings.Contains(msg, "unique") || strings.Contains(msg, "constraint") || strings.Contains(msg, "foreign key"):
		return &dataplane.ConstraintViolationError{Table: table, Code: err.Error()}
	case strings.Contains(msg, "permission denied"):
		return &dataplane.PermissionDeniedError{Table: table}
	case strings.Contains(msg, "too many connections") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "broken pipe"):
		return &dataplane.ConnectivityLostError{Cause: err}
	case strings.Contains(msg, "rate limit"):
		return &dataplane.RateLimitedError{}
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return &dataplane.TimedOutError{Op: string(table)}
	default:
		return fmt.Errorf("dataplane error on %s: %w", table, err)
	}
}
