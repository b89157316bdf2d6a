// Package dataplane defines the polymorphic interface the migration core
// uses to talk to a backend — source or target — without knowing which
// concrete provider is behind it.
package dataplane

import (
	"context"
	"fmt"

	"github.com/lockplane/rowmigrate/internal/model"
)

// Page is one fixed-size, primary-key-ordered slice of a bulk read.
type Page struct {
	Rows       []model.Record
	NextCursor string
	Done       bool
}

// WriteOutcome reports how many rows an upsert actually wrote, so callers
// can assert "count written equals count read" (§8).
type WriteOutcome struct {
	Written int
}

// Adapter is the capability set every backend must expose. Bulk writes are
// idempotent upserts on primary key; a non-idempotent implementation is a
// bug in that adapter, not a condition the core accounts for.
type Adapter interface {
	BulkRead(ctx context.Context, table model.Table, cursor string, batchSize int) (Page, error)
	BulkWrite(ctx context.Context, table model.Table, rows []model.Record) (WriteOutcome, error)
	DeleteAll(ctx context.Context, table model.Table) (int, error)
	Count(ctx context.Context, table model.Table) (int, error)
	Lookup(ctx context.Context, table model.Table, id model.ID) (*model.Record, bool, error)
	Exists(ctx context.Context, table model.Table) (bool, error)
}

// Error taxonomy (§4.1, §7). Each is a distinct type so callers can use
// errors.As to classify a failure without string matching.

type TableNotFoundError struct {
	Table model.Table
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table not found: %s", e.Table)
}

type ConstraintViolationError struct {
	Table model.Table
	Code  string
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("constraint violation on %s: %s", e.Table, e.Code)
}

type ConnectivityLostError struct {
	Cause error
}

func (e *ConnectivityLostError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connectivity lost: %v", e.Cause)
	}
	return "connectivity lost"
}

func (e *ConnectivityLostError) Unwrap() error { return e.Cause }

type PermissionDeniedError struct {
	Table model.Table
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied on %s", e.Table)
}

type RateLimitedError struct {
	RetryAfterMs int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %dms", e.RetryAfterMs)
}

type TimedOutError struct {
	Op string
}

func (e *TimedOutError) Error() string {
	return fmt.Sprintf("timed out: %s", e.Op)
}
