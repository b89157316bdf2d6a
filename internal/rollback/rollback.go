// Package rollback is the Rollback Manager: it returns the target plane to
// a defined pre-migration state, optionally snapshotting every table to
// durable files first, and supports a distinct emergency-recovery path for
// the case where the migration itself cannot be trusted to drive cleanup.
package rollback

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lockplane/rowmigrate/internal/dataplane"
	"github.com/lockplane/rowmigrate/internal/model"
)

// Mode selects how much of the target plane Run touches (§4.3).
type Mode string

const (
	Full       Mode = "full"
	Partial    Mode = "partial"
	DataOnly   Mode = "data-only"
	SchemaOnly Mode = "schema-only"
)

// TableState is the per-table state machine Run drives each touched table
// through: queued -> snapshotting -> deleting -> verifying -> done|failed|skipped.
type TableState string

const (
	Queued       TableState = "queued"
	Snapshotting TableState = "snapshotting"
	Deleting     TableState = "deleting"
	Verifying    TableState = "verifying"
	Done         TableState = "done"
	TableFailed  TableState = "failed"
	Skipped      TableState = "skipped"
)

// Options configures one Run.
type Options struct {
	Mode Mode
	// Tables restricts a `partial` run to a subset; ignored otherwise.
	Tables []model.Table
	// CreateSnapshot controls whether table contents are written to
	// SnapshotRoot/pre-rollback-<ts>/ before deletion.
	CreateSnapshot bool
	SnapshotRoot   string
}

// TableOutcome is the final record for one table.
type TableOutcome struct {
	State         TableState
	Err           error
	RowsDeleted   int
	RowsRemaining int
	SnapshotPath  string
}

// Result is RBM's structured report (§4.3, §6 persisted state layout).
type Result struct {
	Mode        Mode
	PerTable    map[model.Table]TableOutcome
	Warnings    []string
	SnapshotDir string
	Aborted     bool
}

// timestampForFilename renders t in an ISO-8601-like form with
// colons replaced so the result is filesystem-safe on every target OS.
func timestampForFilename(t time.Time) string {
	return strings.ReplaceAll(t.UTC().Format("2006-01-02T15:04:05.000Z"), ":", "-")
}

// Run executes one rollback according to opts against adapter.
func Run(ctx context.Context, adapter dataplane.Adapter, opts Options) (Result, error) {
	result := Result{Mode: opts.Mode, PerTable: map[model.Table]TableOutcome{}}

	tables := tablesFor(opts)

	if opts.Mode == SchemaOnly {
		for _, t := range tables {
			result.PerTable[t] = TableOutcome{State: Skipped}
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: schema-only rollback requires manual DDL; no rows deleted", t))
		}
		return result, nil
	}

	var snapshotDir string
	if opts.CreateSnapshot {
		snapshotDir = filepath.Join(opts.SnapshotRoot, "pre-rollback-"+timestampForFilename(time.Now()))
		if err := os.MkdirAll(snapshotDir, 0o755); err != nil {
			return result, fmt.Errorf("creating snapshot directory: %w", err)
		}
		result.SnapshotDir = snapshotDir
	}

	for _, table := range tables {
		outcome := TableOutcome{State: Queued}

		if opts.CreateSnapshot {
			outcome.State = Snapshotting
			path, err := snapshotTable(ctx, adapter, table, snapshotDir)
			if err != nil {
				outcome.State = TableFailed
				outcome.Err = err
				result.PerTable[table] = outcome
				if abortsRemainder(err) {
					result.Aborted = true
					return result, nil
				}
				continue
			}
			outcome.SnapshotPath = path
		}

		outcome.State = Deleting
		deleted, err := adapter.DeleteAll(ctx, table)
		outcome.RowsDeleted = deleted
		if err != nil {
			outcome.State = TableFailed
			outcome.Err = err
			result.PerTable[table] = outcome
			if abortsRemainder(err) {
				result.Aborted = true
				return result, nil
			}
			continue
		}

		outcome.State = Verifying
		remaining, err := adapter.Count(ctx, table)
		if err != nil {
			outcome.State = TableFailed
			outcome.Err = err
			result.PerTable[table] = outcome
			if abortsRemainder(err) {
				result.Aborted = true
				return result, nil
			}
			continue
		}
		outcome.RowsRemaining = remaining
		if remaining > 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %d rows remain after delete (partial scope)", table, remaining))
		}
		outcome.State = Done
		result.PerTable[table] = outcome
	}

	return result, nil
}

// abortsRemainder reports whether an error category halts processing of
// every remaining table (§4.3: PermissionDenied or ConnectivityLost).
func abortsRemainder(err error) bool {
	switch err.(type) {
	case *dataplane.PermissionDeniedError, *dataplane.ConnectivityLostError:
		return true
	default:
		return false
	}
}

func tablesFor(opts Options) []model.Table {
	if opts.Mode == Partial && len(opts.Tables) > 0 {
		want := map[model.Table]bool{}
		for _, t := range opts.Tables {
			want[t] = true
		}
		var out []model.Table
		for _, t := range model.ReverseDependencyOrder() {
			if want[t] {
				out = append(out, t)
			}
		}
		return out
	}
	return model.ReverseDependencyOrder()
}

// Snapshot writes every core table (in dependency order) to
// root/pre-rollback-<ts>/<table>.json without deleting anything. The
// Phase Engine uses this during preparation to create the full snapshot
// §4.5 requires before any write touches the target plane.
func Snapshot(ctx context.Context, adapter dataplane.Adapter, root string) (dir string, perTable map[model.Table]string, err error) {
	dir = filepath.Join(root, "pre-rollback-"+timestampForFilename(time.Now()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	perTable = map[model.Table]string{}
	for _, table := range model.DependencyOrder() {
		path, err := snapshotTable(ctx, adapter, table, dir)
		if err != nil {
			return dir, perTable, err
		}
		perTable[table] = path
	}
	return dir, perTable, nil
}

func snapshotTable(ctx context.Context, adapter dataplane.Adapter, table model.Table, dir string) (string, error) {
	path := filepath.Join(dir, string(table)+".json")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating snapshot file for %s: %w", table, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	cursor := ""
	for {
		page, err := adapter.BulkRead(ctx, table, cursor, 1000)
		if err != nil {
			return "", fmt.Errorf("reading %s for snapshot: %w", table, err)
		}
		for _, row := range page.Rows {
			if err := enc.Encode(row); err != nil {
				return "", fmt.Errorf("writing snapshot row for %s: %w", table, err)
			}
		}
		if page.Done {
			break
		}
		cursor = page.NextCursor
	}
	return path, nil
}

// EmergencyRecoverError is returned when EmergencyRecover is invoked
// without explicit caller confirmation (§4.3: "must not be invokable
// without an explicit caller flag").
type EmergencyRecoverError struct{}

func (e *EmergencyRecoverError) Error() string {
	return "emergency recovery requires explicit confirmation"
}

// EmergencyRecover deletes every row of every core table through a
// full-mode Run with no snapshot. It does not disable or re-enable
// constraints; dataplane.Adapter has no operation for that. confirmed must
// be true or the call is refused.
func EmergencyRecover(ctx context.Context, adapter dataplane.Adapter, confirmed bool) (Result, error) {
	if !confirmed {
		return Result{}, &EmergencyRecoverError{}
	}
	return Run(ctx, adapter, Options{Mode: Full, CreateSnapshot: false})
}
