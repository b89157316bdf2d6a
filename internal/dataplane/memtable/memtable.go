// Package memtable is an in-memory dataplane.Adapter used by tests and as
// the backend for the "memory" backend kind. It implements exactly the contract in
// internal/dataplane so FKR, RBM, and PE are exercised without a database.
package memtable

import (
	"context"
	"sort"

	"github.com/lockplane/rowmigrate/internal/dataplane"
	"github.com/lockplane/rowmigrate/internal/model"
)

// Adapter is a concurrency-unsafe, single-owner in-memory backend. BulkRead
// sorts rows by ID string so its pages are stably ordered.
type Adapter struct {
	tables map[model.Table]map[model.ID]model.Record
}

// New creates an empty adapter with the eight core tables pre-declared so
// Exists/Count never returns TableNotFound for a schema table.
func New() *Adapter {
	a := &Adapter{tables: map[model.Table]map[model.ID]model.Record{}}
	for _, t := range model.DependencyOrder() {
		a.tables[t] = map[model.ID]model.Record{}
	}
	return a
}

// Seed inserts rows directly, bypassing BulkWrite idempotence bookkeeping —
// used by tests to set up fixtures.
func (a *Adapter) Seed(rows ...model.Record) {
	for _, r := range rows {
		a.tables[r.Table][r.ID] = r
	}
}

func (a *Adapter) sortedIDs(table model.Table) []model.ID {
	rows := a.tables[table]
	ids := make([]model.ID, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func (a *Adapter) BulkRead(_ context.Context, table model.Table, cursor string, batchSize int) (dataplane.Page, error) {
	rows, ok := a.tables[table]
	if !ok {
		return dataplane.Page{}, &dataplane.TableNotFoundError{Table: table}
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	ids := a.sortedIDs(table)

	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id.String() > cursor {
				start = i
				break
			}
			start = i + 1
		}
	}

	end := start + batchSize
	if end > len(ids) {
		end = len(ids)
	}

	page := dataplane.Page{}
	for _, id := range ids[start:end] {
		page.Rows = append(page.Rows, rows[id].Clone())
	}
	if end >= len(ids) {
		page.Done = true
	} else {
		page.NextCursor = ids[end-1].String()
	}
	return page, nil
}

func (a *Adapter) BulkWrite(_ context.Context, table model.Table, rows []model.Record) (dataplane.WriteOutcome, error) {
	dest, ok := a.tables[table]
	if !ok {
		return dataplane.WriteOutcome{}, &dataplane.TableNotFoundError{Table: table}
	}
	for _, r := range rows {
		dest[r.ID] = r.Clone()
	}
	return dataplane.WriteOutcome{Written: len(rows)}, nil
}

func (a *Adapter) DeleteAll(_ context.Context, table model.Table) (int, error) {
	dest, ok := a.tables[table]
	if !ok {
		return 0, &dataplane.TableNotFoundError{Table: table}
	}
	deleted := 0
	for id := range dest {
		if id == model.NilID {
			continue
		}
		delete(dest, id)
		deleted++
	}
	return deleted, nil
}

func (a *Adapter) Count(_ context.Context, table model.Table) (int, error) {
	dest, ok := a.tables[table]
	if !ok {
		return 0, &dataplane.TableNotFoundError{Table: table}
	}
	return len(dest), nil
}

func (a *Adapter) Lookup(_ context.Context, table model.Table, id model.ID) (*model.Record, bool, error) {
	dest, ok := a.tables[table]
	if !ok {
		return nil, false, &dataplane.TableNotFoundError{Table: table}
	}
	r, ok := dest[id]
	if !ok {
		return nil, false, nil
	}
	clone := r.Clone()
	return &clone, true, nil
}

func (a *Adapter) Exists(_ context.Context, table model.Table) (bool, error) {
	_, ok := a.tables[table]
	return ok, nil
}

var _ dataplane.Adapter = (*Adapter)(nil)
