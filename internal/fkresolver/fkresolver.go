// Package fkresolver is the Foreign-Key Resolver: it loads every row of the
// fixed schema into memory, classifies every declared reference against
// the dataset, and applies an orphan-handling policy so the dataset that
// reaches the target plane satisfies every non-nullable foreign key.
package fkresolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/lockplane/rowmigrate/internal/dataplane"
	"github.com/lockplane/rowmigrate/internal/model"
)

// Dataset is the in-memory per-table primary-key index FKR owns
// exclusively until resolution completes (§3 Ownership).
type Dataset struct {
	Tables map[model.Table]map[model.ID]model.Record
}

func newDataset() *Dataset {
	d := &Dataset{Tables: map[model.Table]map[model.ID]model.Record{}}
	for _, t := range model.DependencyOrder() {
		d.Tables[t] = map[model.ID]model.Record{}
	}
	return d
}

// LoadAll drains bulk_read for every table and constructs the per-table
// mapping. A table absent from the backend yields an empty mapping, not an
// error. Any DPA error during load is fatal to resolution (§4.2 Failure model).
func LoadAll(ctx context.Context, adapter dataplane.Adapter) (*Dataset, error) {
	d := newDataset()
	for _, table := range model.DependencyOrder() {
		cursor := ""
		for {
			page, err := adapter.BulkRead(ctx, table, cursor, 1000)
			if err != nil {
				if _, ok := err.(*dataplane.TableNotFoundError); ok {
					break
				}
				return nil, fmt.Errorf("loading %s: %w", table, err)
			}
			for _, r := range page.Rows {
				d.Tables[table][r.ID] = r
			}
			if page.Done {
				break
			}
			cursor = page.NextCursor
		}
	}
	return d, nil
}

// RefState classifies one declared reference on one record against the
// dataset, per §4.2 analyze().
type RefState int

const (
	Resolved RefState = iota
	NullAndAllowed
	NullAndRequired
	Dangling
)

func (s RefState) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case NullAndAllowed:
		return "null_and_allowed"
	case NullAndRequired:
		return "null_and_required"
	case Dangling:
		return "dangling"
	default:
		return "unknown"
	}
}

// RefEntry is one classified reference.
type RefEntry struct {
	Table    model.Table
	RowID    model.ID
	Field    string
	Target   model.Table
	Required bool
	State    RefState
}

func (e RefEntry) String() string {
	return fmt.Sprintf("%s[%s].%s: %s", e.Table, e.RowID, e.Field, e.State)
}

// RelationshipReport is the full classification of every declared
// reference across the dataset.
type RelationshipReport struct {
	Entries []RefEntry
}

// Violations returns the entries that are not clean (Dangling or
// NullAndRequired) in deterministic (dependency, then row id) order.
func (r RelationshipReport) Violations() []RefEntry {
	var out []RefEntry
	for _, e := range r.Entries {
		if e.State == Dangling || e.State == NullAndRequired {
			out = append(out, e)
		}
	}
	return out
}

// Analyze classifies every declared outbound reference of every record in
// dataset order (dependency order), so that child-table analysis sees
// parent placeholders a prior `create` pass may have synthesized.
func Analyze(d *Dataset) RelationshipReport {
	var report RelationshipReport
	for _, table := range model.DependencyOrder() {
		schema, ok := model.SchemaFor(table)
		if !ok || len(schema.References) == 0 {
			continue
		}
		for _, row := range sortedRows(d, table) {
			for _, ref := range schema.References {
				entry := RefEntry{Table: table, RowID: row.ID, Field: ref.Field, Target: ref.Target, Required: ref.Required}
				id, set := row.Ref(ref.Field)
				switch {
				case !set && ref.Required:
					entry.State = NullAndRequired
				case !set && !ref.Required:
					entry.State = NullAndAllowed
				default:
					if _, exists := d.Tables[ref.Target][id]; exists {
						entry.State = Resolved
					} else {
						entry.State = Dangling
					}
				}
				report.Entries = append(report.Entries, entry)
			}
		}
	}
	return report
}

// OrphanPolicy selects how Resolve treats a broken reference (§4.2).
type OrphanPolicy string

const (
	PolicyWarn   OrphanPolicy = "warn"
	PolicyRemove OrphanPolicy = "remove"
	PolicyCreate OrphanPolicy = "create"
)

// placeholderCapableTables is the set §4.2 allows `create` to synthesize
// into; any other target falls back to `warn` behavior for that record.
var placeholderCapableTables = map[model.Table]bool{
	model.Users:     true,
	model.Exercises: true,
	model.Programs:  true,
}

// ResolutionReport summarizes what Resolve did, for the phase's per-phase
// result map and the FKR's own structured report.
type ResolutionReport struct {
	Warnings               []RefEntry
	Removed                map[model.Table][]model.ID
	Synthesized            []model.Record
	UnsupportedPlaceholder []RefEntry
	IterationsRun          int
}

// Resolve applies policy to every offending record in dataset, mutating it
// in place, and returns a ResolvedDataset summary (§4.2 resolve()).
func Resolve(d *Dataset, policy OrphanPolicy) ResolutionReport {
	report := ResolutionReport{Removed: map[model.Table][]model.ID{}}

	switch policy {
	case PolicyWarn:
		for _, e := range Analyze(d).Entries {
			switch e.State {
			case Dangling:
				if e.Required {
					report.Warnings = append(report.Warnings, e)
				} else {
					clearRef(d, e)
				}
			case NullAndRequired:
				report.Warnings = append(report.Warnings, e)
			}
		}
		return report

	case PolicyCreate:
		for _, e := range Analyze(d).Entries {
			if e.State != Dangling {
				continue
			}
			if !e.Required {
				clearRef(d, e)
				continue
			}
			id, _ := d.Tables[e.Table][e.RowID].Ref(e.Field)
			if !placeholderCapableTables[e.Target] {
				report.UnsupportedPlaceholder = append(report.UnsupportedPlaceholder, e)
				report.Warnings = append(report.Warnings, e)
				continue
			}
			synthesizeWithDeps(d, e.Target, id, &report)
		}
		return report

	case PolicyRemove:
		for {
			rel := Analyze(d)
			removedThisPass := false
			for _, e := range rel.Entries {
				switch e.State {
				case NullAndRequired:
					if removeRow(d, e.Table, e.RowID, &report) {
						removedThisPass = true
					}
				case Dangling:
					// A child whose parent this policy removed is itself an
					// orphan, even through a nullable reference.
					parentRemoved := false
					if parentID, set := d.Tables[e.Table][e.RowID].Ref(e.Field); set {
						for _, removedID := range report.Removed[e.Target] {
							if removedID == parentID {
								parentRemoved = true
								break
							}
						}
					}
					if e.Required || parentRemoved {
						if removeRow(d, e.Table, e.RowID, &report) {
							removedThisPass = true
						}
					} else {
						clearRef(d, e)
					}
				}
			}
			report.IterationsRun++
			if !removedThisPass {
				return report
			}
			if report.IterationsRun > len(model.DependencyOrder()) {
				// No cycles exist in the schema (§4.2); this bounds the fixpoint.
				return report
			}
		}
	}
	return report
}

func removeRow(d *Dataset, table model.Table, id model.ID, report *ResolutionReport) bool {
	rows, ok := d.Tables[table]
	if !ok {
		return false
	}
	if _, exists := rows[id]; !exists {
		return false
	}
	delete(rows, id)
	report.Removed[table] = append(report.Removed[table], id)
	return true
}

func clearRef(d *Dataset, e RefEntry) {
	row, ok := d.Tables[e.Table][e.RowID]
	if !ok {
		return
	}
	row.SetRef(e.Field, model.NilID, false)
	d.Tables[e.Table][e.RowID] = row
}

func defaultFieldsFor(table model.Table) map[string]any {
	switch table {
	case model.Users:
		return map[string]any{"_placeholder": true, "email": "placeholder@migration.invalid"}
	case model.Exercises:
		return map[string]any{"_placeholder": true, "name": "placeholder exercise"}
	case model.Programs:
		// user_id is required (model.go); route it to the reserved sentinel
		// user rather than leaving it unset, so the placeholder program
		// never introduces a new NullAndRequired violation of its own.
		return map[string]any{"_placeholder": true, "name": "placeholder program", "user_id": model.NilID}
	default:
		return map[string]any{"_placeholder": true}
	}
}

// synthesizeWithDeps creates a placeholder record at id in target (unless a
// record already occupies that id, which is never overwritten), then
// resolves any required reference the placeholder itself declares by
// ensuring the sentinel row it points at (see defaultFieldsFor) exists too.
// The schema has no cycles (§4.2), so this terminates.
func synthesizeWithDeps(d *Dataset, target model.Table, id model.ID, report *ResolutionReport) model.Record {
	if existing, exists := d.Tables[target][id]; exists {
		return existing
	}
	placeholder := model.Record{ID: id, Table: target, Fields: defaultFieldsFor(target)}
	d.Tables[target][id] = placeholder
	report.Synthesized = append(report.Synthesized, placeholder)

	schema, ok := model.SchemaFor(target)
	if !ok {
		return placeholder
	}
	for _, ref := range schema.References {
		if !ref.Required {
			continue
		}
		refID, set := placeholder.Ref(ref.Field)
		if !set {
			continue
		}
		if !placeholderCapableTables[ref.Target] {
			continue // nothing more this policy can do for an unsupported target
		}
		synthesizeWithDeps(d, ref.Target, refID, report)
	}
	return placeholder
}

// ValidationReport is the second-pass re-check (§4.2 validate()). If
// Resolve ran with `remove` or `create`, a non-empty report indicates
// ResolutionInvariantViolated — a bug in FKR, not a data condition.
type ValidationReport struct {
	Violations []RefEntry
}

func (r ValidationReport) Clean() bool { return len(r.Violations) == 0 }

// Validate re-runs Analyze and returns every entry that still violates a
// non-nullable reference.
func Validate(d *Dataset) ValidationReport {
	return ValidationReport{Violations: Analyze(d).Violations()}
}

// DuplicateKey is a composite-key collision among rows of one table (§3's
// unique composite constraints). Per the duplicate composite-key decision,
// these are reported as warnings and never block a migration by themselves.
type DuplicateKey struct {
	Table model.Table
	Key   string
	IDs   []model.ID
}

func (d DuplicateKey) String() string {
	return fmt.Sprintf("%s: duplicate composite key %q across %d rows", d.Table, d.Key, len(d.IDs))
}

// DetectDuplicateKeys checks the composite-uniqueness constraints §3 names:
// workout_log_exercises(workout_log_id, exercise_id) and workout_logs(user_id,
// program_id, week_index, day_index) where program_id is non-null.
func DetectDuplicateKeys(d *Dataset) []DuplicateKey {
	var dups []DuplicateKey
	dups = append(dups, duplicatesFor(d, model.WorkoutLogExercises,
		func(r model.Record) (string, bool) {
			wl, _ := r.Ref("workout_log_id")
			ex, _ := r.Ref("exercise_id")
			return fmt.Sprintf("%s/%s", wl, ex), true
		})...)
	dups = append(dups, duplicatesFor(d, model.WorkoutLogs,
		func(r model.Record) (string, bool) {
			programID, set := r.Ref("program_id")
			if !set {
				return "", false
			}
			userID, _ := r.Ref("user_id")
			week := fmt.Sprint(r.Fields["week_index"])
			day := fmt.Sprint(r.Fields["day_index"])
			return fmt.Sprintf("%s/%s/%s/%s", userID, programID, week, day), true
		})...)
	return dups
}

func duplicatesFor(d *Dataset, table model.Table, keyOf func(model.Record) (string, bool)) []DuplicateKey {
	seen := map[string][]model.ID{}
	for _, row := range sortedRows(d, table) {
		key, applicable := keyOf(row)
		if !applicable {
			continue
		}
		seen[key] = append(seen[key], row.ID)
	}
	var dups []DuplicateKey
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(seen[k]) > 1 {
			dups = append(dups, DuplicateKey{Table: table, Key: k, IDs: seen[k]})
		}
	}
	return dups
}

func sortedRows(d *Dataset, table model.Table) []model.Record {
	rows := d.Tables[table]
	out := make([]model.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}
