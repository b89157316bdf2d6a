// Package model describes the fixed relational schema the migration control
// plane moves between backends: eight entities, their primary keys, and the
// foreign-key graph that determines load order and rollback order.
package model

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is the opaque 16-byte identifier used as the primary key of every
// table. Identifiers are preserved across migration, never regenerated.
type ID = uuid.UUID

// NilID is the sentinel all-zero identifier. Delete-all operations must
// never remove a row whose primary key is NilID; it marks a reserved
// placeholder slot.
var NilID = uuid.Nil

// ParseID parses a string-form identifier, matching the zero-value
// convention callers rely on for "no reference" fields.
func ParseID(s string) (ID, error) {
	if s == "" {
		return NilID, nil
	}
	return uuid.Parse(s)
}

// Table names the eight core entities.
type Table string

const (
	Users               Table = "users"
	Exercises           Table = "exercises"
	Programs            Table = "programs"
	ProgramWorkouts     Table = "program_workouts"
	ProgramExercises    Table = "program_exercises"
	WorkoutLogs         Table = "workout_logs"
	WorkoutLogExercises Table = "workout_log_exercises"
	UserAnalytics       Table = "user_analytics"
)

// Reference describes one outbound foreign key declared by a table.
type Reference struct {
	Field    string // field name within Record.Fields holding the referenced ID
	Target   Table
	Required bool
}

// TableSchema is the static description of one table's outbound references.
type TableSchema struct {
	Name       Table
	References []Reference
}

// Schema is the fixed relational schema in dependency order (parents before
// children). This order is also the load order; rollback order is its
// reverse.
var Schema = []TableSchema{
	{Name: Users},
	{Name: Exercises, References: []Reference{
		{Field: "created_by", Target: Users, Required: false},
	}},
	{Name: Programs, References: []Reference{
		{Field: "user_id", Target: Users, Required: true},
	}},
	{Name: ProgramWorkouts, References: []Reference{
		{Field: "program_id", Target: Programs, Required: true},
	}},
	{Name: ProgramExercises, References: []Reference{
		{Field: "workout_id", Target: ProgramWorkouts, Required: true},
		{Field: "exercise_id", Target: Exercises, Required: true},
	}},
	{Name: WorkoutLogs, References: []Reference{
		{Field: "user_id", Target: Users, Required: true},
		{Field: "program_id", Target: Programs, Required: false},
	}},
	{Name: WorkoutLogExercises, References: []Reference{
		{Field: "workout_log_id", Target: WorkoutLogs, Required: true},
		{Field: "exercise_id", Target: Exercises, Required: true},
	}},
	{Name: UserAnalytics, References: []Reference{
		{Field: "user_id", Target: Users, Required: true},
		{Field: "exercise_id", Target: Exercises, Required: true},
	}},
}

// DependencyOrder returns the table names in load order.
func DependencyOrder() []Table {
	order := make([]Table, len(Schema))
	for i, t := range Schema {
		order[i] = t.Name
	}
	return order
}

// ReverseDependencyOrder returns the table names in rollback order.
func ReverseDependencyOrder() []Table {
	order := DependencyOrder()
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// SchemaFor looks up the static description of a table.
func SchemaFor(t Table) (TableSchema, bool) {
	for _, s := range Schema {
		if s.Name == t {
			return s, true
		}
	}
	return TableSchema{}, false
}

// Record is one row. Fields carries every column besides ID as loosely
// typed values; foreign-key fields hold an ID, its string form, or nil
// (unset/null).
type Record struct {
	ID     ID
	Table  Table
	Fields map[string]any
}

// Clone returns a deep-enough copy safe for independent mutation by FKR.
func (r Record) Clone() Record {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Record{ID: r.ID, Table: r.Table, Fields: fields}
}

// Ref reads a foreign-key field as an ID. The second return is false when
// the field is absent or explicitly null.
func (r Record) Ref(field string) (ID, bool) {
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return NilID, false
	}
	switch id := v.(type) {
	case ID:
		return id, true
	case string:
		parsed, err := uuid.Parse(id)
		if err != nil {
			return NilID, false
		}
		return parsed, true
	default:
		return NilID, false
	}
}

// SetRef mutates a foreign-key field in place, or clears it to null.
func (r *Record) SetRef(field string, id ID, set bool) {
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	if !set {
		r.Fields[field] = nil
		return
	}
	r.Fields[field] = id
}

// String implements fmt.Stringer for log lines.
func (r Record) String() string {
	return fmt.Sprintf("%s[%s]", r.Table, r.ID)
}
