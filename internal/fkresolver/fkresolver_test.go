package fkresolver

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/lockplane/rowmigrate/internal/dataplane/memtable"
	"github.com/lockplane/rowmigrate/internal/model"
)

// scenario 1 from §8: 1 user, 1 program referencing it, 1 workout_log
// referencing both. Expected under `warn`: zero violations.
func TestScenario1CleanDatasetWarnPolicy(t *testing.T) {
	adapter := memtable.New()
	user := uuid.New()
	program := uuid.New()
	adapter.Seed(
		model.Record{ID: user, Table: model.Users, Fields: map[string]any{"email": "a@example.com"}},
		model.Record{ID: program, Table: model.Programs, Fields: map[string]any{"user_id": user.String()}},
		model.Record{ID: uuid.New(), Table: model.WorkoutLogs, Fields: map[string]any{
			"user_id": user.String(), "program_id": program.String(),
		}},
	)
	d, err := LoadAll(context.Background(), adapter)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	report := Resolve(d, PolicyWarn)
	if len(report.Warnings) != 0 {
		t.Fatalf("expected zero violations, got %v", report.Warnings)
	}
	if !Validate(d).Clean() {
		t.Fatal("expected validate() to find zero violations")
	}
}

// scenario 2 from §8: program's user_id dangles. `remove` policy removes
// the program and transitively empties workout_logs.
func TestScenario2RemovePolicyCascades(t *testing.T) {
	adapter := memtable.New()
	user := uuid.New()
	program := uuid.New()
	adapter.Seed(
		model.Record{ID: user, Table: model.Users, Fields: map[string]any{"email": "a@example.com"}},
		model.Record{ID: program, Table: model.Programs, Fields: map[string]any{"user_id": uuid.New().String()}},
		model.Record{ID: uuid.New(), Table: model.WorkoutLogs, Fields: map[string]any{
			"user_id": user.String(), "program_id": program.String(),
		}},
	)
	d, err := LoadAll(context.Background(), adapter)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	report := Resolve(d, PolicyRemove)
	if len(d.Tables[model.Users]) != 1 {
		t.Fatalf("expected the user to survive, got %d", len(d.Tables[model.Users]))
	}
	if len(d.Tables[model.Programs]) != 0 {
		t.Fatalf("expected programs empty, got %d", len(d.Tables[model.Programs]))
	}
	if len(d.Tables[model.WorkoutLogs]) != 0 {
		t.Fatalf("expected workout_logs transitively emptied, got %d", len(d.Tables[model.WorkoutLogs]))
	}
	if len(report.Removed[model.Programs]) != 1 || len(report.Removed[model.WorkoutLogs]) != 1 {
		t.Fatalf("expected one removal recorded per table, got %+v", report.Removed)
	}
	if !Validate(d).Clean() {
		t.Fatal("remove policy must leave zero violations")
	}
}

// scenario 3 from §8: same broken reference, `create` policy synthesizes a
// placeholder user and keeps both dependents.
func TestScenario3CreatePolicySynthesizesPlaceholder(t *testing.T) {
	adapter := memtable.New()
	user := uuid.New()
	program := uuid.New()
	missingUser := uuid.New()
	adapter.Seed(
		model.Record{ID: user, Table: model.Users, Fields: map[string]any{"email": "a@example.com"}},
		model.Record{ID: program, Table: model.Programs, Fields: map[string]any{"user_id": missingUser.String()}},
		model.Record{ID: uuid.New(), Table: model.WorkoutLogs, Fields: map[string]any{
			"user_id": user.String(), "program_id": program.String(),
		}},
	)
	d, err := LoadAll(context.Background(), adapter)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	report := Resolve(d, PolicyCreate)
	if len(report.Synthesized) != 1 {
		t.Fatalf("expected one synthesized placeholder, got %d", len(report.Synthesized))
	}
	if _, ok := d.Tables[model.Users][missingUser]; !ok {
		t.Fatal("expected placeholder user to be written under the missing id")
	}
	if _, ok := d.Tables[model.Users][user]; !ok {
		t.Fatal("real user must not be overwritten")
	}
	if len(d.Tables[model.Programs]) != 1 || len(d.Tables[model.WorkoutLogs]) != 1 {
		t.Fatal("both dependents must survive under the create policy")
	}
	if !Validate(d).Clean() {
		t.Fatal("create policy must leave zero violations")
	}
}

// Applying `create` to an already-consistent dataset produces no phantom
// placeholders (idempotence property, §8).
func TestCreatePolicyIsNoopOnCleanDataset(t *testing.T) {
	adapter := memtable.New()
	user := uuid.New()
	adapter.Seed(model.Record{ID: user, Table: model.Users, Fields: map[string]any{"email": "a@example.com"}})
	d, err := LoadAll(context.Background(), adapter)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	report := Resolve(d, PolicyCreate)
	if len(report.Synthesized) != 0 {
		t.Fatalf("expected no synthesized rows, got %v", report.Synthesized)
	}
}

// `create` against a table outside {users, exercises, programs} falls back
// to `warn` behavior and reports UnsupportedPlaceholder (§4.2).
func TestCreatePolicyUnsupportedTableFallsBackToWarn(t *testing.T) {
	adapter := memtable.New()
	workout := uuid.New()
	exercise := uuid.New()
	missingWorkout := uuid.New()
	adapter.Seed(
		model.Record{ID: exercise, Table: model.Exercises, Fields: map[string]any{"name": "squat"}},
		model.Record{ID: uuid.New(), Table: model.ProgramExercises, Fields: map[string]any{
			"workout_id": missingWorkout.String(), "exercise_id": exercise.String(),
		}},
	)
	_ = workout
	d, err := LoadAll(context.Background(), adapter)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	report := Resolve(d, PolicyCreate)
	if len(report.UnsupportedPlaceholder) != 1 {
		t.Fatalf("expected one UnsupportedPlaceholder entry, got %d", len(report.UnsupportedPlaceholder))
	}
	if len(d.Tables[model.ProgramExercises]) != 1 {
		t.Fatal("warn fallback keeps the offending record")
	}
}

// A table whose every row has a broken required FK under `remove` ends
// empty, with all transitively-dependent children empty (§8 boundary).
func TestRemovePolicyEmptiesEntireBrokenTable(t *testing.T) {
	adapter := memtable.New()
	for i := 0; i < 3; i++ {
		adapter.Seed(model.Record{
			ID: uuid.New(), Table: model.ProgramWorkouts,
			Fields: map[string]any{"program_id": uuid.New().String()},
		})
	}
	d, err := LoadAll(context.Background(), adapter)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	Resolve(d, PolicyRemove)
	if len(d.Tables[model.ProgramWorkouts]) != 0 {
		t.Fatalf("expected the table fully emptied, got %d remaining", len(d.Tables[model.ProgramWorkouts]))
	}
}

// Empty source tables: resolution succeeds with no placeholder synthesis.
func TestEmptyDatasetNoSynthesis(t *testing.T) {
	adapter := memtable.New()
	d, err := LoadAll(context.Background(), adapter)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	report := Resolve(d, PolicyCreate)
	if len(report.Synthesized) != 0 {
		t.Fatalf("expected no synthesis on an empty dataset, got %v", report.Synthesized)
	}
	if !Validate(d).Clean() {
		t.Fatal("empty dataset must validate clean")
	}
}

func TestDetectDuplicateKeysReportsCollisionsAsWarnings(t *testing.T) {
	adapter := memtable.New()
	workoutLog := uuid.New()
	exercise := uuid.New()
	adapter.Seed(
		model.Record{ID: uuid.New(), Table: model.WorkoutLogExercises, Fields: map[string]any{
			"workout_log_id": workoutLog.String(), "exercise_id": exercise.String(),
		}},
		model.Record{ID: uuid.New(), Table: model.WorkoutLogExercises, Fields: map[string]any{
			"workout_log_id": workoutLog.String(), "exercise_id": exercise.String(),
		}},
	)
	d, err := LoadAll(context.Background(), adapter)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	dups := DetectDuplicateKeys(d)
	if len(dups) != 1 {
		t.Fatalf("expected one duplicate key group, got %d: %v", len(dups), dups)
	}
	if len(dups[0].IDs) != 2 {
		t.Fatalf("expected two colliding rows, got %d", len(dups[0].IDs))
	}
	// Resolve never runs for duplicate keys; the dataset is untouched.
	if len(d.Tables[model.WorkoutLogExercises]) != 2 {
		t.Fatal("duplicate detection must not mutate the dataset")
	}
}
