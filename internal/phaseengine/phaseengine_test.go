package phaseengine

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lockplane/rowmigrate/internal/dataplane"
	"github.com/lockplane/rowmigrate/internal/dataplane/memtable"
	"github.com/lockplane/rowmigrate/internal/fkresolver"
	"github.com/lockplane/rowmigrate/internal/migrationerrors"
	"github.com/lockplane/rowmigrate/internal/model"
	"github.com/lockplane/rowmigrate/internal/monitor"
	"github.com/lockplane/rowmigrate/internal/rollback"
	"github.com/lockplane/rowmigrate/internal/statetracker"
	"github.com/lockplane/rowmigrate/internal/trafficrouter"
)

func baseConfig() Config {
	return Config{
		Strategy:             BlueGreen,
		TrafficSwitchingMode: Immediate,
		ProgressiveSteps:     []int{100},
		StepObservationMs:    10,
		RecoveryWindowMs:     10,
		OrphanPolicy:         fkresolver.PolicyWarn,
		RollbackMode:         rollback.Full,
		AutoRollbackThresholds: monitor.Thresholds{
			ErrorRatePercent:   5,
			ResponseTimeMs:     5000,
			ConsistencyPercent: 95,
		},
	}
}

func newEngine(t *testing.T, cfg Config) (*Engine, *memtable.Adapter, *memtable.Adapter) {
	t.Helper()
	src := memtable.New()
	dst := memtable.New()
	tr, _, err := statetracker.Open(filepath.Join(t.TempDir(), "status.json"))
	if err != nil {
		t.Fatalf("statetracker.Open: %v", err)
	}
	return &Engine{
		Source:  src,
		Target:  dst,
		Tracker: tr,
		Router:  trafficrouter.NewInMemory(),
		Config:  cfg,
	}, src, dst
}

func TestConfigValidateRejectsBadProgressiveSteps(t *testing.T) {
	cfg := baseConfig()
	cfg.TrafficSwitchingMode = Progressive
	cfg.ProgressiveSteps = []int{50, 10, 100}
	var invalid *migrationerrors.InvalidConfigurationError
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for non-increasing steps")
	} else if !asInvalidConfig(err, &invalid) {
		t.Fatalf("expected InvalidConfigurationError, got %T", err)
	}
}

func asInvalidConfig(err error, target **migrationerrors.InvalidConfigurationError) bool {
	e, ok := err.(*migrationerrors.InvalidConfigurationError)
	if ok {
		*target = e
	}
	return ok
}

func TestEndToEndHappyPathImmediateSwitch(t *testing.T) {
	cfg := baseConfig()
	engine, src, _ := newEngine(t, cfg)

	user := uuid.New()
	program := uuid.New()
	src.Seed(
		model.Record{ID: user, Table: model.Users, Fields: map[string]any{"email": "a@example.com"}},
		model.Record{ID: program, Table: model.Programs, Fields: map[string]any{"user_id": user.String()}},
		model.Record{ID: uuid.New(), Table: model.WorkoutLogs, Fields: map[string]any{
			"user_id": user.String(), "program_id": program.String(),
		}},
	)

	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	status := engine.Tracker.Status()
	if status.Overall != statetracker.OverallCompleted {
		t.Fatalf("expected completed, got %s", status.Overall)
	}
	if status.CurrentTrafficPct != 100 {
		t.Fatalf("expected traffic at 100%%, got %d", status.CurrentTrafficPct)
	}
}

// Scenario 6 from §8: DPA returns PermissionDenied on the third table in
// dependency order during initial migration. No traffic is ever switched.
func TestScenario6PermissionDeniedDuringInitialMigration(t *testing.T) {
	cfg := baseConfig()
	engine, src, dst := newEngine(t, cfg)

	user := uuid.New()
	src.Seed(model.Record{ID: user, Table: model.Users, Fields: map[string]any{"email": "a@example.com"}})

	failing := &thirdTableFailsAdapter{Adapter: dst, failOn: model.DependencyOrder()[2]}
	engine.Target = failing

	err := engine.Run(context.Background())
	if err == nil {
		t.Fatal("expected Run to fail")
	}
	status := engine.Tracker.Status()
	if status.Phases[statetracker.InitialMigration].Status != statetracker.Failed {
		t.Fatalf("expected initial_migration failed, got %s", status.Phases[statetracker.InitialMigration].Status)
	}
	if status.Phases[statetracker.TrafficSwitching].Status != statetracker.NotStarted {
		t.Fatal("traffic_switching must never start after initial_migration fails")
	}
	if status.CurrentTrafficPct != 0 {
		t.Fatal("no traffic should ever be switched")
	}
}

// Scenario 4 from §8: progressive schedule [10, 25, 50, 75, 100]; monitor
// reports error_rate = 7% (threshold 5%) at step 2. The loop aborts before
// step 3, emergency rollback sets traffic to 0, and target tables empty.
func TestScenario4ProgressiveSwitchAbortsAndRollsBack(t *testing.T) {
	cfg := baseConfig()
	cfg.TrafficSwitchingMode = Progressive
	cfg.ProgressiveSteps = []int{10, 25, 50, 75, 100}
	cfg.StepObservationMs = 30
	cfg.AutoRollbackThresholds.ErrorRatePercent = 5
	engine, src, dst := newEngine(t, cfg)

	user := uuid.New()
	src.Seed(model.Record{ID: user, Table: model.Users, Fields: map[string]any{"email": "a@example.com"}})
	dst.Seed(model.Record{ID: user, Table: model.Users, Fields: map[string]any{"email": "a@example.com"}})

	sampler := monitor.SamplerFunc(func(context.Context) (monitor.Sample, error) {
		if engine.Tracker.Status().CurrentTrafficPct >= 25 {
			return monitor.Sample{ErrorRatePercent: 7, DataConsistencyPercent: 100}, nil
		}
		return monitor.Sample{ErrorRatePercent: 0, DataConsistencyPercent: 100}, nil
	})
	engine.Monitor = monitor.New(sampler, 2*time.Millisecond)

	err := engine.Run(context.Background())
	if err == nil {
		t.Fatal("expected Run to fail after the monitor reports unhealthy")
	}
	status := engine.Tracker.Status()
	if status.Overall != statetracker.OverallRolledBack {
		t.Fatalf("expected rolled_back, got %s", status.Overall)
	}
	if status.CurrentTrafficPct != 0 {
		t.Fatalf("expected traffic reset to 0 after emergency rollback, got %d", status.CurrentTrafficPct)
	}
	n, _ := dst.Count(context.Background(), model.Users)
	if n != 0 {
		t.Fatalf("expected target emptied by emergency rollback, got %d rows", n)
	}
	router := engine.Router.(*trafficrouter.InMemory)
	if want := []int{10, 25, 0}; !reflect.DeepEqual(router.History, want) {
		t.Fatalf("expected traffic steps %v (abort at step 2, then reset to 0), got %v", want, router.History)
	}
}

// thirdTableFailsAdapter wraps a dataplane.Adapter and returns
// PermissionDenied for one specific table's BulkWrite, to drive §8 scenario 6.
type thirdTableFailsAdapter struct {
	*memtable.Adapter
	failOn model.Table
}

func (a *thirdTableFailsAdapter) BulkWrite(ctx context.Context, table model.Table, rows []model.Record) (dataplane.WriteOutcome, error) {
	if table == a.failOn {
		return dataplane.WriteOutcome{}, &dataplane.PermissionDeniedError{Table: table}
	}
	return a.Adapter.BulkWrite(ctx, table, rows)
}
