// Package phaseengine is the Phase Engine: the top-level orchestrator that
// sequences the seven migration phases, starts and stops the monitor,
// invokes FKR and the Data Plane Adapters for bulk load, drives traffic
// switching, and consults the monitor to trigger automatic rollback.
package phaseengine

import (
	"context"
	"fmt"
	"time"

	"github.com/lockplane/rowmigrate/internal/dataplane"
	"github.com/lockplane/rowmigrate/internal/fkresolver"
	"github.com/lockplane/rowmigrate/internal/migrationerrors"
	"github.com/lockplane/rowmigrate/internal/model"
	"github.com/lockplane/rowmigrate/internal/monitor"
	"github.com/lockplane/rowmigrate/internal/reportio"
	"github.com/lockplane/rowmigrate/internal/rollback"
	"github.com/lockplane/rowmigrate/internal/statetracker"
	"github.com/lockplane/rowmigrate/internal/trafficrouter"
)

// Strategy is the deployment strategy configuration key (§6).
type Strategy string

const (
	BlueGreen         Strategy = "blue-green"
	Rolling           Strategy = "rolling"
	MaintenanceWindow Strategy = "maintenance-window"
)

// SwitchingMode selects immediate or progressive traffic switching (§4.5, §6).
type SwitchingMode string

const (
	Immediate   SwitchingMode = "immediate"
	Progressive SwitchingMode = "progressive"
)

// Config is every externally configurable value named in §6.
type Config struct {
	Strategy                   Strategy
	TrafficSwitchingMode       SwitchingMode
	ProgressiveSteps           []int
	DowntimeWindowMs           int
	AutoRollbackThresholds     monitor.Thresholds
	OrphanPolicy               fkresolver.OrphanPolicy
	EnableIncrementalSync      bool
	SyncIntervalMs             int
	StepObservationMs          int
	RecoveryWindowMs           int
	RollbackMode               rollback.Mode
	CreateBackupBeforeRollback bool
	ConfirmRollback            bool
}

// Validate rejects a configuration the engine cannot safely execute,
// mapped by the CLI to exit code 3 (§6).
func (c Config) Validate() error {
	if c.TrafficSwitchingMode != Immediate && c.TrafficSwitchingMode != Progressive {
		return &migrationerrors.InvalidConfigurationError{Detail: fmt.Sprintf("unknown traffic_switching mode %q", c.TrafficSwitchingMode)}
	}
	if c.TrafficSwitchingMode == Progressive {
		if len(c.ProgressiveSteps) == 0 {
			return &migrationerrors.InvalidConfigurationError{Detail: "progressive_steps must be non-empty"}
		}
		last := 0
		for _, step := range c.ProgressiveSteps {
			if step <= last {
				return &migrationerrors.InvalidConfigurationError{Detail: "progressive_steps must be strictly increasing"}
			}
			last = step
		}
		if c.ProgressiveSteps[len(c.ProgressiveSteps)-1] != 100 {
			return &migrationerrors.InvalidConfigurationError{Detail: "progressive_steps must end at 100"}
		}
	}
	switch c.OrphanPolicy {
	case fkresolver.PolicyWarn, fkresolver.PolicyRemove, fkresolver.PolicyCreate:
	default:
		return &migrationerrors.InvalidConfigurationError{Detail: fmt.Sprintf("unknown orphan_policy %q", c.OrphanPolicy)}
	}
	switch c.RollbackMode {
	case rollback.Full, rollback.Partial, rollback.DataOnly, rollback.SchemaOnly:
	default:
		return &migrationerrors.InvalidConfigurationError{Detail: fmt.Sprintf("unknown rollback_mode %q", c.RollbackMode)}
	}
	if c.EnableIncrementalSync && c.SyncIntervalMs <= 0 {
		return &migrationerrors.InvalidConfigurationError{Detail: "sync_interval_ms must be positive when incremental sync is enabled"}
	}
	if c.StepObservationMs <= 0 {
		return &migrationerrors.InvalidConfigurationError{Detail: "step_observation_ms must be positive"}
	}
	if c.RecoveryWindowMs <= 0 {
		return &migrationerrors.InvalidConfigurationError{Detail: "recovery_window_ms must be positive"}
	}
	return nil
}

// Engine wires construction-time-injected collaborators into one run
// (§9: no globally mutable client handles).
type Engine struct {
	Source     dataplane.Adapter
	Target     dataplane.Adapter
	Tracker    *statetracker.Tracker
	Router     trafficrouter.Router
	Monitor    *monitor.Monitor
	Config     Config
	WorkingDir string
}

// trafficMoved is set once any traffic_switching step has taken effect, so
// a later cancellation or failure knows whether emergency rollback must run.
type runState struct {
	trafficMoved bool
}

// Run executes phases strictly in order. A failure in any phase except
// cleanup aborts subsequent phases (§4.5).
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Config.Validate(); err != nil {
		return err
	}

	state := &runState{}

	if err := e.runPhase(ctx, statetracker.Preparation, func(ctx context.Context) (map[string]any, error) {
		return e.runPreparation(ctx)
	}); err != nil {
		return e.handlePhaseFailure(ctx, state, err)
	}

	if err := e.runPhase(ctx, statetracker.InitialMigration, func(ctx context.Context) (map[string]any, error) {
		return e.runInitialMigration(ctx)
	}); err != nil {
		return e.handlePhaseFailure(ctx, state, err)
	}

	if e.Config.EnableIncrementalSync {
		if err := e.runPhase(ctx, statetracker.IncrementalSync, func(ctx context.Context) (map[string]any, error) {
			return e.runIncrementalSync(ctx)
		}); err != nil {
			return e.handlePhaseFailure(ctx, state, err)
		}
	} else {
		// Not enabled: recorded as completed with an explanatory result
		// rather than left not_started, so MST's record is unambiguous.
		if err := e.Tracker.Start(statetracker.IncrementalSync); err != nil {
			return err
		}
		if err := e.Tracker.Complete(statetracker.IncrementalSync, map[string]any{"skipped": true}); err != nil {
			return err
		}
		e.writePhaseReport(statetracker.IncrementalSync)
	}

	if err := e.runPhase(ctx, statetracker.DeploymentPrep, func(ctx context.Context) (map[string]any, error) {
		return e.runDeploymentPrep(ctx)
	}); err != nil {
		return e.handlePhaseFailure(ctx, state, err)
	}

	if err := e.runPhase(ctx, statetracker.TrafficSwitching, func(ctx context.Context) (map[string]any, error) {
		return e.runTrafficSwitching(ctx, state)
	}); err != nil {
		return e.handlePhaseFailure(ctx, state, err)
	}

	if err := e.runPhase(ctx, statetracker.Verification, func(ctx context.Context) (map[string]any, error) {
		return e.runVerification(ctx)
	}); err != nil {
		return e.handlePhaseFailure(ctx, state, err)
	}

	// Cleanup failures are reported as warnings and never mark the
	// migration failed (§4.5, §7).
	if err := e.Tracker.Start(statetracker.Cleanup); err != nil {
		return err
	}
	result, err := e.runCleanup(ctx)
	if err != nil {
		_ = e.Tracker.Warn(statetracker.Cleanup, err.Error())
		if cerr := e.Tracker.Complete(statetracker.Cleanup, result); cerr != nil {
			return cerr
		}
	} else if err := e.Tracker.Complete(statetracker.Cleanup, result); err != nil {
		return err
	}

	e.writeFinalArtifacts(ctx)
	return nil
}

// runPhase is the linear phase loop (§9): start, run, complete or fail,
// write the phase's structured report.
func (e *Engine) runPhase(ctx context.Context, phase statetracker.Phase, fn func(context.Context) (map[string]any, error)) error {
	if err := e.Tracker.Start(phase); err != nil {
		return err
	}
	result, err := fn(ctx)
	if err != nil {
		if ferr := e.Tracker.Fail(phase, err); ferr != nil {
			return ferr
		}
		e.writePhaseReport(phase)
		return err
	}
	if err := e.Tracker.Complete(phase, result); err != nil {
		return err
	}
	e.writePhaseReport(phase)
	return nil
}

func (e *Engine) writePhaseReport(phase statetracker.Phase) {
	if e.WorkingDir == "" {
		return
	}
	rec := e.Tracker.Phase(phase)
	_, _ = reportio.WritePhaseReport(e.WorkingDir, phase, rec, time.Now())
}

func (e *Engine) writeFinalArtifacts(ctx context.Context) {
	if e.WorkingDir == "" {
		return
	}
	_, _ = reportio.WriteFinalSummary(e.WorkingDir, e.Tracker.Status())
}

// handlePhaseFailure implements cancellation's interaction with rollback
// (§5): if traffic was partially moved, emergency rollback runs before
// returning control, regardless of whether the failure was a cancellation
// or an ordinary phase error.
func (e *Engine) handlePhaseFailure(ctx context.Context, state *runState, cause error) error {
	e.writeFinalArtifacts(ctx)
	if !state.trafficMoved {
		return cause
	}
	if err := e.emergencyRollback(ctx); err != nil {
		_ = e.Tracker.MarkFailedUnrecoverable()
		return &migrationerrors.CompoundFailureError{MigrationErr: cause, RollbackErr: err}
	}
	e.writeFinalArtifacts(ctx)
	return cause
}

func (e *Engine) emergencyRollback(ctx context.Context) error {
	if err := e.Router.SetTrafficPercentage(ctx, 0); err != nil {
		return err
	}
	_ = e.Tracker.SetTrafficPercentage(0)
	result, err := rollback.Run(ctx, e.Target, rollback.Options{Mode: rollback.Full})
	if err != nil {
		return err
	}
	for _, outcome := range result.PerTable {
		if outcome.State == rollback.TableFailed {
			return outcome.Err
		}
	}
	return e.Tracker.MarkRolledBack()
}

// runPreparation validates target reachability, snapshots the target
// plane, and arms the monitor (§4.5 Preparation).
func (e *Engine) runPreparation(ctx context.Context) (map[string]any, error) {
	for _, table := range model.DependencyOrder() {
		if _, err := e.Target.Exists(ctx, table); err != nil {
			return nil, fmt.Errorf("validating target reachability for %s: %w", table, err)
		}
	}

	var snapshotDir string
	if e.WorkingDir != "" {
		dir, _, err := rollback.Snapshot(ctx, e.Target, e.WorkingDir)
		if err != nil {
			return nil, fmt.Errorf("pre-migration snapshot: %w", err)
		}
		snapshotDir = dir
	}

	if e.Monitor != nil {
		e.Monitor.Start(ctx)
	}

	return map[string]any{"snapshot_dir": snapshotDir}, nil
}

// runInitialMigration invokes FKR end-to-end and writes the resolved
// dataset in dependency order (§4.5 Initial migration).
func (e *Engine) runInitialMigration(ctx context.Context) (map[string]any, error) {
	dataset, err := fkresolver.LoadAll(ctx, e.Source)
	if err != nil {
		return nil, fmt.Errorf("loading source dataset: %w", err)
	}

	resolution := fkresolver.Resolve(dataset, e.Config.OrphanPolicy)

	if e.Config.OrphanPolicy != fkresolver.PolicyWarn {
		if v := fkresolver.Validate(dataset); !v.Clean() {
			return nil, &migrationerrors.ResolutionInvariantViolatedError{
				Detail: fmt.Sprintf("%d reference(s) still unresolved after %s", len(v.Violations), e.Config.OrphanPolicy),
			}
		}
	}

	for _, dup := range fkresolver.DetectDuplicateKeys(dataset) {
		_ = e.Tracker.Warn(statetracker.InitialMigration, dup.String())
	}

	written := map[model.Table]int{}
	for _, table := range model.DependencyOrder() {
		rows := make([]model.Record, 0, len(dataset.Tables[table]))
		for _, r := range dataset.Tables[table] {
			rows = append(rows, r)
		}
		outcome, err := e.Target.BulkWrite(ctx, table, rows)
		if err != nil {
			return nil, fmt.Errorf("writing %s: %w", table, err)
		}
		if outcome.Written != len(rows) {
			return nil, fmt.Errorf("short write on %s: wrote %d of %d rows", table, outcome.Written, len(rows))
		}
		written[table] = outcome.Written

		count, err := e.Target.Count(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("verifying row count for %s: %w", table, err)
		}
		if len(rows) > 0 && count != len(rows) {
			return nil, fmt.Errorf("row count mismatch on %s: target has %d, expected %d", table, count, len(rows))
		}
	}

	result := map[string]any{
		"rows_written":             written,
		"warnings":                 len(resolution.Warnings),
		"removed":                  resolution.Removed,
		"synthesized_placeholders": len(resolution.Synthesized),
	}
	return result, nil
}

// runIncrementalSync computes the source/target row-count lag once and
// records it as the phase result. It does not pull or reapply changes from
// the source, keeps no watermark, and does not repeat on sync_interval_ms;
// enable_incremental_sync only controls whether this phase runs at all.
func (e *Engine) runIncrementalSync(ctx context.Context) (map[string]any, error) {
	lag, err := e.computeLag(ctx)
	if err != nil {
		return nil, fmt.Errorf("computing sync lag: %w", err)
	}
	return map[string]any{"lag_rows": lag}, nil
}

func (e *Engine) computeLag(ctx context.Context) (int, error) {
	lag := 0
	for _, table := range model.DependencyOrder() {
		src, err := e.Source.Count(ctx, table)
		if err != nil {
			return 0, err
		}
		dst, err := e.Target.Count(ctx, table)
		if err != nil {
			return 0, err
		}
		if diff := src - dst; diff > 0 {
			lag += diff
		}
	}
	return lag, nil
}

// runDeploymentPrep runs warm-up checks against the target plane without
// accepting live traffic (§4.5 Deployment prep).
func (e *Engine) runDeploymentPrep(ctx context.Context) (map[string]any, error) {
	for _, table := range model.DependencyOrder() {
		if _, err := e.Target.Exists(ctx, table); err != nil {
			return nil, fmt.Errorf("warm-up check failed for %s: %w", table, err)
		}
	}
	return map[string]any{"warm_up": "ok"}, nil
}

// runTrafficSwitching drives either the immediate or progressive
// algorithm (§4.5 Traffic switching, Progressive traffic switching algorithm).
func (e *Engine) runTrafficSwitching(ctx context.Context, state *runState) (map[string]any, error) {
	if e.Config.TrafficSwitchingMode == Immediate {
		if err := e.Router.SetTrafficPercentage(ctx, 100); err != nil {
			return nil, err
		}
		state.trafficMoved = true
		_ = e.Tracker.SetTrafficPercentage(100)
		if rollbackTriggered := e.observe(ctx, time.Duration(e.Config.RecoveryWindowMs)*time.Millisecond); rollbackTriggered {
			return nil, fmt.Errorf("monitor reported unhealthy during recovery window")
		}
		return map[string]any{"final_percentage": 100, "mode": string(Immediate)}, nil
	}

	current := 0
	for _, step := range e.Config.ProgressiveSteps {
		if step <= current {
			continue
		}
		if err := e.Router.SetTrafficPercentage(ctx, step); err != nil {
			return nil, err
		}
		current = step
		state.trafficMoved = true
		_ = e.Tracker.SetTrafficPercentage(current)

		if rollbackTriggered := e.observe(ctx, time.Duration(e.Config.StepObservationMs)*time.Millisecond); rollbackTriggered {
			return nil, fmt.Errorf("monitor reported unhealthy at %d%% traffic", current)
		}
	}
	return map[string]any{"final_percentage": current, "mode": string(Progressive)}, nil
}

// observe watches the monitor for the given window, returning true the
// instant should_rollback evaluates true.
func (e *Engine) observe(ctx context.Context, window time.Duration) bool {
	if e.Monitor == nil || window <= 0 {
		return false
	}
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if sample, ok := e.Monitor.Latest(); ok {
			if monitor.ShouldRollback(sample, e.Config.AutoRollbackThresholds) {
				return true
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
	return false
}

// Verify runs the verification phase standalone, outside Run, for an
// operator checking consistency after the fact (the `verify` CLI command).
// It does not touch MST's phase state machine.
func (e *Engine) Verify(ctx context.Context) (map[string]any, error) {
	return e.runVerification(ctx)
}

// runVerification requires zero sync lag before passing (§4.5
// Verification; Open Question decision: mandatory zero lag).
func (e *Engine) runVerification(ctx context.Context) (map[string]any, error) {
	lag, err := e.computeLag(ctx)
	if err != nil {
		return nil, fmt.Errorf("computing sync lag: %w", err)
	}
	if lag != 0 {
		return nil, fmt.Errorf("verification requires zero sync lag, got %d", lag)
	}

	if e.Monitor != nil {
		if sample, ok := e.Monitor.Latest(); ok {
			if monitor.ShouldRollback(sample, e.Config.AutoRollbackThresholds) {
				return nil, fmt.Errorf("extended stability observation reported unhealthy")
			}
		}
	}
	return map[string]any{"lag_rows": lag, "consistent": true}, nil
}

// runCleanup stops the monitor. It does not restart or rewire monitoring
// against the new plane; the final report is written by Run after cleanup
// completes. Errors here are warnings, never fatal (§4.5).
func (e *Engine) runCleanup(ctx context.Context) (map[string]any, error) {
	if e.Monitor != nil {
		e.Monitor.Stop()
	}
	return map[string]any{"cleanup": "ok"}, nil
}
