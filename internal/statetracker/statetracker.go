// Package statetracker is the Migration Status Tracker: the durable,
// append-only record of phase transitions, per-phase metrics, errors, and
// warnings. It owns the on-disk checkpoint file exclusively (§3 Ownership)
// and is the single source of truth for "where is the migration now."
package statetracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// Phase is one of the fixed, ordered phases the Phase Engine drives
// through (§4.4, §4.5).
type Phase string

const (
	Preparation      Phase = "preparation"
	InitialMigration Phase = "initial_migration"
	IncrementalSync  Phase = "incremental_sync"
	DeploymentPrep   Phase = "deployment_prep"
	TrafficSwitching Phase = "traffic_switching"
	Verification     Phase = "verification"
	Cleanup          Phase = "cleanup"
)

// Phases is the fixed ordered list the Phase Engine executes.
var Phases = []Phase{Preparation, InitialMigration, IncrementalSync, DeploymentPrep, TrafficSwitching, Verification, Cleanup}

// PhaseStatus is the per-phase lifecycle state.
type PhaseStatus string

const (
	NotStarted PhaseStatus = "not_started"
	InProgress PhaseStatus = "in_progress"
	Completed  PhaseStatus = "completed"
	Failed     PhaseStatus = "failed"
)

// OverallStatus is the aggregate migration status (§4.4).
type OverallStatus string

const (
	OverallNotStarted OverallStatus = "not_started"
	OverallPreparing  OverallStatus = "preparing"
	OverallMigrating  OverallStatus = "migrating"
	OverallSwitching  OverallStatus = "switching"
	OverallCompleted  OverallStatus = "completed"
	OverallFailed     OverallStatus = "failed"
	OverallRolledBack OverallStatus = "rolled_back"
	// OverallFailedUnrecoverable is reached only via CompoundFailure
	// (§4.5 Emergency rollback): migration failed and RBM also failed.
	OverallFailedUnrecoverable OverallStatus = "failed_and_unrecoverable"
)

// PhaseRecord is the persisted state of one phase.
type PhaseRecord struct {
	Status    PhaseStatus    `json:"status"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	Errors    []string       `json:"errors,omitempty"`
	Warnings  []string       `json:"warnings,omitempty"`
}

// Status is the full durable record MST persists: every phase's record
// plus the aggregate view.
type Status struct {
	Overall           OverallStatus          `json:"overall_status"`
	CurrentTrafficPct int                    `json:"current_traffic_percentage"`
	Phases            map[Phase]*PhaseRecord `json:"phases"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

func newStatus() *Status {
	s := &Status{Overall: OverallNotStarted, Phases: map[Phase]*PhaseRecord{}}
	for _, p := range Phases {
		s.Phases[p] = &PhaseRecord{Status: NotStarted}
	}
	return s
}

// InvalidPhaseTransitionError is returned when the caller requests an
// illegal state transition (§4.4, §7). It indicates a caller bug.
type InvalidPhaseTransitionError struct {
	Phase        Phase
	Attempted    string
	ActualStatus PhaseStatus
}

func (e *InvalidPhaseTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %q on phase %s (currently %s)", e.Attempted, e.Phase, e.ActualStatus)
}

// Tracker wraps a Status with disk persistence. Every mutating method
// flushes to disk before returning, per §4.4 Durability. A mutex guards
// status since a `migrate --watch` run polls it from a second goroutine
// while the Phase Engine mutates it from the first.
type Tracker struct {
	mu     sync.Mutex
	path   string
	status *Status
}

// Open loads the durable state at path if present, or starts a fresh one.
// Resumed reports whether a prior run left a phase in_progress; the caller
// (PE) must decide whether to resume or fail in that case.
func Open(path string) (tracker *Tracker, resumed bool, err error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		t := &Tracker{path: path, status: newStatus()}
		return t, false, t.flush()
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading status file: %w", err)
	}
	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, false, fmt.Errorf("parsing status file: %w", err)
	}
	t := &Tracker{path: path, status: &status}
	for _, p := range Phases {
		if rec, ok := status.Phases[p]; ok && rec.Status == InProgress {
			return t, true, nil
		}
	}
	return t, false, nil
}

// Status returns a snapshot of the current durable state, safe to read
// while another goroutine mutates the tracker.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	snapshot := *t.status
	snapshot.Phases = make(map[Phase]*PhaseRecord, len(t.status.Phases))
	for p, rec := range t.status.Phases {
		recCopy := *rec
		snapshot.Phases[p] = &recCopy
	}
	return snapshot
}

// Phase returns a snapshot of the current record of one phase.
func (t *Tracker) Phase(p Phase) PhaseRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.status.Phases[p]
}

// Start begins a phase; legal only from not_started.
func (t *Tracker) Start(p Phase) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.status.Phases[p]
	if rec.Status != NotStarted {
		return &InvalidPhaseTransitionError{Phase: p, Attempted: "start", ActualStatus: rec.Status}
	}
	now := time.Now()
	rec.Status = InProgress
	rec.StartedAt = &now
	t.status.Overall = overallFor(p, rec.Status, t.status.Overall)
	return t.flush()
}

// Complete marks a phase completed with its result map; legal only from in_progress.
func (t *Tracker) Complete(p Phase, result map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.status.Phases[p]
	if rec.Status != InProgress {
		return &InvalidPhaseTransitionError{Phase: p, Attempted: "complete", ActualStatus: rec.Status}
	}
	now := time.Now()
	rec.Status = Completed
	rec.EndedAt = &now
	rec.Result = result
	t.status.Overall = overallFor(p, rec.Status, t.status.Overall)
	return t.flush()
}

// Fail marks a phase failed with the triggering error; legal only from in_progress.
func (t *Tracker) Fail(p Phase, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.status.Phases[p]
	if rec.Status != InProgress {
		return &InvalidPhaseTransitionError{Phase: p, Attempted: "fail", ActualStatus: rec.Status}
	}
	now := time.Now()
	rec.Status = Failed
	rec.EndedAt = &now
	if cause != nil {
		rec.Errors = append(rec.Errors, cause.Error())
	}
	t.status.Overall = overallFor(p, rec.Status, t.status.Overall)
	return t.flush()
}

// Warn appends a non-fatal warning to a phase's record without changing
// its lifecycle status (used for cleanup errors and for duplicate composite
// keys found during initial migration).
func (t *Tracker) Warn(p Phase, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.status.Phases[p]
	rec.Warnings = append(rec.Warnings, message)
	return t.flush()
}

// SetTrafficPercentage records the current traffic split (§4.5).
func (t *Tracker) SetTrafficPercentage(pct int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.CurrentTrafficPct = pct
	return t.flush()
}

// MarkRolledBack sets overall status directly; used by the emergency
// rollback path, which is not expressed as a phase transition.
func (t *Tracker) MarkRolledBack() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Overall = OverallRolledBack
	return t.flush()
}

// MarkFailedUnrecoverable records a CompoundFailure: migration failed and
// RBM also failed (§4.5 Emergency rollback, §7).
func (t *Tracker) MarkFailedUnrecoverable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Overall = OverallFailedUnrecoverable
	return t.flush()
}

// Errors returns every error recorded across all phases, in phase order.
func (t *Tracker) Errors() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, p := range Phases {
		out = append(out, t.status.Phases[p].Errors...)
	}
	return out
}

// Warnings returns every warning recorded across all phases, in phase order.
func (t *Tracker) Warnings() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, p := range Phases {
		out = append(out, t.status.Phases[p].Warnings...)
	}
	return out
}

func overallFor(p Phase, status PhaseStatus, current OverallStatus) OverallStatus {
	if status == Failed {
		return OverallFailed
	}
	if status == InProgress {
		switch p {
		case Preparation:
			return OverallPreparing
		case InitialMigration, IncrementalSync, DeploymentPrep:
			return OverallMigrating
		case TrafficSwitching:
			return OverallSwitching
		case Verification, Cleanup:
			return current
		}
	}
	if status == Completed && p == Cleanup {
		return OverallCompleted
	}
	return current
}

func (t *Tracker) flush() error {
	t.status.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(t.status, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	if err := validateAgainstSchema(data); err != nil {
		return fmt.Errorf("status file failed schema validation: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("creating status directory: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing status file: %w", err)
	}
	return os.Rename(tmp, t.path)
}

func validateAgainstSchema(data []byte) error {
	schemaLoader := gojsonschema.NewBytesLoader(statusSchemaJSON)
	docLoader := gojsonschema.NewBytesLoader(data)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%v", msgs)
	}
	return nil
}
