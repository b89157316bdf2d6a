// Package migrationerrors holds the cross-cutting error kinds from the
// taxonomy (§7) that do not belong to any single component: invariant
// violations inside FKR, cooperative cancellation, and the compound
// failure state where both migration and its rollback have failed.
package migrationerrors

import "fmt"

// ResolutionInvariantViolatedError means validate() found a violation
// after `remove` or `create` ran — a bug in FKR, not a data condition.
type ResolutionInvariantViolatedError struct {
	Detail string
}

func (e *ResolutionInvariantViolatedError) Error() string {
	return fmt.Sprintf("resolution invariant violated: %s", e.Detail)
}

// CancelledError propagates a cooperative cancellation through the phase
// currently executing.
type CancelledError struct {
	Phase string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("cancelled during phase %s", e.Phase)
}

// CompoundFailureError means the migration failed and the rollback
// triggered in response also failed; PE marks the migration
// failed_and_unrecoverable rather than failed or rolled_back.
type CompoundFailureError struct {
	MigrationErr error
	RollbackErr  error
}

func (e *CompoundFailureError) Error() string {
	return fmt.Sprintf("compound failure: migration error %v, rollback error %v", e.MigrationErr, e.RollbackErr)
}

func (e *CompoundFailureError) Unwrap() []error {
	return []error{e.MigrationErr, e.RollbackErr}
}

// InvalidConfigurationError signals a config validation failure, mapped to
// CLI exit code 3 (§6).
type InvalidConfigurationError struct {
	Detail string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Detail)
}
