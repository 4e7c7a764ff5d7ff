// Package apperr defines the error taxonomy shared by the job system,
// the invocation layer, and the pipeline stages.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks a structurally bad episode bundle. The job is
	// never created.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSchemaRepairFailed marks a model payload that stayed invalid after
	// repair. Scoped to one unit of work; the unit is skipped, not the job.
	ErrSchemaRepairFailed = errors.New("schema repair failed")

	// ErrRateLimited marks a provider 429. Retried inside the invocation
	// layer before surfacing.
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout marks an invocation that exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrProviderError marks a non-retryable provider failure. The stage
	// decides retry policy.
	ErrProviderError = errors.New("provider error")

	// ErrPersistenceConflict marks a write conflict; safe to retry because
	// all pipeline writes are idempotent upserts.
	ErrPersistenceConflict = errors.New("persistence conflict")

	// ErrFatal marks a condition that left a whole stage with no valid
	// output. The job moves to failed.
	ErrFatal = errors.New("fatal")
)

// Retriable reports whether a job that failed with err may be resumed from
// its last checkpoint. Invalid input never becomes valid on retry;
// everything else (rate limits, timeouts, provider errors, conflicts,
// whole-stage exhaustion) may clear up on a later run.
func Retriable(err error) bool {
	return err != nil && !errors.Is(err, ErrInvalidInput)
}

// UnitError records a failure scoped to one unit of work (segment, claim,
// pair). Unit errors are counted and logged, never propagated as job failure.
type UnitError struct {
	Stage string
	Unit  string
	Err   error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("%s: unit %s: %v", e.Stage, e.Unit, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }
