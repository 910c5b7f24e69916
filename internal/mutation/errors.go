package mutation

import (
	"errors"
	"fmt"

	"github.com/maruel/gridb/internal/invalidation"
)

// ErrorKind classifies a failed mutation.
type ErrorKind string

// Failure kinds.
const (
	// TransientStoreError means every attempt failed with a retryable error.
	TransientStoreError ErrorKind = "transient-store-error"
	// PermanentStoreError covers validation failures, missing entities and
	// authorization failures. They are not retried.
	PermanentStoreError ErrorKind = "permanent-store-error"
	// DependencyTimeout means a referenced placeholder was not resolved in
	// time or was discarded.
	DependencyTimeout ErrorKind = "dependency-timeout"
	// RollbackInconsistency is reported on Result.RollbackErr when a rollback
	// target no longer exists.
	RollbackInconsistency ErrorKind = "rollback-inconsistency"
)

var (
	// ErrUnknownPlaceholder is returned when a placeholder identifier has no
	// registry record, e.g. because its creation was rolled back.
	ErrUnknownPlaceholder = errors.New("placeholder identifier is unknown")

	errNameRequired = errors.New("name is required")
)

// Error is the typed failure of a mutation.
type Error struct {
	Kind     ErrorKind
	Op       invalidation.Kind
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed (%s) after %d attempt(s): %v", e.Op, e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
