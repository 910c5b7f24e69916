package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrTargetGone is returned when a patch addresses an entity that is not
	// in the snapshot, typically because another mutation removed it.
	ErrTargetGone = errors.New("patch target no longer exists")
	// ErrDuplicate is returned when a patch would insert an entity that is
	// already present.
	ErrDuplicate = errors.New("entity already exists")
)

// InconsistencyError reports keys whose rollback could not be applied. The
// entries of those keys were left untouched.
type InconsistencyError struct {
	Patch string
	Keys  []Key
	Errs  []error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("rollback of %s skipped for %d cached queries: %v", e.Patch, len(e.Keys), errors.Join(e.Errs...))
}

// Unwrap returns the per-key errors.
func (e *InconsistencyError) Unwrap() []error {
	return e.Errs
}
