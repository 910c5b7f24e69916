package store

import (
	"errors"
	"fmt"
)

// Kind classifies a store failure.
type Kind string

// Failure kinds.
const (
	// Transient failures are expected to succeed when retried: connection
	// loss, lock contention.
	Transient Kind = "transient"
	// NotVisible means a referenced entity is not visible to the store yet.
	// It is retried like Transient.
	NotVisible   Kind = "not_visible"
	NotFound     Kind = "not_found"
	Invalid      Kind = "invalid"
	Unauthorized Kind = "unauthorized"
	Conflict     Kind = "conflict"
	Internal     Kind = "internal"
)

// Error is returned by every Store method.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf returns a *Error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, or Internal when err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsTransient reports whether err may succeed when retried.
func IsTransient(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == Transient || e.Kind == NotVisible
}
