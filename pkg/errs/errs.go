// Package errs defines the typed failures shared across the pilot engine.
//
// Callers distinguish outcomes with errors.As (for the typed failures) or the
// Is* helpers. A circuit breaker refusing admission or an alert threshold not
// being breached are normal results, not errors, and never appear here.
package errs

import (
	"errors"
	"fmt"
)

// NotFoundError indicates a missing entity (workspace config, alert, usage
// record). Recoverable: callers typically fall back to defaults.
type NotFoundError struct {
	Kind string // entity kind, e.g. "workspace config", "alert"
	Key  string
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s not found", e.Kind)
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

// NotFound constructs a NotFoundError.
func NotFound(kind, key string) error {
	return &NotFoundError{Kind: kind, Key: key}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// RepositoryError wraps a backing-store failure. The engine surfaces these
// unretried; retry policy belongs to the caller or the adapter.
type RepositoryError struct {
	Op  string // operation that failed, e.g. "save usage record"
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository: %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// Repository wraps err as a RepositoryError. Returns nil for a nil err.
func Repository(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RepositoryError{Op: op, Err: err}
}

// IsRepository reports whether err is (or wraps) a RepositoryError.
func IsRepository(err error) bool {
	var re *RepositoryError
	return errors.As(err, &re)
}

// ValidationError indicates an out-of-range invariant at construction time
// (negative thresholds/tokens/costs, inconsistent sums, inverted ranges).
// Always fatal to that construction, never silently corrected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validation constructs a ValidationError.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// InvalidReferenceError indicates a malformed model reference or an unknown
// provider qualifier during resolution.
type InvalidReferenceError struct {
	Reference string
	Reason    string
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("invalid model reference %q: %s", e.Reference, e.Reason)
}

// InvalidReference constructs an InvalidReferenceError.
func InvalidReference(reference, reason string) error {
	return &InvalidReferenceError{Reference: reference, Reason: reason}
}

// IsInvalidReference reports whether err is (or wraps) an InvalidReferenceError.
func IsInvalidReference(err error) bool {
	var ir *InvalidReferenceError
	return errors.As(err, &ir)
}

// NoTaskConfigError indicates a task type with no configured default model.
type NoTaskConfigError struct {
	TaskType string
}

func (e *NoTaskConfigError) Error() string {
	return fmt.Sprintf("no model configuration for task type %q", e.TaskType)
}

// NoTaskConfig constructs a NoTaskConfigError.
func NoTaskConfig(taskType string) error {
	return &NoTaskConfigError{TaskType: taskType}
}

// IsNoTaskConfig reports whether err is (or wraps) a NoTaskConfigError.
func IsNoTaskConfig(err error) bool {
	var nt *NoTaskConfigError
	return errors.As(err, &nt)
}
