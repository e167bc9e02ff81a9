// Package errdefs defines the error taxonomy shared by the entitlement engine.
//
// Every store, service and the resolver return one of these types (wrapped or
// not) so callers can branch with the Is* helpers instead of string matching.
package errdefs

import (
	"errors"
	"fmt"
)

// Kinds of entities a NotFoundError can refer to
const (
	KindUser         = "user"
	KindOrganization = "organization"
	KindFeature      = "feature"
	KindOverride     = "override"
	KindPlan         = "plan"
	KindRole         = "role"
)

// ValidationError reports malformed input. It is always raised before any
// mutation is attempted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// NotFoundError reports an unknown identifier
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ConflictError reports a violated uniqueness or usage invariant
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Message
}

// ConcurrencyError reports that an atomic update exhausted its retry budget
type ConcurrencyError struct {
	Op       string
	Attempts int
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("%s: contention not resolved after %d attempts", e.Op, e.Attempts)
}

// Validation creates a ValidationError
func Validation(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a NotFoundError
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// Conflict creates a ConflictError
func Conflict(format string, args ...interface{}) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation checks if err is (or wraps) a ValidationError
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound checks if err is (or wraps) a NotFoundError
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsNotFoundKind checks if err is a NotFoundError for the given kind
func IsNotFoundKind(err error, kind string) bool {
	var target *NotFoundError
	return errors.As(err, &target) && target.Kind == kind
}

// IsConflict checks if err is (or wraps) a ConflictError
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsConcurrency checks if err is (or wraps) a ConcurrencyError
func IsConcurrency(err error) bool {
	var target *ConcurrencyError
	return errors.As(err, &target)
}
