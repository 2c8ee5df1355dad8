package domain

import (
	"errors"
	"fmt"
)

// Domain errors. Handlers translate them into status codes and notification
// handlers into skip reasons.
var (
	// ErrValidation is used when caller input is rejected.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is used when a referenced identity, policy or history is absent.
	ErrNotFound = errors.New("not found")
	// ErrInvalidPath is used when an object key does not follow the service layout.
	ErrInvalidPath = errors.New("invalid object path")
	// ErrDependency is used when a downstream store or service call fails.
	ErrDependency = errors.New("dependency failed")
	// ErrExecutionAlreadyExists is used when the state machine already has an
	// execution with the requested name.
	ErrExecutionAlreadyExists = errors.New("execution already exists")
)

// ValidationError describes rejected caller input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError formats a ValidationError.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// Unwrap lets errors.Is match ErrNotFound.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidPathError explains why an object key could not be decoded.
type InvalidPathError struct {
	Path   string
	Reason string
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid object path %q: %s", e.Path, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidPath.
func (e *InvalidPathError) Unwrap() error { return ErrInvalidPath }

// DependencyError wraps a failed call to an external service.
func DependencyError(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, ErrDependency, err)
}
