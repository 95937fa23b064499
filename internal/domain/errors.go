// Package domain defines core types, interfaces, and errors for the metadata catalog.
package domain

import "fmt"

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource or stale version).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// RetryConflictError indicates a concurrency conflict that the caller should
// retry wholesale, such as losing a race to lease a batch of tasks.
type RetryConflictError struct {
	Message string
}

func (e *RetryConflictError) Error() string { return e.Message }

// InvariantError indicates corrupted or structurally impossible stored state,
// such as a principal without a client id. It is a bug signal, not a normal
// runtime outcome.
type InvariantError struct {
	Message string
}

func (e *InvariantError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrRetryConflict creates a RetryConflictError with a formatted message.
func ErrRetryConflict(format string, args ...interface{}) *RetryConflictError {
	return &RetryConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrInvariant creates an InvariantError with a formatted message.
func ErrInvariant(format string, args ...interface{}) *InvariantError {
	return &InvariantError{Message: fmt.Sprintf(format, args...)}
}
