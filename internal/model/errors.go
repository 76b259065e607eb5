package model

import (
	"errors"
	"fmt"
)

// ErrBatchExists is returned when a batch for the same user and window was already saved.
var ErrBatchExists = errors.New("batch already exists")

// ValidationError is bad input from a caller.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) ValidationError {
	return ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a validation error (including wrapped errors)
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// ConflictError means the target changed underneath the caller or the
// requested transition is not allowed from its current state.
type ConflictError struct {
	Field   string
	Message string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Field, e.Message)
}

func NewConflictError(field, message string) ConflictError {
	return ConflictError{Field: field, Message: message}
}

func IsConflictError(err error) bool {
	var ce ConflictError
	return errors.As(err, &ce)
}

type NotFoundError struct {
	Field   string
	Message string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("not found %s: %s", e.Field, e.Message)
}

func NewNotFoundError(field, message string) NotFoundError {
	return NotFoundError{Field: field, Message: message}
}

func IsNotFoundError(err error) bool {
	var ne NotFoundError
	return errors.As(err, &ne)
}
