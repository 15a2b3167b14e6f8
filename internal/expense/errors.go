package expense

import (
	"errors"
	"fmt"
)

// Error kinds. Concrete errors match these with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrImmutableState    = errors.New("immutable state")
	ErrNotFound          = errors.New("not found")
	ErrInvalidRange      = errors.New("invalid range")
	ErrStorage           = errors.New("storage error")
)

// ValidationError describes a missing, negative or malformed field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TransitionError is returned when a lifecycle transition is not allowed
// from the report's current status
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move expense from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ImmutableStateError is returned when editing a report that left Draft
type ImmutableStateError struct {
	Status Status
}

func (e *ImmutableStateError) Error() string {
	return fmt.Sprintf("expense in status %s cannot be edited", e.Status)
}

func (e *ImmutableStateError) Is(target error) bool {
	return target == ErrImmutableState
}

// StatusConflictError is returned by DB.UpdateFields when the stored
// status is no longer the one the update was computed from
type StatusConflictError struct {
	Expected Status
	Actual   Status
}

func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("expense status changed from %s to %s", e.Expected, e.Actual)
}

// StorageError wraps a document-store or file-store failure
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
