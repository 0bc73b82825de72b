package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a compost error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrConflict       ErrorCode = "CONFLICT"        // 409
	ErrBusy           ErrorCode = "BUSY"            // 423
	ErrCancelled      ErrorCode = "CANCELLED"       // 499
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// CompostError represents a structured error with code, status, and details.
type CompostError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *CompostError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *CompostError {
	return &CompostError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing archive, file, or ledger entry.
func NewNotFound(kind, identifier string) *CompostError {
	return &CompostError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewArchiveNotFound creates a 404 error for a backup archive that does not exist.
func NewArchiveNotFound(path string) *CompostError {
	return NewNotFound("archive", path)
}

// NewRestoreConflict creates a 409 error for a restore destination that already exists.
// member is the archive member name, dest the path it would have been written to.
func NewRestoreConflict(member, dest string) *CompostError {
	return &CompostError{
		Code:    ErrConflict,
		Status:  409,
		Message: fmt.Sprintf("restore would overwrite existing file %s (use force to overwrite)", dest),
		Details: map[string]any{"member": member, "destination": dest},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *CompostError {
	return &CompostError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewBusy creates a 423 error when another process holds the scope lock.
func NewBusy(scopeKey string) *CompostError {
	return &CompostError{
		Code:    ErrBusy,
		Status:  423,
		Message: fmt.Sprintf("another maintenance operation is running for scope %q", scopeKey),
		Details: map[string]any{"scope_key": scopeKey},
	}
}

// NewCancelled creates a 499 error when an operation is cancelled via context.
func NewCancelled(op string) *CompostError {
	return &CompostError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *CompostError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &CompostError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Wrap returns err unchanged if it already is a CompostError, otherwise an INTERNAL error.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var cErr *CompostError
	if stderrors.As(err, &cErr) {
		return cErr
	}
	return NewInternal(err)
}

// Is checks if an error is (or wraps) a CompostError with the given code.
func Is(err error, code ErrorCode) bool {
	var cErr *CompostError
	if stderrors.As(err, &cErr) {
		return cErr.Code == code
	}
	return false
}
