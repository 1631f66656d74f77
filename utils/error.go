package utils

import (
	"errors"
	"fmt"
)

// Error kinds. Check them with errors.Is.
var (
	ErrorValidation     = errors.New("validation error")
	ErrorRecordNotFound = errors.New("record not found")
	ErrorInvalidState   = errors.New("invalid state")
	ErrorConcurrency    = errors.New("concurrency error")
	ErrorStore          = errors.New("store error")
)

// AppError carries an error kind, a caller-facing message and the underlying cause.
type AppError struct {
	Kind    error
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func NewValidationError(format string, args ...any) error {
	return &AppError{Kind: ErrorValidation, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(format string, args ...any) error {
	return &AppError{Kind: ErrorRecordNotFound, Message: fmt.Sprintf(format, args...)}
}

func NewInvalidStateError(format string, args ...any) error {
	return &AppError{Kind: ErrorInvalidState, Message: fmt.Sprintf(format, args...)}
}

func NewConcurrencyError(message string, err error) error {
	return &AppError{Kind: ErrorConcurrency, Message: message, Err: err}
}

// NewStoreError wraps an unclassified persistence failure. Errors that already
// carry a kind are returned as is.
func NewStoreError(message string, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	return &AppError{Kind: ErrorStore, Message: message, Err: err}
}

// ErrorKind returns the kind of err, or nil when err is not an AppError.
func ErrorKind(err error) error {
	for _, kind := range []error{ErrorValidation, ErrorRecordNotFound, ErrorInvalidState, ErrorConcurrency, ErrorStore} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
