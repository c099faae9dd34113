package domain

import (
	"errors"
	"fmt"
)

var (
	ErrBackendNotFound      = errors.New("backend not found")
	ErrDuplicateBackendName = errors.New("backend name already in use")
	ErrInvalidTimeRange     = errors.New("invalid time range")
	ErrInvalidRetention     = errors.New("invalid retention configuration")
)

// BackendError wraps a failure for a specific backend, following the
// teacher's pattern of attaching the identifying context to the error value
// instead of folding it into the message alone.
type BackendError struct {
	Err       error
	Operation string
	BackendID string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s failed for backend %s: %v", e.Operation, e.BackendID, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func NewBackendError(operation, backendID string, err error) *BackendError {
	return &BackendError{Operation: operation, BackendID: backendID, Err: err}
}
