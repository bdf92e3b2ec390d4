package replay

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a store failure.
type ErrorKind string

const (
	// Rejected means the command itself was invalid; the store is intact.
	Rejected ErrorKind = "REJECTED"

	// Poisoned means the store's persisted state is invalid, so every
	// later command will fail the same way until it is repaired.
	Poisoned ErrorKind = "POISONED"
)

// StoreError is the structured failure a Store returns from Apply.
type StoreError struct {
	Kind ErrorKind

	// Message is a human-readable description.
	Message string

	// InstancePath points at the offending value, e.g. "/components/3/httpMethod".
	InstancePath string

	// Stdout and Stderr carry process output when the store is external.
	Stdout string
	Stderr string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.InstancePath != "" {
		return fmt.Sprintf("%s: %s (at %s)", e.Kind, e.Message, e.InstancePath)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewRejected creates a rejection error.
func NewRejected(format string, args ...any) *StoreError {
	return &StoreError{Kind: Rejected, Message: fmt.Sprintf(format, args...)}
}

// NewPoisoned creates a poisoning error pointing at instancePath.
func NewPoisoned(instancePath, format string, args ...any) *StoreError {
	return &StoreError{Kind: Poisoned, Message: fmt.Sprintf(format, args...), InstancePath: instancePath}
}

// IsPoisoned reports whether err signals a poisoned store.
// Uses errors.As to handle wrapped errors.
func IsPoisoned(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind == Poisoned
	}
	return false
}

// IsRejected reports whether err is a rejection. Errors that are not
// StoreErrors are treated as rejections: without a structured signal the
// store cannot be assumed corrupt.
func IsRejected(err error) bool {
	if err == nil {
		return false
	}
	return !IsPoisoned(err)
}

// AsStoreError extracts the StoreError from err, wrapping plain errors as
// rejections.
func AsStoreError(err error) *StoreError {
	var se *StoreError
	if errors.As(err, &se) {
		return se
	}
	return &StoreError{Kind: Rejected, Message: err.Error(), Err: err}
}
