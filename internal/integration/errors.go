package integration

import (
	"fmt"
	"net/http"
)

// Error is a typed failure carrying an HTTP-like status code so callers can
// surface it without string matching.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// NotFoundError builds a 404-coded error.
func NotFoundError(format string, args ...any) *Error {
	return &Error{Code: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidInputError builds a 400-coded error.
func InvalidInputError(format string, args ...any) *Error {
	return &Error{Code: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

// PersistenceError builds a 500-coded error for writes that had no effect or
// failed outright.
func PersistenceError(format string, args ...any) *Error {
	return &Error{Code: http.StatusInternalServerError, Message: fmt.Sprintf(format, args...)}
}

// RetryData reproduces a failed vendor invocation so an operator (or an
// automated re-trigger) can replay it with the same inputs.
type RetryData struct {
	Callback string         `json:"callback"`
	Options  map[string]any `json:"options"`
}

// VendorError reports a provider-specific operation failure. It may carry
// RetryData; recover it with errors.As, never by message inspection.
type VendorError struct {
	Message string
	Retry   *RetryData
	Err     error
}

func (e *VendorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *VendorError) Unwrap() error {
	return e.Err
}

// NewVendorError wraps a vendor failure without retry metadata.
func NewVendorError(err error, format string, args ...any) *VendorError {
	return &VendorError{Message: fmt.Sprintf(format, args...), Err: err}
}

// NewRetryableVendorError wraps a vendor failure so the exact invocation can
// be replayed later.
func NewRetryableVendorError(err error, retry *RetryData, format string, args ...any) *VendorError {
	return &VendorError{Message: fmt.Sprintf(format, args...), Retry: retry, Err: err}
}
