package common

import (
	"errors"
	"net/http"
)

// Error codes shared by the checkout endpoints.
const (
	CodeValidation          = "VALIDATION"
	CodeConfigMissing       = "CONFIG_MISSING"
	CodeUpstreamRejected    = "UPSTREAM_REJECTED"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeConflict            = "CONFLICT"
	CodeInternal            = "INTERNAL"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// WithDetails attaches a details payload and returns the same error.
func (e *AppError) WithDetails(details any) *AppError {
	if e != nil {
		e.Details = details
	}
	return e
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// AsAppError extracts the first AppError in the chain.
func AsAppError(err error) (*AppError, bool) {
	var target *AppError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Validation reports a malformed client request.
func Validation(message string) *AppError {
	return NewAppError(CodeValidation, message, http.StatusBadRequest, nil)
}

// ConfigMissing reports a provider that is selected but not configured.
func ConfigMissing(message string, err error) *AppError {
	return NewAppError(CodeConfigMissing, message, http.StatusServiceUnavailable, err)
}

// UpstreamRejected surfaces a provider's own rejection. 4xx statuses are
// passed through, anything else becomes 502.
func UpstreamRejected(message string, status int, err error) *AppError {
	if status < 400 || status >= 500 {
		status = http.StatusBadGateway
	}
	return NewAppError(CodeUpstreamRejected, message, status, err)
}

// UpstreamUnavailable reports a provider that could not be reached.
func UpstreamUnavailable(message string, status int, err error) *AppError {
	if status == 0 {
		status = http.StatusBadGateway
	}
	return NewAppError(CodeUpstreamUnavailable, message, status, err)
}
