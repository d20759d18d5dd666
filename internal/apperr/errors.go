// Package apperr provides the application-wide error taxonomy: eight kinds
// (BadRequest, Unauthorized, Forbidden, NotFound, Conflict, UpstreamFailure,
// InvalidState, Internal), each carrying its own HTTP status and a stable
// code string for WebSocket error frames.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	CodeNotFound        = "NOT_FOUND"
	CodeBadRequest      = "BAD_REQUEST"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeConflict        = "CONFLICT"
	CodeUpstreamFailure = "UPSTREAM_FAILURE"
	CodeInvalidState    = "INVALID_STATE"
	CodeInternal        = "INTERNAL_ERROR"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not-found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a new bad-request error.
func BadRequest(message string) *AppError {
	return &AppError{Code: CodeBadRequest, Message: message, HTTPStatus: http.StatusBadRequest}
}

// Unauthorized creates a new unauthorized error.
func Unauthorized(message string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: message, HTTPStatus: http.StatusUnauthorized}
}

// Forbidden creates a new forbidden error, for cross-tenant access attempts.
func Forbidden(message string) *AppError {
	return &AppError{Code: CodeForbidden, Message: message, HTTPStatus: http.StatusForbidden}
}

// Conflict creates a new conflict error, e.g. a second concurrent stream on
// a conversation that already has one.
func Conflict(message string) *AppError {
	return &AppError{Code: CodeConflict, Message: message, HTTPStatus: http.StatusConflict}
}

// UpstreamFailure wraps a connector/connection failure. Callers at the pool
// layer retry before this reaches the caller; once it does, it is terminal
// for that request.
func UpstreamFailure(detail string, err error) *AppError {
	return &AppError{
		Code:       CodeUpstreamFailure,
		Message:    detail,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// InvalidState flags a row observed to violate an invariant (e.g. an Active
// tenant with no credential). Callers auto-repair per §3 and log at WARN;
// this type exists so the repair path can be distinguished from a genuine
// caller-facing error.
func InvalidState(message string) *AppError {
	return &AppError{Code: CodeInvalidState, Message: message, HTTPStatus: http.StatusConflict}
}

// Internal wraps an unexpected failure (serialization, filesystem, panic).
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Wrap wraps an existing error with additional context, returning an
// AppError. If err is already an AppError its code and status are
// preserved; otherwise it is wrapped as Internal.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	return &AppError{Code: CodeInternal, Message: message, HTTPStatus: http.StatusInternalServerError, Err: err}
}

// IsNotFound reports whether err is a NotFound AppError.
func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == CodeNotFound
}

// IsForbidden reports whether err is a Forbidden AppError.
func IsForbidden(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == CodeForbidden
}

// IsConflict reports whether err is a Conflict AppError.
func IsConflict(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == CodeConflict
}

// GetHTTPStatus returns the HTTP status code for an error, defaulting to 500
// when err is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
