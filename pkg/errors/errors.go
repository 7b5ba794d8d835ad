// Package errors defines the application error kinds surfaced by the
// synthesis core and their HTTP status mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
)

// ErrorCode classifies an application error.
type ErrorCode string

const (
	CodeBadRequest        ErrorCode = "BAD_REQUEST"
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeAlreadyExists     ErrorCode = "ALREADY_EXISTS"
	CodeTooManyRequests   ErrorCode = "TOO_MANY_REQUESTS"
	CodePayloadTooLarge   ErrorCode = "PAYLOAD_TOO_LARGE"
	CodeUpstreamUnavail   ErrorCode = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamTimeout   ErrorCode = "UPSTREAM_TIMEOUT"
	CodeUpstreamBadOutput ErrorCode = "UPSTREAM_INVALID_OUTPUT"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// AppError is an application error with a code, a safe message, and an
// optional wrapped cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the code to its response status.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeUpstreamUnavail:
		return http.StatusServiceUnavailable
	case CodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	case CodeUpstreamBadOutput:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New creates an AppError with a code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap creates an AppError around a cause.
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Err: cause}
}

// NewBadRequest creates a BAD_REQUEST error.
func NewBadRequest(message string) *AppError {
	return &AppError{Code: CodeBadRequest, Message: message}
}

// NewNotFound creates a NOT_FOUND error.
func NewNotFound(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

// NewAlreadyExists creates an ALREADY_EXISTS error.
func NewAlreadyExists(message string) *AppError {
	return &AppError{Code: CodeAlreadyExists, Message: message}
}

// NewUnauthorized creates an UNAUTHORIZED error.
func NewUnauthorized(message string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: message}
}

// NewInternal creates an INTERNAL_ERROR around a cause.
func NewInternal(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: cause}
}

// CodeOf extracts the code from any error chain, defaulting to INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// StatusOf extracts the HTTP status from any error chain.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// IsNotFound reports whether the chain carries a NOT_FOUND error.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeNotFound
	}
	return false
}

var (
	secretWords = regexp.MustCompile(`(?i)(password|secret|token|key|credential|auth|bearer|api_key)\S*`)
	urlLike     = regexp.MustCompile(`\bhttps?://\S+`)
	pathLike    = regexp.MustCompile(`(^|[\s"'(])((?:[A-Za-z]:)?[/\\][\w.\-/\\]{2,})`)
)

// Redact strips secret-looking words, URLs, and filesystem paths from an
// error message before it is written to a client.
func Redact(message string) string {
	out := secretWords.ReplaceAllString(message, "[redacted]")
	out = urlLike.ReplaceAllString(out, "[redacted]")
	out = pathLike.ReplaceAllString(out, "${1}[redacted]")
	return out
}
