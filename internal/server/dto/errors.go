// Package dto defines the JSON contract of the grid API: requests bound from
// the path, query and body, snapshot and mutation responses, and the error
// envelope every failure is reported with.
package dto

import (
	"fmt"
	"net/http"
)

// ErrorCode is the stable, machine readable kind of an API failure.
type ErrorCode string

const (
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrorCodeMissingField     ErrorCode = "MISSING_FIELD"
	ErrorCodeInvalidFormat    ErrorCode = "INVALID_FORMAT"
	// ErrorCodePrimaryColumn rejects deleting or hiding the primary column.
	ErrorCodePrimaryColumn ErrorCode = "PRIMARY_COLUMN"

	ErrorCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrorCodeConflict covers removing the last table or view.
	ErrorCodeConflict  ErrorCode = "CONFLICT"
	ErrorCodeForbidden ErrorCode = "FORBIDDEN"

	// ErrorCodeStoreUnavailable means every write attempt hit a transient
	// store error. The optimistic patch was rolled back.
	ErrorCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	// ErrorCodeDependencyTimeout means a placeholder the mutation referenced
	// was not resolved in time, or its creation failed.
	ErrorCodeDependencyTimeout ErrorCode = "DEPENDENCY_TIMEOUT"
	ErrorCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrorCodePayloadTooLarge   ErrorCode = "PAYLOAD_TOO_LARGE"

	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// ErrorDetails is the error object of an ErrorResponse.
type ErrorDetails struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ErrorResponse is the body of every non-2xx response.
//
// Details carries the mutation kind, op and attempt count when a mutation
// failed.
type ErrorResponse struct {
	Error   ErrorDetails   `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorWithStatus is implemented by errors that know their HTTP status.
type ErrorWithStatus interface {
	Error() string
	StatusCode() int
	Code() ErrorCode
	Details() map[string]any
}

// APIError is an error reported to API clients.
type APIError struct {
	statusCode int
	code       ErrorCode
	message    string
	details    map[string]any
	wrappedErr error
}

// NewAPIError returns an APIError without details.
func NewAPIError(statusCode int, code ErrorCode, message string) *APIError {
	return &APIError{statusCode: statusCode, code: code, message: message}
}

// WithDetail sets a detail and returns e.
func (e *APIError) WithDetail(key string, value any) *APIError {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap records the cause and returns e.
func (e *APIError) Wrap(err error) *APIError {
	e.wrappedErr = err
	return e
}

func (e *APIError) Error() string {
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrappedErr)
	}
	return e.message
}

func (e *APIError) StatusCode() int { return e.statusCode }

func (e *APIError) Code() ErrorCode { return e.code }

// Details may be nil.
func (e *APIError) Details() map[string]any { return e.details }

func (e *APIError) Unwrap() error { return e.wrappedErr }

// NotFound reports a missing table, row, column, view or placeholder.
func NotFound(what string) *APIError {
	return NewAPIError(http.StatusNotFound, ErrorCodeNotFound, what+" not found")
}

func BadRequest(message string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeValidationFailed, message)
}

// MissingField reports an empty path parameter or body field.
func MissingField(field string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeMissingField, "missing required field: "+field).WithDetail("field", field)
}

// InvalidField reports a field that does not parse, such as an unknown
// column type or a cell value that is neither a string, a number nor null.
func InvalidField(field, reason string) *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodeInvalidFormat, field+": "+reason).WithDetail("field", field)
}

// PrimaryColumn rejects an operation the primary column does not allow.
func PrimaryColumn() *APIError {
	return NewAPIError(http.StatusBadRequest, ErrorCodePrimaryColumn, "the primary column cannot be removed or hidden")
}

func Conflict(message string) *APIError {
	return NewAPIError(http.StatusConflict, ErrorCodeConflict, message)
}

func Forbidden() *APIError {
	return NewAPIError(http.StatusForbidden, ErrorCodeForbidden, "forbidden")
}

// StoreUnavailable reports a write that exhausted its retries.
func StoreUnavailable() *APIError {
	return NewAPIError(http.StatusServiceUnavailable, ErrorCodeStoreUnavailable, "store unavailable")
}

// DependencyTimeout reports a placeholder that did not resolve.
func DependencyTimeout() *APIError {
	return NewAPIError(http.StatusGatewayTimeout, ErrorCodeDependencyTimeout, "placeholder not resolved")
}

func Internal(message string) *APIError {
	return NewAPIError(http.StatusInternalServerError, ErrorCodeInternal, message)
}

// PayloadTooLarge reports a request body over limit bytes.
func PayloadTooLarge(limit int64) *APIError {
	return NewAPIError(http.StatusRequestEntityTooLarge, ErrorCodePayloadTooLarge, "request body too large").WithDetail("limit", limit)
}

// RateLimitExceeded reports a client over its mutation or read budget.
func RateLimitExceeded(retryAfter int) *APIError {
	return NewAPIError(http.StatusTooManyRequests, ErrorCodeRateLimitExceeded, "rate limit exceeded").WithDetail("retryAfter", retryAfter)
}
