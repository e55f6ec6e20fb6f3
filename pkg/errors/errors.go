package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode string

// Error codes used across the device session packages
const (
	// Generic errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeStoreFailure ErrorCode = "STORE_FAILURE"

	// Authentication errors
	ErrCodeAuthFailed   ErrorCode = "AUTH_FAILED"
	ErrCodeTokenInvalid ErrorCode = "TOKEN_INVALID"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"

	// Device errors
	ErrCodeDeviceNotFound ErrorCode = "DEVICE_NOT_FOUND"
	ErrCodeDeviceExists   ErrorCode = "DEVICE_ALREADY_EXISTS"
	ErrCodeSlotOccupied   ErrorCode = "DEVICE_SLOT_OCCUPIED"

	// Quota errors
	ErrCodeQuotaExceeded ErrorCode = "REMOVAL_QUOTA_EXCEEDED"

	// Validation errors
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeValueTooLong     ErrorCode = "VALUE_TOO_LONG"
	ErrCodeValueOutOfRange  ErrorCode = "VALUE_OUT_OF_RANGE"
	ErrCodeMissingRequired  ErrorCode = "MISSING_REQUIRED"
)

// Error represents a structured error with code, message, and optional details
type Error struct {
	Code    ErrorCode              // Unique error code
	Message string                 // Human-readable error message
	Details map[string]interface{} // Optional additional details
	Err     error                  // Wrapped underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithDetails adds multiple details to the error
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *Error) HTTPStatusCode() int {
	return MapErrorCodeToHTTPStatus(e.Code)
}

// New creates a new Error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with code and message
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Wrapf wraps an existing error with code and formatted message
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error
// Returns ErrCodeInternal if the error is not a structured Error
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// GetDetails extracts the details from an error
// Returns nil if the error is not a structured Error
func GetDetails(err error) map[string]interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// MapErrorCodeToHTTPStatus maps error codes to HTTP status codes
func MapErrorCodeToHTTPStatus(code ErrorCode) int {
	switch code {
	// 400 Bad Request
	case ErrCodeInvalidInput, ErrCodeValidationFailed, ErrCodeValueTooLong,
		ErrCodeValueOutOfRange, ErrCodeMissingRequired:
		return http.StatusBadRequest

	// 401 Unauthorized
	case ErrCodeAuthFailed, ErrCodeTokenInvalid:
		return http.StatusUnauthorized

	// 403 Forbidden
	case ErrCodeForbidden:
		return http.StatusForbidden

	// 404 Not Found
	case ErrCodeNotFound, ErrCodeDeviceNotFound:
		return http.StatusNotFound

	// 409 Conflict
	case ErrCodeConflict, ErrCodeDeviceExists, ErrCodeSlotOccupied:
		return http.StatusConflict

	// 429 Too Many Requests
	case ErrCodeQuotaExceeded:
		return http.StatusTooManyRequests

	// 500 Internal Server Error (default)
	case ErrCodeInternal, ErrCodeStoreFailure:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}

// Common error constructors for frequently used errors

// NotFound creates a "not found" error
func NotFound(resourceType, identifier string) *Error {
	return Newf(ErrCodeNotFound, "%s not found: %s", resourceType, identifier)
}

// InvalidInput creates an "invalid input" error
func InvalidInput(field, reason string) *Error {
	return New(ErrCodeInvalidInput, fmt.Sprintf("invalid %s: %s", field, reason))
}

// Unauthorized creates an authentication failure error
func Unauthorized(message string) *Error {
	return New(ErrCodeAuthFailed, message)
}

// Forbidden creates a "forbidden" error
func Forbidden(message string) *Error {
	return New(ErrCodeForbidden, message)
}

// Internal creates an "internal error"
func Internal(message string) *Error {
	return New(ErrCodeInternal, message)
}

// InternalWrap wraps an internal error
func InternalWrap(err error, message string) *Error {
	return Wrap(err, ErrCodeInternal, message)
}

// StoreFailure wraps a persistence failure
func StoreFailure(err error, message string) *Error {
	return Wrap(err, ErrCodeStoreFailure, message)
}

// ValidationFailed creates a "validation failed" error
func ValidationFailed(details map[string]interface{}) *Error {
	return New(ErrCodeValidationFailed, "validation failed").WithDetails(details)
}

// SlotOccupied creates a slot conflict error naming the blocking device
func SlotOccupied(slot, deviceKey, deviceName string) *Error {
	return Newf(ErrCodeSlotOccupied, "user already has a registered %s device", slot).
		WithDetail("conflict_device_id", deviceKey).
		WithDetail("conflict_device_name", deviceName)
}

// QuotaExceeded creates a removal quota error carrying the reset date
func QuotaExceeded(nextFreeRemovalDate string) *Error {
	return New(ErrCodeQuotaExceeded, "free removal quota exceeded").
		WithDetail("next_free_removal_date", nextFreeRemovalDate)
}
