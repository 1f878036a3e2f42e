package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/target/mmk-autoingest/internal/domain/model"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates the job does not exist.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeDuplicate indicates a non-terminal job already exists for the key.
	ErrCodeDuplicate ErrorCode = "duplicate"
	// ErrCodeNoWork indicates the pending queue is empty.
	ErrCodeNoWork ErrorCode = "no_work"
	// ErrCodeInvalidTransition indicates the job is in the wrong state or owned by another host.
	ErrCodeInvalidTransition ErrorCode = "invalid_transition"
	// ErrCodeJobCancelled indicates the caller's running job was cancelled by an operator.
	ErrCodeJobCancelled ErrorCode = "cancelled"
	// ErrCodeConflict indicates a concurrent writer won a compare-and-swap.
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeUnavailable indicates the coordination store cannot be reached.
	ErrCodeUnavailable ErrorCode = "unavailable"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the request context was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
)

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf(format, args...),
		Cause:   model.ErrJobNotFound,
	}
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
	}
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
		Field:   field,
	}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// domainCodes is checked in order; ErrJobCancelled must precede
// ErrInvalidTransition because cancellation errors wrap both.
var domainCodes = []struct {
	sentinel error
	code     ErrorCode
	message  string
}{
	{model.ErrJobCancelled, ErrCodeJobCancelled, "job was cancelled"},
	{model.ErrDuplicateJob, ErrCodeDuplicate, "job already queued or running"},
	{model.ErrNoWorkAvailable, ErrCodeNoWork, "no pending jobs"},
	{model.ErrInvalidTransition, ErrCodeInvalidTransition, "job state does not allow this operation"},
	{model.ErrJobNotFound, ErrCodeNotFound, "job not found"},
	{model.ErrVersionConflict, ErrCodeConflict, "job changed concurrently, retry"},
	{model.ErrStoreUnavailable, ErrCodeUnavailable, "coordination store unavailable"},
}

// FromDomain classifies err into an AppError. Existing AppErrors are returned
// as is; unknown errors become ErrCodeInternal.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	for _, dc := range domainCodes {
		if errors.Is(err, dc.sentinel) {
			return Wrap(err, dc.code, dc.message)
		}
	}
	if mapped := MapDBError(err); mapped != err {
		if errors.As(mapped, &appErr) {
			return appErr
		}
	}
	return Wrap(err, ErrCodeInternal, "internal error")
}

// HTTPStatus returns the HTTP status code used to report code.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeDuplicate, ErrCodeInvalidTransition, ErrCodeJobCancelled, ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeNoWork:
		return http.StatusNoContent
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeCanceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsUnavailable checks if an error is an Unavailable error.
func IsUnavailable(err error) bool {
	return isCode(err, ErrCodeUnavailable)
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
