// Package contextutils holds the structured error type shared by the commentary pipeline,
// its HTTP surface and the admin CLI, plus the run ID carried through contexts.
package contextutils

import (
	"context"
	"fmt"
	"strings"
)

// ErrorCode is the stable identifier sent in API error bodies and matched by errors.Is
type ErrorCode string

const (
	ErrorCodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION_ERROR"
	// ErrorCodeDatabaseQuery covers candidate, claim and lookup reads
	ErrorCodeDatabaseQuery ErrorCode = "DATABASE_QUERY_ERROR"
	// ErrorCodePersistence covers commentary, summary and status writes
	ErrorCodePersistence ErrorCode = "PERSISTENCE_ERROR"

	ErrorCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	// ErrorCodeConfiguration means processing settings or static config could not be read
	ErrorCodeConfiguration ErrorCode = "CONFIGURATION_ERROR"

	ErrorCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrorCodeTimeout            ErrorCode = "REQUEST_TIMEOUT"
	// ErrorCodeQuotaExceeded is a provider rate or quota rejection
	ErrorCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"
	ErrorCodeInternalError ErrorCode = "INTERNAL_SERVER_ERROR"

	ErrorCodeAIRequestFailed   ErrorCode = "AI_REQUEST_FAILED"
	ErrorCodeAIResponseInvalid ErrorCode = "AI_RESPONSE_INVALID"
	ErrorCodeAIConfigInvalid   ErrorCode = "AI_CONFIG_INVALID"
	// ErrorCodeFallbackExhausted means every service of a slot chain failed
	ErrorCodeFallbackExhausted ErrorCode = "FALLBACK_EXHAUSTED"
)

// SeverityLevel tags an error for log level and span attributes
type SeverityLevel string

const (
	SeverityInfo  SeverityLevel = "info"
	SeverityWarn  SeverityLevel = "warn"
	SeverityError SeverityLevel = "error"
	// SeverityFatal is reserved for recovered panics
	SeverityFatal SeverityLevel = "fatal"
)

// AppError is an error with a code, a severity and an optional cause.
// Two AppErrors match under errors.Is when their codes are equal.
type AppError struct {
	Code     ErrorCode
	Severity SeverityLevel
	Message  string
	Details  string
	Cause    error
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on the error code
func (e *AppError) Is(target error) bool {
	if appErr, ok := target.(*AppError); ok {
		return e.Code == appErr.Code
	}
	return false
}

func sentinel(code ErrorCode, severity SeverityLevel, message string) *AppError {
	return &AppError{Code: code, Severity: severity, Message: message}
}

// Sentinels for errors.Is. Wrap them with WrapError or WrapErrorf rather than returning them bare.
var (
	ErrDatabaseConnection = sentinel(ErrorCodeDatabaseConnection, SeverityError, "Database connection failed")
	// ErrDatabaseQuery aborts an invocation
	ErrDatabaseQuery = sentinel(ErrorCodeDatabaseQuery, SeverityError, "Database query failed")
	// ErrPersistence fails only the affected question
	ErrPersistence = sentinel(ErrorCodePersistence, SeverityError, "Persistence failed")

	ErrInvalidInput     = sentinel(ErrorCodeInvalidInput, SeverityWarn, "Invalid input")
	ErrValidationFailed = sentinel(ErrorCodeValidationFailed, SeverityWarn, "Validation failed")
	// ErrConfiguration aborts an invocation when processing settings are unreadable
	ErrConfiguration = sentinel(ErrorCodeConfiguration, SeverityError, "Configuration unavailable")

	ErrServiceUnavailable = sentinel(ErrorCodeServiceUnavailable, SeverityError, "Service unavailable")
	ErrTimeout            = sentinel(ErrorCodeTimeout, SeverityWarn, "Request timeout")
	ErrQuotaExceeded      = sentinel(ErrorCodeQuotaExceeded, SeverityWarn, "Usage quota exceeded")
	ErrInternalError      = sentinel(ErrorCodeInternalError, SeverityError, "Internal server error")

	ErrAIRequestFailed   = sentinel(ErrorCodeAIRequestFailed, SeverityError, "AI request failed")
	ErrAIResponseInvalid = sentinel(ErrorCodeAIResponseInvalid, SeverityError, "AI response invalid")
	ErrAIConfigInvalid   = sentinel(ErrorCodeAIConfigInvalid, SeverityError, "AI configuration invalid")
	ErrFallbackExhausted = sentinel(ErrorCodeFallbackExhausted, SeverityError, "All services of the fallback chain failed")
)

// NewAppError builds an AppError without a cause
func NewAppError(code ErrorCode, severity SeverityLevel, message, details string) *AppError {
	return &AppError{Code: code, Severity: severity, Message: message, Details: details}
}

// NewAppErrorWithCause builds an AppError that unwraps to cause
func NewAppErrorWithCause(code ErrorCode, severity SeverityLevel, message, details string, cause error) *AppError {
	return &AppError{Code: code, Severity: severity, Message: message, Details: details, Cause: cause}
}

// wrap inherits code and severity from an AppError base; anything else becomes an internal error
func wrap(base error, message string, cause error) *AppError {
	out := &AppError{
		Code:     ErrorCodeInternalError,
		Severity: SeverityError,
		Message:  message,
		Details:  base.Error(),
		Cause:    cause,
	}
	if appErr, ok := base.(*AppError); ok {
		out.Code = appErr.Code
		out.Severity = appErr.Severity
	}
	return out
}

// WrapError puts message in front of err, keeping err's code when it is an AppError
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return wrap(err, message, err)
}

// WrapErrorf is WrapError with a format. When the format contains %w the formatted
// error becomes the cause, so errors.Is sees both err's code and the wrapped argument.
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if strings.Contains(format, "%w") {
		formatted := fmt.Errorf(format, args...)
		return wrap(err, formatted.Error(), formatted)
	}
	return wrap(err, fmt.Sprintf(format, args...), err)
}

// ErrorWithContextf creates an internal error from a format
func ErrorWithContextf(format string, args ...interface{}) error {
	return &AppError{
		Code:     ErrorCodeInternalError,
		Severity: SeverityError,
		Message:  fmt.Sprintf(format, args...),
	}
}

// GetErrorCode returns the code of a top-level AppError, INTERNAL_SERVER_ERROR otherwise
func GetErrorCode(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrorCodeInternalError
}

// IsRetryable reports transient failures: timeouts, unavailable dependencies and quota rejections
func IsRetryable(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok || appErr.Severity == SeverityFatal {
		return false
	}
	switch appErr.Code {
	case ErrorCodeTimeout, ErrorCodeServiceUnavailable, ErrorCodeDatabaseConnection, ErrorCodeQuotaExceeded:
		return true
	}
	return false
}

// ToJSON is the API error body. The cause is only exposed for error and fatal severities.
func (e *AppError) ToJSON() map[string]interface{} {
	body := map[string]interface{}{
		"code":      string(e.Code),
		"message":   e.Message,
		"error":     e.Message,
		"severity":  string(e.Severity),
		"retryable": IsRetryable(e),
	}
	if e.Details != "" {
		body["details"] = e.Details
	}
	if e.Cause != nil && (e.Severity == SeverityError || e.Severity == SeverityFatal) {
		body["cause"] = e.Cause.Error()
	}
	return body
}

// ContextKey keys values this package stores in a context
type ContextKey string

// RunIDKey carries the invocation run ID for log correlation
const RunIDKey ContextKey = "runID"

// WithRunID returns ctx carrying runID
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRunIDFromContext returns the run ID stored in ctx, or ""
func GetRunIDFromContext(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}
