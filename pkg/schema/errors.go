package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
//
// The taxonomy groups them in three classes: configuration errors
// (CONFIGURATION_ERROR, VALIDATION_ERROR, AGENT_UNAVAILABLE) are fatal and
// never retried; step execution errors (EXECUTION_ERROR, TIMEOUT_ERROR,
// EXPRESSION_ERROR, APPROVAL_ERROR, RETRY_EXHAUSTED) are subject to the
// step's retry policy and on_error routing; guard violations
// (GUARD_VIOLATION) terminate the run immediately.
const (
	ErrCodeConfiguration    = "CONFIGURATION_ERROR"
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeExecution        = "EXECUTION_ERROR"
	ErrCodeExpression       = "EXPRESSION_ERROR"
	ErrCodeTimeout          = "TIMEOUT_ERROR"
	ErrCodeGuardViolation   = "GUARD_VIOLATION"
	ErrCodeRetryExhausted   = "RETRY_EXHAUSTED"
	ErrCodeAgentUnavailable = "AGENT_UNAVAILABLE"
	ErrCodeCircuitOpen      = "CIRCUIT_OPEN"
	ErrCodeApproval         = "APPROVAL_ERROR"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeJournal          = "JOURNAL_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
)

// BatonError is the structured error type for all engine and host operations.
type BatonError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *BatonError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *BatonError) Unwrap() error {
	return e.Cause
}

// NewError creates a new BatonError.
func NewError(code, message string) *BatonError {
	return &BatonError{Code: code, Message: message}
}

// NewErrorf creates a new BatonError with a formatted message.
func NewErrorf(code, format string, args ...any) *BatonError {
	return &BatonError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step ID to the error.
func (e *BatonError) WithStep(stepID string) *BatonError {
	e.StepID = stepID
	return e
}

// WithCause attaches an underlying cause.
func (e *BatonError) WithCause(err error) *BatonError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *BatonError) WithDetails(details map[string]any) *BatonError {
	e.Details = details
	return e
}

// AsBatonError extracts a *BatonError from err's chain, or wraps a plain
// error under the given fallback code.
func AsBatonError(err error, fallbackCode string) *BatonError {
	if err == nil {
		return nil
	}
	var be *BatonError
	if errors.As(err, &be) {
		return be
	}
	return NewError(fallbackCode, err.Error()).WithCause(err)
}

// ErrorCode returns the code carried in err's chain, or "" for nil and plain
// errors.
func ErrorCode(err error) string {
	var be *BatonError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// IsConfigurationError reports whether err belongs to the fatal
// configuration class (never retried, never routed).
func IsConfigurationError(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeConfiguration, ErrCodeValidation, ErrCodeAgentUnavailable:
		return true
	}
	return false
}

// IsGuardViolation reports whether err is a safety-guard violation.
func IsGuardViolation(err error) bool {
	return ErrorCode(err) == ErrCodeGuardViolation
}
