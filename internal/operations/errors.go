package operations

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrorType represents the type of operation error
type ErrorType string

const (
	ErrorTypeSourceUnavailable ErrorType = "source_unavailable"
	ErrorTypeUnauthenticated   ErrorType = "unauthenticated"
	ErrorTypeNoData            ErrorType = "no_data"
	ErrorTypeRenderFailure     ErrorType = "render_failure"
	ErrorTypeInvalidConfig     ErrorType = "invalid_config"
	ErrorTypeExecution         ErrorType = "execution"
	ErrorTypeTimeout           ErrorType = "timeout"
	ErrorTypeCancellation      ErrorType = "cancellation"
	ErrorTypeFatal             ErrorType = "fatal"
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeInvalidState      ErrorType = "invalid_state"
)

// OperationError represents a report run error
type OperationError struct {
	Type    ErrorType              `json:"type"`
	Step    string                 `json:"step,omitempty"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *OperationError) Error() string {
	if e == nil {
		return "unknown operation error"
	}
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Step != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Type, e.Step, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Type, msg)
}

// Unwrap returns the underlying error
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// WithContext attaches a context value and returns the error
func (e *OperationError) WithContext(key string, value interface{}) *OperationError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause sets the underlying error and returns the error
func (e *OperationError) WithCause(cause error) *OperationError {
	e.Cause = cause
	return e
}

// FieldError describes one rejected configuration field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewSourceUnavailableError reports a failed upstream fetch
func NewSourceUnavailableError(step string, cause error) *OperationError {
	return &OperationError{
		Type:    ErrorTypeSourceUnavailable,
		Step:    step,
		Message: "upstream source unavailable",
		Cause:   cause,
	}
}

// NewUnauthenticatedError reports a missing or rejected credential
func NewUnauthenticatedError(step, message string) *OperationError {
	if message == "" {
		message = "credential missing or rejected"
	}
	return &OperationError{
		Type:    ErrorTypeUnauthenticated,
		Step:    step,
		Message: message,
	}
}

// NewNoDataError reports an empty filtered set
func NewNoDataError(step string) *OperationError {
	return &OperationError{
		Type:    ErrorTypeNoData,
		Step:    step,
		Message: "no records match the report filters",
	}
}

// NewRenderFailureError reports parts that could not be rendered or emitted
func NewRenderFailureError(step string, failedParts []int, cause error) *OperationError {
	parts := make([]string, len(failedParts))
	for i, p := range failedParts {
		parts[i] = strconv.Itoa(p)
	}
	return &OperationError{
		Type:    ErrorTypeRenderFailure,
		Step:    step,
		Message: fmt.Sprintf("failed to render parts %s", strings.Join(parts, ", ")),
		Cause:   cause,
		Context: map[string]interface{}{
			"failed_parts": failedParts,
		},
	}
}

// NewInvalidConfigError reports a rejected report configuration
func NewInvalidConfigError(message string, fields []FieldError) *OperationError {
	err := &OperationError{
		Type:    ErrorTypeInvalidConfig,
		Message: message,
	}
	if len(fields) > 0 {
		err.WithContext("fields", fields)
	}
	return err
}

// NewExecutionError creates a new execution error
func NewExecutionError(step string, cause error) *OperationError {
	return &OperationError{
		Type:    ErrorTypeExecution,
		Step:    step,
		Message: "step execution failed",
		Cause:   cause,
	}
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(step string, timeout string) *OperationError {
	return &OperationError{
		Type:    ErrorTypeTimeout,
		Step:    step,
		Message: fmt.Sprintf("step exceeded timeout of %s", timeout),
		Context: map[string]interface{}{
			"timeout": timeout,
		},
	}
}

// NewCancellationError creates a new cancellation error
func NewCancellationError(step string) *OperationError {
	return &OperationError{
		Type:    ErrorTypeCancellation,
		Step:    step,
		Message: "run was cancelled",
	}
}

// NewFatalError creates a new fatal error
func NewFatalError(message string, cause error) *OperationError {
	return &OperationError{
		Type:    ErrorTypeFatal,
		Message: message,
		Cause:   cause,
	}
}

// GetErrorType returns the type of the error
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ""
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Type
	}
	return ErrorTypeExecution
}

// IsType reports whether err carries the given taxonomy type
func IsType(err error, t ErrorType) bool {
	return err != nil && GetErrorType(err) == t
}

// WrapError wraps an error with step context
func WrapError(err error, step string, message string) *OperationError {
	if err == nil {
		return nil
	}

	var opErr *OperationError
	if errors.As(err, &opErr) {
		if opErr.Step == "" {
			opErr.Step = step
		}
		if message != "" {
			opErr.Message = fmt.Sprintf("%s: %s", message, opErr.Message)
		}
		return opErr
	}

	return &OperationError{
		Type:    ErrorTypeExecution,
		Step:    step,
		Message: message,
		Cause:   err,
	}
}

// Common operation errors
var (
	// ErrRunInProgress is returned when a run is requested while another is in flight
	ErrRunInProgress = &OperationError{
		Type:    ErrorTypeInvalidState,
		Message: "a report run is already in progress",
	}

	// ErrOperationNotFound is returned when a run cannot be found
	ErrOperationNotFound = &OperationError{
		Type:    ErrorTypeNotFound,
		Message: "run not found",
	}

	// ErrOperationNotRunning is returned when cancelling a run that is not in flight
	ErrOperationNotRunning = &OperationError{
		Type:    ErrorTypeInvalidState,
		Message: "run is not in progress",
	}
)
