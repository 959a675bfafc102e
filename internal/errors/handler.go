package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/debug"

	"github.com/go-chi/render"

	"adminreports/internal/infrastructure"
	"adminreports/internal/operations"
)

// Common error types following RFC 7807
const (
	TypeValidation   = "/errors/validation"
	TypeNotFound     = "/errors/not-found"
	TypeUnauthorized = "/errors/unauthorized"
	TypeRateLimit    = "/errors/rate-limit"
	TypeInternal     = "/errors/internal"
	TypeServiceDown  = "/errors/service-unavailable"
	TypeTimeout      = "/errors/timeout"
	TypeConflict     = "/errors/conflict"
)

// Report error types
const (
	TypeRunNotFound       = "/errors/operation/not-found"
	TypeRunInProgress     = "/errors/operation/already-running"
	TypeRunNotRunning     = "/errors/operation/not-running"
	TypeRunCancelled      = "/errors/operation/cancelled"
	TypeNoData            = "/errors/report/no-data"
	TypeSourceUnavailable = "/errors/report/source-unavailable"
	TypeUnauthenticated   = "/errors/report/unauthenticated"
	TypeInvalidConfig     = "/errors/report/invalid-config"
	TypeRenderFailure     = "/errors/report/render-failure"
	TypeWebSocketUpgrade  = "/errors/websocket/upgrade-failed"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to RFC 7807 format and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	traceID := infrastructure.GetTraceID(r.Context())
	problem := h.ErrorToProblem(err, r)
	problem.WithExtension("trace_id", traceID)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request_failed",
		slog.String("error", err.Error()),
		slog.Int("status", problem.Status),
		slog.String("problem_type", problem.Type),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	if h.includeStack && problem.Status >= http.StatusInternalServerError {
		problem.WithExtension("stack", getStackTrace())
	}

	_ = render.Render(w, r, problem)
}

// ErrorToProblem converts an error to RFC 7807 Problem Details
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return h.apiErrorToProblem(apiErr, r)
	}

	var opErr *operations.OperationError
	if errors.As(err, &opErr) {
		return h.operationErrorToProblem(err, opErr, r)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewProblemDetails(
			http.StatusGatewayTimeout,
			TypeTimeout,
			"Request Timeout",
			"The request took too long to process and was cancelled",
			r.URL.Path,
		)
	}

	return NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred while processing your request",
		r.URL.Path,
	)
}

func (h *ErrorHandler) operationErrorToProblem(err error, opErr *operations.OperationError, r *http.Request) *ProblemDetails {
	switch {
	case errors.Is(err, operations.ErrRunInProgress):
		return NewProblemDetails(http.StatusConflict, TypeRunInProgress,
			"Run Already In Progress", opErr.Message, r.URL.Path)
	case errors.Is(err, operations.ErrOperationNotRunning):
		return NewProblemDetails(http.StatusConflict, TypeRunNotRunning,
			"Run Not In Progress", opErr.Message, r.URL.Path)
	}

	var problem *ProblemDetails
	switch opErr.Type {
	case operations.ErrorTypeInvalidConfig:
		problem = NewProblemDetails(http.StatusBadRequest, TypeInvalidConfig,
			"Invalid Report Configuration", opErr.Message, r.URL.Path)
		if fields, ok := opErr.Context["fields"]; ok {
			problem.WithExtension("errors", fields)
		}
	case operations.ErrorTypeUnauthenticated:
		problem = NewProblemDetails(http.StatusUnauthorized, TypeUnauthenticated,
			"Unauthenticated", opErr.Message, r.URL.Path)
	case operations.ErrorTypeNoData:
		problem = NewProblemDetails(http.StatusUnprocessableEntity, TypeNoData,
			"No Data", opErr.Message, r.URL.Path)
	case operations.ErrorTypeSourceUnavailable:
		problem = NewProblemDetails(http.StatusBadGateway, TypeSourceUnavailable,
			"Source Unavailable", "The upstream API could not be read", r.URL.Path)
	case operations.ErrorTypeRenderFailure:
		problem = NewProblemDetails(http.StatusInternalServerError, TypeRenderFailure,
			"Render Failure", opErr.Message, r.URL.Path)
		if parts, ok := opErr.Context["failed_parts"]; ok {
			problem.WithExtension("failed_parts", parts)
		}
	case operations.ErrorTypeNotFound:
		problem = NewProblemDetails(http.StatusNotFound, TypeRunNotFound,
			"Run Not Found", opErr.Message, r.URL.Path)
	case operations.ErrorTypeCancellation:
		problem = NewProblemDetails(http.StatusConflict, TypeRunCancelled,
			"Run Cancelled", opErr.Message, r.URL.Path)
	case operations.ErrorTypeInvalidState:
		problem = NewProblemDetails(http.StatusConflict, TypeConflict,
			"Conflict", opErr.Message, r.URL.Path)
	case operations.ErrorTypeTimeout:
		problem = NewProblemDetails(http.StatusGatewayTimeout, TypeTimeout,
			"Run Timeout", opErr.Message, r.URL.Path)
	default:
		problem = NewProblemDetails(http.StatusInternalServerError, TypeInternal,
			"Internal Server Error", "The report run failed", r.URL.Path)
	}

	return problem.WithExtension("error_type", string(opErr.Type))
}

// apiErrorToProblem converts APIError to ProblemDetails
func (h *ErrorHandler) apiErrorToProblem(apiErr *APIError, r *http.Request) *ProblemDetails {
	problemType := TypeInternal
	switch apiErr.ErrorCode {
	case "VALIDATION_FAILED", "INVALID_REQUEST":
		problemType = TypeValidation
	case "NOT_FOUND":
		problemType = TypeNotFound
	case "RUN_NOT_FOUND":
		problemType = TypeRunNotFound
	case "UNAUTHORIZED":
		problemType = TypeUnauthorized
	case "CONFLICT":
		problemType = TypeConflict
	case "RATE_LIMIT_EXCEEDED":
		problemType = TypeRateLimit
	case "SERVICE_UNAVAILABLE":
		problemType = TypeServiceDown
	case "WEBSOCKET_UPGRADE_FAILED":
		problemType = TypeWebSocketUpgrade
	}

	problem := NewProblemDetails(
		apiErr.StatusCode,
		problemType,
		http.StatusText(apiErr.StatusCode),
		apiErr.Message,
		r.URL.Path,
	).WithExtension("error_code", apiErr.ErrorCode)

	if apiErr.Details != nil {
		if problemType == TypeValidation {
			problem.WithExtension("errors", apiErr.Details)
		} else {
			problem.WithExtension("details", apiErr.Details)
		}
	}

	return problem
}

// HandlePanic responds with a 500 problem after a recovered panic
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	traceID := infrastructure.GetTraceID(r.Context())

	h.logger.ErrorContext(r.Context(), "panic_recovered",
		slog.Any("panic", recovered),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", string(debug.Stack())),
	)

	problem := NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred",
		r.URL.Path,
	).WithExtension("trace_id", traceID)

	if h.includeStack {
		problem.WithExtension("panic", fmt.Sprintf("%v", recovered))
		problem.WithExtension("stack", getStackTrace())
	}

	_ = render.Render(w, r, problem)
}

// NotFound returns a standard 404 error
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusNotFound,
		TypeNotFound,
		"Not Found",
		"The requested resource was not found",
		r.URL.Path,
	).WithExtension("trace_id", infrastructure.GetTraceID(r.Context()))

	_ = render.Render(w, r, problem)
}

// MethodNotAllowed returns a standard 405 error
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusMethodNotAllowed,
		TypeInternal,
		"Method Not Allowed",
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method),
		r.URL.Path,
	).WithExtension("trace_id", infrastructure.GetTraceID(r.Context()))

	_ = render.Render(w, r, problem)
}

// RecoveryMiddleware turns panics in downstream handlers into problem responses
func (h *ErrorHandler) RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.HandlePanic(w, r, rec)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func getStackTrace() string {
	buf := make([]byte, 1024*8)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
