package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/MJE43/plinko-engine/internal/board"
	"github.com/MJE43/plinko-engine/internal/drop"
	"github.com/MJE43/plinko-engine/internal/scan"
	"github.com/MJE43/plinko-engine/internal/store"
)

// errInvalidParams marks query or body values that failed parsing.
var errInvalidParams = errors.New("invalid parameters")

// ErrorBuilder helps construct structured errors with context
type ErrorBuilder struct {
	errType   string
	message   string
	context   map[string]interface{}
	requestID string
}

// NewError creates a new error builder
func NewError(errType, message string) *ErrorBuilder {
	return &ErrorBuilder{
		errType: errType,
		message: message,
		context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (eb *ErrorBuilder) WithContext(key string, value interface{}) *ErrorBuilder {
	eb.context[key] = value
	return eb
}

func (eb *ErrorBuilder) WithRequestID(requestID string) *ErrorBuilder {
	eb.requestID = requestID
	return eb
}

// Build creates the final EngineError
func (eb *ErrorBuilder) Build() EngineError {
	ctx := eb.context
	if len(ctx) == 0 {
		ctx = nil
	}
	return EngineError{
		Type:      eb.errType,
		Message:   eb.message,
		Context:   ctx,
		RequestID: eb.requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// classify maps a domain error to its status code and error type.
func classify(err error) (int, string) {
	var (
		cfgErr     *board.ConfigurationError
		validation validator.ValidationErrors
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, ErrTypeValidation
	case errors.Is(err, drop.ErrInvalidBet), errors.Is(err, store.ErrInvalidAmount):
		return http.StatusBadRequest, ErrTypeInvalidBet
	case errors.As(err, &cfgErr), errors.Is(err, errInvalidParams),
		errors.Is(err, scan.ErrInvalidMode), errors.Is(err, scan.ErrInvalidRange),
		errors.Is(err, scan.ErrRangeTooWide), errors.Is(err, scan.ErrInvalidOp):
		return http.StatusBadRequest, ErrTypeInvalidParams
	case errors.Is(err, store.ErrInsufficientBalance):
		return http.StatusPaymentRequired, ErrTypeInsufficientBalance
	case errors.Is(err, store.ErrUserNotFound), errors.Is(err, store.ErrDropNotFound),
		errors.Is(err, store.ErrScanRunNotFound):
		return http.StatusNotFound, ErrTypeNotFound
	case errors.Is(err, store.ErrUserExists):
		return http.StatusConflict, ErrTypeConflict
	case errors.Is(err, drop.ErrStopped):
		return http.StatusServiceUnavailable, ErrTypeServiceUnavailable
	case errors.Is(err, drop.ErrDropFailed):
		return http.StatusInternalServerError, ErrTypeDropFailed
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, ErrTypeTimeout
	default:
		return http.StatusInternalServerError, ErrTypeInternal
	}
}

// ErrorHandler provides centralized error handling with logging
type ErrorHandler struct {
	log *logrus.Entry
}

func NewErrorHandler(log *logrus.Entry) *ErrorHandler {
	return &ErrorHandler{log: log}
}

// HandleError classifies err and writes it as an EngineError. Internal
// failures hide the cause from the client.
func (eh *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	status, errType := classify(err)

	message := err.Error()
	if status == http.StatusInternalServerError && errType == ErrTypeInternal {
		message = "Internal server error"
	}
	b := NewError(errType, message).
		WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method)
	if errType == ErrTypeValidation {
		b.WithContext("fields", FormatValidationError(err))
	}
	engineErr := b.Build()

	eh.logError(r, engineErr, status, err)
	eh.writeErrorResponse(w, status, engineErr)
}

// HandleValidationError handles validation-specific errors
func (eh *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, field, message string) {
	engineErr := NewError(ErrTypeValidation, fmt.Sprintf("Validation failed: %s", message)).
		WithRequestID(middleware.GetReqID(r.Context())).
		WithContext("field", field).
		WithContext("path", r.URL.Path).
		WithContext("method", r.Method).
		Build()

	eh.logError(r, engineErr, http.StatusBadRequest, nil)
	eh.writeErrorResponse(w, http.StatusBadRequest, engineErr)
}

func (eh *ErrorHandler) logError(r *http.Request, engineErr EngineError, status int, cause error) {
	entry := eh.log.WithFields(logrus.Fields{
		"type":       engineErr.Type,
		"category":   GetErrorCategory(engineErr.Type),
		"status":     status,
		"request_id": engineErr.RequestID,
		"method":     r.Method,
		"path":       r.URL.Path,
	})
	if cause != nil {
		entry = entry.WithError(cause)
	}

	if status >= http.StatusInternalServerError {
		entry.Error(engineErr.Message)
		return
	}
	entry.Warn(engineErr.Message)
}

// writeErrorResponse writes the error response as JSON
func (eh *ErrorHandler) writeErrorResponse(w http.ResponseWriter, status int, engineErr EngineError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Engine-Version", EngineVersion)
	w.Header().Set("X-Error-Type", engineErr.Type)
	w.Header().Set("X-Error-Category", string(GetErrorCategory(engineErr.Type)))
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(engineErr); err != nil {
		eh.log.WithError(err).Error("encode error response")
	}
}

// RecoveryHandler provides panic recovery with structured error logging
func (eh *ErrorHandler) RecoveryHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				requestID := middleware.GetReqID(r.Context())

				eh.log.WithFields(logrus.Fields{
					"request_id": requestID,
					"path":       r.URL.Path,
					"method":     r.Method,
					"panic":      rvr,
				}).Error("panic recovered")

				engineErr := NewError(ErrTypeInternal, "Internal server error").
					WithRequestID(requestID).
					WithContext("path", r.URL.Path).
					WithContext("method", r.Method).
					Build()

				eh.writeErrorResponse(w, http.StatusInternalServerError, engineErr)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
