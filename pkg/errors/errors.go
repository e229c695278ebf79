package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error types
var (
	ErrNotFound               = errors.New("resource not found")
	ErrBadRequest             = errors.New("bad request")
	ErrConflict               = errors.New("resource conflict")
	ErrInternal               = errors.New("internal server error")
	ErrValidation             = errors.New("validation error")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInsufficientBatchStock = errors.New("insufficient batch stock")
	ErrDrugUnavailable        = errors.New("drug unavailable")
	ErrInvariantViolation     = errors.New("invariant violation")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// Supply chain error constructors

// InvalidStateTransition signals an operation that is not legal in the
// request's current status.
func InvalidStateTransition(from, to string) *AppError {
	return &AppError{
		Err:        ErrInvalidStateTransition,
		Code:       "INVALID_STATE_TRANSITION",
		Message:    fmt.Sprintf("cannot move request from %s to %s", from, to),
		StatusCode: http.StatusConflict,
	}
}

// InsufficientStock signals that the fulfilling location cannot cover a
// requested quantity across all of its batches.
func InsufficientStock(drugID string, requested, available int) *AppError {
	return &AppError{
		Err:        ErrInsufficientStock,
		Code:       "INSUFFICIENT_STOCK",
		Message:    fmt.Sprintf("insufficient stock for drug %s: requested %d, available %d", drugID, requested, available),
		StatusCode: http.StatusConflict,
	}
}

// InsufficientBatchStock signals a decrement that would drive a single
// batch's quantity negative.
func InsufficientBatchStock(batchID string, qty int) *AppError {
	return &AppError{
		Err:        ErrInsufficientBatchStock,
		Code:       "INSUFFICIENT_BATCH_STOCK",
		Message:    fmt.Sprintf("batch %s holds less than %d units", batchID, qty),
		StatusCode: http.StatusConflict,
	}
}

// DrugUnavailable signals an archived drug, or a phasing-out drug with no
// covering stock at the fulfiller.
func DrugUnavailable(drugID, reason string) *AppError {
	return &AppError{
		Err:        ErrDrugUnavailable,
		Code:       "DRUG_UNAVAILABLE",
		Message:    fmt.Sprintf("drug %s is unavailable: %s", drugID, reason),
		StatusCode: http.StatusUnprocessableEntity,
	}
}

// InvariantViolation signals a malformed domain value, e.g. a holding
// location without exactly one identifier.
func InvariantViolation(message string) *AppError {
	return &AppError{
		Err:        ErrInvariantViolation,
		Code:       "INVARIANT_VIOLATION",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}
