package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Common error types that can be used across the application
var (
	ErrNotFound         = new(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists    = new(ErrCodeAlreadyExists, "resource already exists")
	ErrVersionConflict  = new(ErrCodeVersionConflict, "version conflict")
	ErrValidation       = new(ErrCodeValidation, "validation error")
	ErrInvalidOperation = new(ErrCodeInvalidOperation, "invalid operation")
	ErrDatabase         = new(ErrCodeDatabase, "database error")
	ErrSystem           = new(ErrCodeSystemError, "system error")

	// quota and billing-cycle outcomes
	ErrNotSubscribed       = new(ErrCodeNotSubscribed, "no active subscription")
	ErrLimitReached        = new(ErrCodeLimitReached, "ticket limit reached for the current billing period")
	ErrTransient           = new(ErrCodeTransient, "contention retries exhausted")
	ErrInvalidState        = new(ErrCodeInvalidState, "invalid subscription state")
	ErrDuplicateAllocation = new(ErrCodeDuplicateAllocation, "duplicate invoice number allocation")

	// maps errors to http status codes
	statusCodeMap = map[error]int{
		ErrDatabase:            http.StatusInternalServerError,
		ErrNotFound:            http.StatusNotFound,
		ErrAlreadyExists:       http.StatusConflict,
		ErrVersionConflict:     http.StatusConflict,
		ErrValidation:          http.StatusBadRequest,
		ErrInvalidOperation:    http.StatusBadRequest,
		ErrSystem:              http.StatusInternalServerError,
		ErrNotSubscribed:       http.StatusPaymentRequired,
		ErrLimitReached:        http.StatusTooManyRequests,
		ErrTransient:           http.StatusServiceUnavailable,
		ErrInvalidState:        http.StatusInternalServerError,
		ErrDuplicateAllocation: http.StatusInternalServerError,
	}
)

const (
	ErrCodeSystemError         = "system_error"
	ErrCodeNotFound            = "not_found"
	ErrCodeAlreadyExists       = "already_exists"
	ErrCodeVersionConflict     = "version_conflict"
	ErrCodeValidation          = "validation_error"
	ErrCodeInvalidOperation    = "invalid_operation"
	ErrCodeDatabase            = "database_error"
	ErrCodeNotSubscribed       = "not_subscribed"
	ErrCodeLimitReached        = "limit_reached"
	ErrCodeTransient           = "transient"
	ErrCodeInvalidState        = "invalid_state"
	ErrCodeDuplicateAllocation = "duplicate_allocation"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Op      string // Logical operation name
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

// New creates a new InternalError
func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Is(err, reference error) bool {
	return errors.Is(err, reference)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsVersionConflict checks if an error is a version conflict error
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidOperation checks if an error is an invalid operation error
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

func IsNotSubscribed(err error) bool {
	return errors.Is(err, ErrNotSubscribed)
}

func IsLimitReached(err error) bool {
	return errors.Is(err, ErrLimitReached)
}

// IsTransient reports whether the caller may retry the operation at a higher level
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

func IsDuplicateAllocation(err error) bool {
	return errors.Is(err, ErrDuplicateAllocation)
}

func IsDatabase(err error) bool {
	return errors.Is(err, ErrDatabase)
}

// precedence lists the sentinels from most to least specific, an error
// carrying several marks maps to the first one
var precedence = []error{
	ErrTransient,
	ErrDuplicateAllocation,
	ErrInvalidState,
	ErrNotSubscribed,
	ErrLimitReached,
	ErrVersionConflict,
	ErrAlreadyExists,
	ErrNotFound,
	ErrValidation,
	ErrInvalidOperation,
	ErrDatabase,
	ErrSystem,
}

func HTTPStatusFromErr(err error) int {
	for _, e := range precedence {
		if errors.Is(err, e) {
			return statusCodeMap[e]
		}
	}
	return http.StatusInternalServerError
}

// CodeFromErr returns the machine-readable code of the first sentinel the error is marked with
func CodeFromErr(err error) string {
	for _, e := range precedence {
		if errors.Is(err, e) {
			return e.(*InternalError).Code
		}
	}
	return ErrCodeSystemError
}
