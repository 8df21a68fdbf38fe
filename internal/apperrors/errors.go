package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound indicates that a requested resource could not be found.
var ErrNotFound = errors.New("resource not found")

// ErrForbidden indicates that the actor lacks the capability required for the operation.
var ErrForbidden = errors.New("forbidden")

// ErrInvalidState indicates that the operation is not valid for the current logical state.
var ErrInvalidState = errors.New("invalid state")

// ErrConflict indicates that a concurrency guard tripped or a delete was blocked by active runs.
var ErrConflict = errors.New("conflict")

// ErrPolicyViolation indicates that a hierarchy policy limit would be exceeded.
var ErrPolicyViolation = errors.New("policy violation")

// ErrCycle indicates that a re-parent would make an account its own ancestor.
var ErrCycle = errors.New("hierarchy cycle")

// ErrValidation indicates that input data failed validation checks.
var ErrValidation = errors.New("validation error")

// ErrDuplicate indicates that an attempt was made to create a resource that already exists.
var ErrDuplicate = errors.New("resource already exists")

// ErrIndexNotReady is returned by best-effort reads when a secondary index is not available yet.
// Only read paths that tolerate an empty result may swallow it.
var ErrIndexNotReady = errors.New("index not ready")

// AppError carries a status code and message alongside the underlying cause.
type AppError struct {
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError wraps err with a status code and message.
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func NewNotFoundError(message string) *AppError {
	return NewAppError(http.StatusNotFound, message, ErrNotFound)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(http.StatusForbidden, message, ErrForbidden)
}

func NewInvalidStateError(message string) *AppError {
	return NewAppError(http.StatusConflict, message, ErrInvalidState)
}

func NewConflictError(message string) *AppError {
	return NewAppError(http.StatusConflict, message, ErrConflict)
}

func NewPolicyViolationError(message string) *AppError {
	return NewAppError(http.StatusUnprocessableEntity, message, ErrPolicyViolation)
}

func NewCycleError(message string) *AppError {
	return NewAppError(http.StatusConflict, message, ErrCycle)
}

func NewValidationFailedError(message string) *AppError {
	return NewAppError(http.StatusBadRequest, message, ErrValidation)
}

// ActiveRunConflictError is returned when a job already owns an active (pending or running) run.
type ActiveRunConflictError struct {
	JobID       string
	ActiveRunID string
}

func (e *ActiveRunConflictError) Error() string {
	return fmt.Sprintf("job %s already has an active run %s", e.JobID, e.ActiveRunID)
}

func (e *ActiveRunConflictError) Unwrap() error {
	return ErrConflict
}

// ActiveRunID extracts the conflicting run id from err, if any.
func ActiveRunID(err error) (string, bool) {
	var conflict *ActiveRunConflictError
	if errors.As(err, &conflict) {
		return conflict.ActiveRunID, true
	}
	return "", false
}

// HTTPStatus maps an error from the core to the status code the transport should use.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrConflict), errors.Is(err, ErrCycle), errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrPolicyViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != 0 {
		return appErr.Code
	}
	return http.StatusInternalServerError
}
