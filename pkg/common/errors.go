package common

import (
	"errors"
	"net/http"
)

// Common error types
var (
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
	ErrConflict       = errors.New("resource conflict")
	ErrValidation     = errors.New("validation error")
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("expired token")
)

// Settlement error taxonomy
var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrOverRelease            = errors.New("release exceeds outstanding hold")
	ErrInvalidStateTransition = errors.New("invalid escrow state transition")
	ErrGatewayUnavailable     = errors.New("payment gateway unavailable")
	ErrAmountOutOfRange       = errors.New("amount out of range")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrDuplicateCallback      = errors.New("duplicate gateway callback")
	ErrReconciliationTimeout  = errors.New("reconciliation timed out")
)

// Machine readable error codes returned in ErrorInfo.ErrorCode
const (
	CodeInvalidAmount          = "INVALID_AMOUNT"
	CodeOverRelease            = "OVER_RELEASE"
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	CodeGatewayUnavailable     = "GATEWAY_UNAVAILABLE"
	CodeAmountOutOfRange       = "AMOUNT_OUT_OF_RANGE"
	CodeInsufficientBalance    = "INSUFFICIENT_BALANCE"
	CodeDuplicateCallback      = "DUPLICATE_CALLBACK"
	CodeReconciliationTimeout  = "RECONCILIATION_TIMEOUT"
	CodeValidation             = "VALIDATION_FAILED"
)

// AppError represents an application error with HTTP status code
type AppError struct {
	Code      int    `json:"code"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message"`
	Err       error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes the wrapped error to errors.Is / errors.As
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func NewNotFoundError(message string, err error) *AppError {
	if err == nil {
		err = ErrNotFound
	}
	return &AppError{
		Code:    http.StatusNotFound,
		Message: message,
		Err:     err,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Message: message,
		Err:     ErrUnauthorized,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    http.StatusForbidden,
		Message: message,
		Err:     ErrForbidden,
	}
}

func NewBadRequestError(message string, err error) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    http.StatusInternalServerError,
		Message: message,
		Err:     err,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Code:    http.StatusConflict,
		Message: message,
		Err:     ErrConflict,
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Message: message,
		Err:     ErrValidation,
	}
}

// NewDomainError wraps one of the settlement sentinels with its HTTP status and error code.
// Unknown errors become internal errors.
func NewDomainError(message string, err error) *AppError {
	code, errorCode := classify(err)
	if message == "" {
		message = err.Error()
	}
	return &AppError{
		Code:      code,
		ErrorCode: errorCode,
		Message:   message,
		Err:       err,
	}
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest, CodeInvalidAmount
	case errors.Is(err, ErrAmountOutOfRange):
		return http.StatusBadRequest, CodeAmountOutOfRange
	case errors.Is(err, ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, CodeInsufficientBalance
	case errors.Is(err, ErrOverRelease):
		return http.StatusConflict, CodeOverRelease
	case errors.Is(err, ErrInvalidStateTransition):
		return http.StatusConflict, CodeInvalidStateTransition
	case errors.Is(err, ErrDuplicateCallback):
		return http.StatusOK, CodeDuplicateCallback
	case errors.Is(err, ErrGatewayUnavailable):
		return http.StatusAccepted, CodeGatewayUnavailable
	case errors.Is(err, ErrReconciliationTimeout):
		return http.StatusAccepted, CodeReconciliationTimeout
	case errors.Is(err, ErrValidation), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, ""
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, ""
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, ""
	default:
		return http.StatusInternalServerError, ""
	}
}

// IsHighSeverity reports whether err indicates an ordering bug or a race that operators
// must look at rather than a caller mistake.
func IsHighSeverity(err error) bool {
	return errors.Is(err, ErrOverRelease) || errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrReconciliationTimeout)
}
