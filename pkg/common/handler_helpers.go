package common

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"github.com/richxcame/escrow-settlement/pkg/validation"
	"go.uber.org/zap"
)

// HandleServiceError writes the response for a failed service call and reports whether it
// did. AppErrors and settlement sentinels keep their status; anything else is logged and
// answered with a 500 carrying fallbackMessage. Server side failures are attached to the
// gin context for Sentry.
func HandleServiceError(c *gin.Context, err error, fallbackMessage string) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = NewDomainError("", err)
	}

	switch {
	case appErr.Code >= http.StatusInternalServerError:
		logger.ErrorContext(c.Request.Context(), fallbackMessage, zap.Error(err))
		_ = c.Error(err)
		if appErr.Err == err {
			// unclassified error: do not leak its text
			ErrorResponse(c, http.StatusInternalServerError, fallbackMessage)
			return true
		}
	case IsHighSeverity(err):
		logger.ErrorContext(c.Request.Context(), fallbackMessage, zap.Error(err))
		_ = c.Error(err)
	}

	AppErrorResponse(c, appErr)
	return true
}

// ParseUUIDParam reads a UUID path parameter, answering 400 when it is missing or malformed
func ParseUUIDParam(c *gin.Context, param, displayName string) (uuid.UUID, bool) {
	raw := c.Param(param)
	if raw == "" {
		ErrorResponse(c, http.StatusBadRequest, displayName+" is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid "+displayName)
		return uuid.Nil, false
	}
	return id, true
}

// BindJSON binds and validates the request body, answering 400 on failure
func BindJSON(c *gin.Context, obj interface{}) bool {
	return bound(c, c.ShouldBindJSON(obj))
}

// BindQuery binds and validates query parameters, answering 400 on failure
func BindQuery(c *gin.Context, obj interface{}) bool {
	return bound(c, c.ShouldBindQuery(obj))
}

func bound(c *gin.Context, err error) bool {
	if err == nil {
		return true
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		ValidationErrorResponse(c, validation.NewValidationError(fieldErrs).Errors)
		return false
	}
	ErrorResponse(c, http.StatusBadRequest, "malformed request: "+err.Error())
	return false
}
