package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/escrow-settlement/pkg/logger"
)

// Response is the envelope every endpoint answers with. RequestID echoes X-Request-ID so a
// customer reporting a failed payment can quote it.
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Meta      *Meta       `json:"meta,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// ErrorInfo describes a failure. ErrorCode is stable for clients; Fields holds per-field
// validation messages.
type ErrorInfo struct {
	Code      int               `json:"code"`
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Meta describes a page of a listing
type Meta struct {
	Limit      int   `json:"limit,omitempty"`
	Offset     int   `json:"offset,omitempty"`
	Total      int64 `json:"total,omitempty"`
	TotalPages int   `json:"total_pages,omitempty"`
}

func respond(c *gin.Context, status int, body Response) {
	body.RequestID = logger.CorrelationIDFromContext(c.Request.Context())
	c.JSON(status, body)
}

// SuccessResponse answers 200 with data
func SuccessResponse(c *gin.Context, data interface{}) {
	respond(c, http.StatusOK, Response{Success: true, Data: data})
}

// SuccessResponseWithStatus answers with a custom status, e.g. 202 for a queued payment
func SuccessResponseWithStatus(c *gin.Context, status int, data interface{}, message string) {
	respond(c, status, Response{Success: true, Data: data, Message: message})
}

// SuccessResponseWithMeta answers 200 with a page of data
func SuccessResponseWithMeta(c *gin.Context, data interface{}, meta *Meta) {
	respond(c, http.StatusOK, Response{Success: true, Data: data, Meta: meta})
}

// CreatedResponse answers 201 with data
func CreatedResponse(c *gin.Context, data interface{}) {
	respond(c, http.StatusCreated, Response{Success: true, Data: data})
}

// ErrorResponse answers with a bare error message
func ErrorResponse(c *gin.Context, status int, message string) {
	respond(c, status, Response{Error: &ErrorInfo{Code: status, Message: message}})
}

// AppErrorResponse answers with an AppError's status, code and message
func AppErrorResponse(c *gin.Context, err *AppError) {
	respond(c, err.Code, Response{Error: &ErrorInfo{
		Code:      err.Code,
		ErrorCode: err.ErrorCode,
		Message:   err.Message,
	}})
}

// ValidationErrorResponse answers 400 with per-field messages
func ValidationErrorResponse(c *gin.Context, fields map[string]string) {
	respond(c, http.StatusBadRequest, Response{Error: &ErrorInfo{
		Code:      http.StatusBadRequest,
		ErrorCode: CodeValidation,
		Message:   "request validation failed",
		Fields:    fields,
	}})
}
