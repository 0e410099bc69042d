package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richxcame/escrow-settlement/pkg/logger"
)

const (
	// CorrelationIDHeader carries the request ID in and out
	CorrelationIDHeader = "X-Request-ID"
	// CorrelationIDKey is the gin context key
	CorrelationIDKey = "correlation_id"
)

// CorrelationID accepts a caller supplied UUID request ID or mints one, echoes it back and
// puts it on the request context so log lines and outbound Daraja calls carry it.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.GetHeader(CorrelationIDHeader))
		if err != nil {
			id = uuid.New()
		}
		correlationID := id.String()

		c.Set(CorrelationIDKey, correlationID)
		c.Request = c.Request.WithContext(logger.ContextWithCorrelationID(c.Request.Context(), correlationID))
		c.Header(CorrelationIDHeader, correlationID)
		c.Next()
	}
}

// GetCorrelationID returns the request ID set by CorrelationID
func GetCorrelationID(c *gin.Context) string {
	if id := c.GetString(CorrelationIDKey); id != "" {
		return id
	}
	return logger.CorrelationIDFromContext(c.Request.Context())
}
