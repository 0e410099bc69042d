package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"go.uber.org/zap"
)

// CallbackToken guards gateway callback routes. Daraja cannot send custom headers, so the
// shared secret travels as the :token path segment of the registered callback URL.
func CallbackToken(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expected == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "callback token not configured",
			})
			return
		}

		provided := c.Param("token")
		if subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
			logger.WarnContext(c.Request.Context(), "rejected gateway callback",
				zap.String("path", c.FullPath()),
				zap.String("client_ip", c.ClientIP()),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid callback token",
			})
			return
		}

		c.Next()
	}
}
