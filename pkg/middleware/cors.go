package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS allows the booking frontend origins. An empty list falls back to the local dev server.
func CORS(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = origins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{
		"Origin", "Content-Type", "Content-Length", "Accept", "Authorization",
		IdempotencyKeyHeader, CorrelationIDHeader,
	}
	corsConfig.ExposeHeaders = []string{CorrelationIDHeader, IdempotentReplayHeader}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 24 * time.Hour

	return cors.New(corsConfig)
}
