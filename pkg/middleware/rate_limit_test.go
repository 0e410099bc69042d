package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/richxcame/escrow-settlement/pkg/config"
	"github.com/richxcame/escrow-settlement/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
)

func TestRateLimit_DisabledPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimit(nil, config.RateLimitConfig{}))
	router.GET("/wallet", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/wallet", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_RedisFailureAllows(t *testing.T) {
	// Arrange
	gin.SetMode(gin.TestMode)
	client, mock := redismock.NewClientMock()
	cfg := config.RateLimitConfig{Enabled: true, WindowSeconds: 60, DefaultLimit: 10, AnonymousLimit: 5, RedisPrefix: "rl"}
	limiter := ratelimit.NewLimiter(client, cfg)
	limiter.WithNow(func() time.Time { return time.UnixMilli(1_700_000_000_000) })
	mock.MatchExpectationsInOrder(false)

	userID := uuid.New()
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(UserIDKey, userID)
		c.Next()
	})
	router.Use(RateLimit(limiter, cfg))
	router.POST("/withdraw", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	// Act
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/withdraw", nil))

	// Assert
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestCeilSeconds(t *testing.T) {
	assert.Equal(t, 0, ceilSeconds(0))
	assert.Equal(t, 1, ceilSeconds(200*time.Millisecond))
	assert.Equal(t, 2, ceilSeconds(2*time.Second))
	assert.Equal(t, 3, ceilSeconds(2001*time.Millisecond))
}
