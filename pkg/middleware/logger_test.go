package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/escrow-settlement/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	previous := logger.Get()
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(previous) })
	return logs
}

func TestRequestLogger_SuccessOmitsBodies(t *testing.T) {
	logs := observeLogs(t)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestLogger("settlement-test"))

	var received string
	router.POST("/withdraw", func(c *gin.Context) {
		b, _ := io.ReadAll(c.Request.Body)
		received = string(b)
		c.JSON(http.StatusAccepted, gin.H{"status": "pending"})
	})

	body := `{"amount":1000,"phone_number":"254712345678"}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/withdraw", strings.NewReader(body)))

	assert.Equal(t, body, received)
	entries := logs.FilterMessage("Request completed").All()
	require.Len(t, entries, 1)
	_, hasBody := entries[0].ContextMap()["request_body"]
	assert.False(t, hasBody)
}

func TestRequestLogger_RejectedMasksPhone(t *testing.T) {
	logs := observeLogs(t)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestLogger("settlement-test"))
	router.POST("/withdraw", func(c *gin.Context) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient balance"})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/withdraw",
		strings.NewReader(`{"amount":5000,"phone_number":"254712345678"}`)))

	entries := logs.FilterMessage("Request rejected").All()
	require.Len(t, entries, 1)
	reqBody, _ := entries[0].ContextMap()["request_body"].(string)
	assert.Contains(t, reqBody, "5000")
	assert.NotContains(t, reqBody, "254712345678")
}

func TestMaskBody_Truncates(t *testing.T) {
	s := maskBody([]byte(strings.Repeat("a", maxLoggedBody+10)))
	assert.True(t, strings.HasSuffix(s, "...(truncated)"))
	assert.Len(t, s, maxLoggedBody+len("...(truncated)"))
}
