package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func setupCallbackRouter(token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/callbacks/mpesa/stk/:token", CallbackToken(token), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

func TestCallbackToken_NotConfigured(t *testing.T) {
	r := setupCallbackRouter("")
	req := httptest.NewRequest(http.MethodPost, "/callbacks/mpesa/stk/anything", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "not configured")
}

func TestCallbackToken_WrongToken(t *testing.T) {
	r := setupCallbackRouter("s3cret")
	req := httptest.NewRequest(http.MethodPost, "/callbacks/mpesa/stk/guess", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid callback token")
}

func TestCallbackToken_CorrectToken(t *testing.T) {
	r := setupCallbackRouter("s3cret")
	req := httptest.NewRequest(http.MethodPost, "/callbacks/mpesa/stk/s3cret", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}
