package common_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/richxcame/escrow-settlement/pkg/common"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		fallbackMsg    string
		expectHandled  bool
		expectStatus   int
		expectContains string
	}{
		{
			name:          "nil error returns false",
			err:           nil,
			fallbackMsg:   "failed",
			expectHandled: false,
		},
		{
			name:           "AppError is handled",
			err:            common.NewNotFoundError("transaction not found", nil),
			fallbackMsg:    "failed to get transaction",
			expectHandled:  true,
			expectStatus:   http.StatusNotFound,
			expectContains: "transaction not found",
		},
		{
			name:           "regular error uses fallback",
			err:            errors.New("database error"),
			fallbackMsg:    "failed to get transaction",
			expectHandled:  true,
			expectStatus:   http.StatusInternalServerError,
			expectContains: "failed to get transaction",
		},
		{
			name:           "wrapped insufficient balance",
			err:            fmt.Errorf("withdraw: %w", common.ErrInsufficientBalance),
			fallbackMsg:    "failed",
			expectHandled:  true,
			expectStatus:   http.StatusUnprocessableEntity,
			expectContains: common.CodeInsufficientBalance,
		},
		{
			name:           "invalid state transition is a conflict",
			err:            common.ErrInvalidStateTransition,
			fallbackMsg:    "failed",
			expectHandled:  true,
			expectStatus:   http.StatusConflict,
			expectContains: common.CodeInvalidStateTransition,
		},
		{
			name:           "amount out of range",
			err:            common.ErrAmountOutOfRange,
			fallbackMsg:    "failed",
			expectHandled:  true,
			expectStatus:   http.StatusBadRequest,
			expectContains: common.CodeAmountOutOfRange,
		},
		{
			name:           "wrapped validation error is a bad request",
			err:            fmt.Errorf("%w: promo code has expired", common.ErrValidation),
			fallbackMsg:    "failed",
			expectHandled:  true,
			expectStatus:   http.StatusBadRequest,
			expectContains: "promo code has expired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/test", nil)

			handled := common.HandleServiceError(c, tt.err, tt.fallbackMsg)
			assert.Equal(t, tt.expectHandled, handled)

			if tt.expectHandled {
				assert.Equal(t, tt.expectStatus, w.Code)
				assert.Contains(t, w.Body.String(), tt.expectContains)
			}
		})
	}
}

func TestNewDomainError_UnwrapsToSentinel(t *testing.T) {
	appErr := common.NewDomainError("release rejected", common.ErrOverRelease)

	assert.Equal(t, http.StatusConflict, appErr.Code)
	assert.Equal(t, common.CodeOverRelease, appErr.ErrorCode)
	assert.True(t, errors.Is(appErr, common.ErrOverRelease))
	assert.True(t, common.IsHighSeverity(appErr))
	assert.False(t, common.IsHighSeverity(common.ErrInsufficientBalance))
}

func TestParseUUIDParam(t *testing.T) {
	valid := uuid.New()

	tests := []struct {
		name       string
		value      string
		expectOK   bool
		expectCode int
	}{
		{name: "valid uuid", value: valid.String(), expectOK: true},
		{name: "empty", value: "", expectOK: false, expectCode: http.StatusBadRequest},
		{name: "garbage", value: "not-a-uuid", expectOK: false, expectCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/test", nil)
			c.Params = gin.Params{{Key: "id", Value: tt.value}}

			id, ok := common.ParseUUIDParam(c, "id", "transaction ID")
			assert.Equal(t, tt.expectOK, ok)
			if tt.expectOK {
				assert.Equal(t, valid, id)
				return
			}
			assert.Equal(t, tt.expectCode, w.Code)
		})
	}
}

func TestBindJSON(t *testing.T) {
	type payload struct {
		Amount int64 `json:"amount" binding:"required,gt=0"`
	}

	t.Run("valid body", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"amount":100}`))
		c.Request.Header.Set("Content-Type", "application/json")

		var p payload
		assert.True(t, common.BindJSON(c, &p))
		assert.Equal(t, int64(100), p.Amount)
	})

	t.Run("missing field", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{}`))
		c.Request.Header.Set("Content-Type", "application/json")

		var p payload
		assert.False(t, common.BindJSON(c, &p))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), common.CodeValidation)
		assert.Contains(t, w.Body.String(), `"amount"`)
	})

	t.Run("malformed json", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"amount":`))
		c.Request.Header.Set("Content-Type", "application/json")

		var p payload
		assert.False(t, common.BindJSON(c, &p))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NotContains(t, w.Body.String(), common.CodeValidation)
	})
}

func TestReadinessProbe(t *testing.T) {
	router := gin.New()
	router.GET("/ready", common.ReadinessProbe("settlement", "test", map[string]func() error{
		"database": func() error { return nil },
		"redis":    func() error { return errors.New("connection refused") },
	}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
	assert.Contains(t, w.Body.String(), `"status":"not ready"`)
}
