package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richxcame/escrow-settlement/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timeoutRouter(cfg *config.TimeoutConfig, method, path string, work time.Duration) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CorrelationID())
	router.Use(RequestTimeout(cfg))
	router.Handle(method, path, func(c *gin.Context) {
		time.Sleep(work)
		c.JSON(http.StatusOK, gin.H{"status": "pending"})
	})
	return router
}

func TestRequestTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps past the request budget")
	}

	cfg := &config.TimeoutConfig{
		DefaultRequestTimeout: 1,
		RouteOverrides: map[string]int{
			"POST:/api/v1/booking-payment": 3,
		},
	}

	tests := []struct {
		name     string
		method   string
		path     string
		work     time.Duration
		wantCode int
	}{
		{name: "fast wallet read", method: http.MethodGet, path: "/api/v1/wallet/d1", work: 50 * time.Millisecond, wantCode: http.StatusOK},
		{name: "slow wallet read times out", method: http.MethodGet, path: "/api/v1/wallet/d1", work: 1500 * time.Millisecond, wantCode: http.StatusGatewayTimeout},
		{name: "booking payment gets its longer budget", method: http.MethodPost, path: "/api/v1/booking-payment", work: 1500 * time.Millisecond, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route := tt.path
			if tt.path == "/api/v1/wallet/d1" {
				route = "/api/v1/wallet/:driver_id"
			}
			router := timeoutRouter(cfg, tt.method, route, tt.work)

			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set(CorrelationIDHeader, "550e8400-e29b-41d4-a716-446655440000")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", w.Header().Get(CorrelationIDHeader))
			if tt.wantCode == http.StatusGatewayTimeout {
				assert.Equal(t, "true", w.Header().Get("X-Timeout"))
			} else {
				assert.Empty(t, w.Header().Get("X-Timeout"))
			}
		})
	}
}

func TestRequestTimeout_SurvivesPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestTimeout(&config.TimeoutConfig{DefaultRequestTimeout: 1}))
	router.POST("/api/v1/withdraw", func(c *gin.Context) {
		panic("ledger exploded")
	})

	w := httptest.NewRecorder()
	require.NotPanics(t, func() {
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/withdraw", nil))
	})
}

func TestTimeoutForRoute(t *testing.T) {
	cfg := config.TimeoutConfig{
		DefaultRequestTimeout: 10,
		RouteOverrides:        map[string]int{"POST:/api/v1/withdraw": 25},
	}

	assert.Equal(t, 25*time.Second, cfg.TimeoutForRoute("POST:/api/v1/withdraw"))
	assert.Equal(t, 10*time.Second, cfg.TimeoutForRoute("GET:/api/v1/escrow"))
}
