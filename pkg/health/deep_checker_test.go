package health_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/richxcame/escrow-settlement/pkg/health"
	"github.com/richxcame/escrow-settlement/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChecker() *health.DeepChecker {
	cfg := health.DefaultDeepCheckerConfig()
	cfg.CacheTTL = 0
	cfg.Version = "1.0.0"
	return health.NewDeepChecker(cfg)
}

func TestDeepChecker_CheckWithNoDependencies(t *testing.T) {
	status := newChecker().Check(context.Background())

	assert.Equal(t, health.StatusHealthy, status.Status)
	assert.Empty(t, status.Dependencies)
	assert.Empty(t, status.Breakers)
	assert.Equal(t, "1.0.0", status.Version)
}

func TestDeepChecker_Database(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	checker := newChecker()
	checker.SetDatabase(db)

	mock.ExpectPing()
	status := checker.Check(context.Background())
	assert.Equal(t, health.StatusHealthy, status.Status)
	assert.Equal(t, health.StatusHealthy, status.Dependencies["postgres"].Status)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	status = checker.Check(context.Background())
	assert.Equal(t, health.StatusUnhealthy, status.Status)
	assert.Contains(t, status.Dependencies["postgres"].Message, "connection refused")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeepChecker_NonCriticalDegrades(t *testing.T) {
	checker := newChecker()
	checker.AddCheck("nats", false, func(context.Context) error { return errors.New("not connected") })
	checker.AddCheck("redis", false, func(context.Context) error { return nil })

	status := checker.Check(context.Background())
	assert.Equal(t, health.StatusDegraded, status.Status)
	assert.Equal(t, health.StatusUnhealthy, status.Dependencies["nats"].Status)
	assert.Equal(t, health.StatusHealthy, status.Dependencies["redis"].Status)
	assert.True(t, checker.IsReady(context.Background()))
}

func TestDeepChecker_CircuitBreaker(t *testing.T) {
	checker := newChecker()
	breaker := resilience.NewCircuitBreaker(resilience.Settings{
		Name:             "mpesa-test",
		FailureThreshold: 5,
	}, nil)
	checker.AddCircuitBreaker("mpesa", breaker)

	status := checker.Check(context.Background())

	require.Len(t, status.Breakers, 1)
	assert.Equal(t, "closed", status.Breakers["mpesa"].State)
	assert.True(t, status.Breakers["mpesa"].Allows)
}

func TestDeepChecker_CachesResults(t *testing.T) {
	cfg := health.DefaultDeepCheckerConfig()
	cfg.CacheTTL = time.Minute
	checker := health.NewDeepChecker(cfg)

	calls := 0
	checker.AddCheck("redis", false, func(context.Context) error {
		calls++
		return nil
	})

	checker.Check(context.Background())
	checker.Check(context.Background())
	assert.Equal(t, 1, calls)
}

func TestDeepChecker_GinHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	checker := newChecker()
	checker.AddCheck("postgres", true, func(context.Context) error { return errors.New("down") })

	r := gin.New()
	r.GET("/health/deep", checker.GinHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/deep", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"unhealthy"`)
}
