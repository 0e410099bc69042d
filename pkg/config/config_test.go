package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("settlement-test")
	require.NoError(t, err)

	assert.Equal(t, "settlement-test", cfg.Server.ServiceName)
	assert.Equal(t, int64(100), cfg.MPesa.MinAmount)
	assert.Equal(t, int64(50000), cfg.MPesa.MaxAmount)
	assert.Equal(t, int64(0), cfg.Escrow.PlatformFeeBPS)
	assert.Equal(t, 12, cfg.Settlement.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Settlement.PollInterval())
	assert.Equal(t, 10*time.Second, cfg.Settlement.InitialDelay())
	assert.Equal(t, DefaultHTTPClientTimeout*time.Second, cfg.Timeout.HTTPClientDuration())
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("MPESA_MIN_AMOUNT", "10")
	t.Setenv("MPESA_MAX_AMOUNT", "150000")
	t.Setenv("ESCROW_PLATFORM_FEE_BPS", "1500")
	t.Setenv("RECONCILER_MAX_ATTEMPTS", "3")
	t.Setenv("RECONCILER_BACKOFF_MULTIPLIER", "2.5")
	t.Setenv("CB_SERVICE_OVERRIDES", `{"mpesa-daraja":{"failure_threshold":9,"timeout_seconds":15}}`)
	t.Setenv("ROUTE_TIMEOUTS", `{"POST:/api/v1/booking-payment":45}`)

	cfg, err := Load("settlement-test")
	require.NoError(t, err)

	assert.Equal(t, int64(10), cfg.MPesa.MinAmount)
	assert.Equal(t, int64(150000), cfg.MPesa.MaxAmount)
	assert.Equal(t, int64(1500), cfg.Escrow.PlatformFeeBPS)
	assert.Equal(t, 3, cfg.Settlement.MaxAttempts)
	assert.Equal(t, 2.5, cfg.Settlement.BackoffMultiplier)

	breaker := cfg.Resilience.CircuitBreaker.SettingsFor("mpesa-daraja")
	assert.Equal(t, 9, breaker.FailureThreshold)
	assert.Equal(t, 15, breaker.TimeoutSeconds)
	assert.Equal(t, 1, breaker.SuccessThreshold)

	assert.Equal(t, 45*time.Second, cfg.Timeout.TimeoutForRoute("POST:/api/v1/booking-payment"))
	assert.Equal(t, DefaultRequestTimeout*time.Second, cfg.Timeout.TimeoutForRoute("GET:/api/v1/escrow"))
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		message string
	}{
		{name: "inverted amount bounds", key: "MPESA_MIN_AMOUNT", value: "60000", message: "MPESA_MIN_AMOUNT"},
		{name: "fee above 100 percent", key: "ESCROW_PLATFORM_FEE_BPS", value: "10001", message: "ESCROW_PLATFORM_FEE_BPS"},
		{name: "zero attempts", key: "RECONCILER_MAX_ATTEMPTS", value: "0", message: "RECONCILER_MAX_ATTEMPTS"},
		{name: "http timeout too large", key: "HTTP_CLIENT_TIMEOUT", value: "999", message: "HTTP_CLIENT_TIMEOUT"},
		{name: "malformed breaker overrides", key: "CB_SERVICE_OVERRIDES", value: "{", message: "CB_SERVICE_OVERRIDES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load("settlement-test")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestDatabaseConfig_URL(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: "5432", User: "svc", Password: "p@ss", DBName: "settlement", SSLMode: "disable"}

	assert.Equal(t, "postgres://svc:p%40ss@db:5432/settlement?sslmode=disable", cfg.URL())
	assert.Contains(t, cfg.DSN(), "dbname=settlement")
}

func TestServerConfig_Origins(t *testing.T) {
	cfg := ServerConfig{CORSOrigins: "https://app.example.com, ,http://localhost:3000"}
	assert.Equal(t, []string{"https://app.example.com", "http://localhost:3000"}, cfg.Origins())
}
