package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/richxcame/escrow-settlement/pkg/resilience"
)

// Dependency states
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc probes a single dependency
type CheckFunc func(ctx context.Context) error

// DependencyStatus represents the health status of a single dependency
type DependencyStatus struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Critical  bool      `json:"critical"`
	LatencyMs int64     `json:"latency_ms"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// DeepHealthStatus represents the complete health status of the service
type DeepHealthStatus struct {
	Status        string                      `json:"status"`
	Version       string                      `json:"version,omitempty"`
	UptimeSeconds int64                       `json:"uptime_seconds"`
	Dependencies  map[string]DependencyStatus `json:"dependencies"`
	Breakers      map[string]BreakerStatus    `json:"circuit_breakers,omitempty"`
	CheckedAt     time.Time                   `json:"checked_at"`
}

// BreakerStatus represents the status of a circuit breaker
type BreakerStatus struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Allows bool   `json:"allows_requests"`
}

type dependency struct {
	check    CheckFunc
	critical bool
}

// DeepChecker performs health checks on every registered dependency.
// Critical dependencies (Postgres) make the service unhealthy; the rest only degrade it.
type DeepChecker struct {
	mu           sync.RWMutex
	dependencies map[string]dependency
	breakers     map[string]*resilience.CircuitBreaker
	version      string
	startTime    time.Time
	timeout      time.Duration
	cacheTTL     time.Duration
	lastResult   *DeepHealthStatus
	lastChecked  time.Time
}

// DeepCheckerConfig holds configuration for the deep checker
type DeepCheckerConfig struct {
	Version  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// DefaultDeepCheckerConfig returns sensible defaults
func DefaultDeepCheckerConfig() DeepCheckerConfig {
	return DeepCheckerConfig{
		Version:  "unknown",
		Timeout:  5 * time.Second,
		CacheTTL: 10 * time.Second,
	}
}

// NewDeepChecker creates a new deep health checker
func NewDeepChecker(config DeepCheckerConfig) *DeepChecker {
	return &DeepChecker{
		dependencies: make(map[string]dependency),
		breakers:     make(map[string]*resilience.CircuitBreaker),
		version:      config.Version,
		startTime:    time.Now(),
		timeout:      config.Timeout,
		cacheTTL:     config.CacheTTL,
	}
}

// AddCheck registers a named dependency probe
func (d *DeepChecker) AddCheck(name string, critical bool, check CheckFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dependencies[name] = dependency{check: check, critical: critical}
}

// SetDatabase registers the ledger database as a critical dependency
func (d *DeepChecker) SetDatabase(db *sql.DB) {
	d.AddCheck("postgres", true, DatabaseCheck(db))
}

// AddCircuitBreaker adds a circuit breaker to monitor
func (d *DeepChecker) AddCircuitBreaker(name string, breaker *resilience.CircuitBreaker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breakers[name] = breaker
}

// DatabaseCheck pings db and reports pool exhaustion
func DatabaseCheck(db *sql.DB) CheckFunc {
	return func(ctx context.Context) error {
		if db == nil {
			return fmt.Errorf("database connection is nil")
		}
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping failed: %w", err)
		}
		stats := db.Stats()
		if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			return fmt.Errorf("connection pool exhausted: in_use=%d", stats.InUse)
		}
		return nil
	}
}

// PoolCheck pings the pgx pool and reports when every connection is acquired
func PoolCheck(pool *pgxpool.Pool) CheckFunc {
	return func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("database pool is nil")
		}
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("ping failed: %w", err)
		}
		stats := pool.Stat()
		if stats.MaxConns() > 0 && stats.AcquiredConns() >= stats.MaxConns() {
			return fmt.Errorf("connection pool exhausted: acquired=%d", stats.AcquiredConns())
		}
		return nil
	}
}

// Check performs a deep health check on all dependencies
func (d *DeepChecker) Check(ctx context.Context) *DeepHealthStatus {
	d.mu.RLock()
	if d.lastResult != nil && time.Since(d.lastChecked) < d.cacheTTL {
		result := d.lastResult
		d.mu.RUnlock()
		return result
	}
	deps := make(map[string]dependency, len(d.dependencies))
	for name, dep := range d.dependencies {
		deps[name] = dep
	}
	breakers := make(map[string]*resilience.CircuitBreaker, len(d.breakers))
	for name, b := range d.breakers {
		breakers[name] = b
	}
	d.mu.RUnlock()

	status := &DeepHealthStatus{
		Status:        StatusHealthy,
		Version:       d.version,
		UptimeSeconds: int64(time.Since(d.startTime).Seconds()),
		Dependencies:  make(map[string]DependencyStatus, len(deps)),
		Breakers:      make(map[string]BreakerStatus, len(breakers)),
		CheckedAt:     time.Now(),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, dep := range deps {
		wg.Add(1)
		go func(name string, dep dependency) {
			defer wg.Done()
			depStatus := d.run(ctx, name, dep)
			mu.Lock()
			defer mu.Unlock()
			status.Dependencies[name] = depStatus
			if depStatus.Status == StatusUnhealthy {
				if dep.critical {
					status.Status = StatusUnhealthy
				} else if status.Status == StatusHealthy {
					status.Status = StatusDegraded
				}
			}
		}(name, dep)
	}
	wg.Wait()

	for name, breaker := range breakers {
		allows := breaker.Allow()
		if !allows && status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
		status.Breakers[name] = BreakerStatus{
			Name:   name,
			State:  breaker.State(),
			Allows: allows,
		}
	}

	d.mu.Lock()
	d.lastResult = status
	d.lastChecked = time.Now()
	d.mu.Unlock()

	return status
}

func (d *DeepChecker) run(ctx context.Context, name string, dep dependency) DependencyStatus {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result := DependencyStatus{Name: name, Critical: dep.critical, CheckedAt: start, Status: StatusHealthy}
	if err := dep.check(checkCtx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}
	result.LatencyMs = time.Since(start).Milliseconds()
	return result
}

// GinHandler serves the deep check; unhealthy answers 503 so orchestrators stop routing
func (d *DeepChecker) GinHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := d.Check(c.Request.Context())

		httpStatus := http.StatusOK
		if status.Status == StatusUnhealthy {
			httpStatus = http.StatusServiceUnavailable
		}
		c.JSON(httpStatus, status)
	}
}

// IsReady returns true if all critical dependencies are healthy
func (d *DeepChecker) IsReady(ctx context.Context) bool {
	return d.Check(ctx).Status != StatusUnhealthy
}
