package common

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]CheckStatus `json:"checks,omitempty"`
}

// CheckStatus represents the status of a single health check
type CheckStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Duration  string `json:"duration,omitempty"`
	Timestamp string `json:"timestamp"`
}

var startTime = time.Now()

// HealthCheck returns a liveness handler. It never inspects dependencies.
func HealthCheck(serviceName, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:    "healthy",
			Service:   serviceName,
			Version:   version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(startTime).String(),
		})
	}
}

// ReadinessProbe runs every dependency check in parallel and answers 503 when any fails.
func ReadinessProbe(serviceName, version string, checks map[string]func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		now := time.Now().UTC()
		results, healthy := runChecks(checks, now)

		status, code := "ready", http.StatusOK
		if !healthy {
			status, code = "not ready", http.StatusServiceUnavailable
		}

		c.JSON(code, HealthResponse{
			Status:    status,
			Service:   serviceName,
			Version:   version,
			Timestamp: now.Format(time.RFC3339),
			Uptime:    time.Since(startTime).String(),
			Checks:    results,
		})
	}
}

func runChecks(checks map[string]func() error, now time.Time) (map[string]CheckStatus, bool) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		healthy = true
		results = make(map[string]CheckStatus, len(checks))
	)

	for name, check := range checks {
		wg.Add(1)
		go func(name string, check func() error) {
			defer wg.Done()
			start := time.Now()
			err := check()
			st := CheckStatus{
				Status:    "healthy",
				Duration:  time.Since(start).String(),
				Timestamp: now.Format(time.RFC3339),
			}
			if err != nil {
				st.Status = "unhealthy"
				st.Message = err.Error()
			}

			mu.Lock()
			results[name] = st
			if err != nil {
				healthy = false
			}
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	return results, healthy
}
