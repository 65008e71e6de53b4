package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheckResponse represents a comprehensive health check response
type HealthCheckResponse struct {
	Status        HealthStatus           `json:"status"`
	Timestamp     string                 `json:"timestamp"`
	EngineVersion string                 `json:"engine_version"`
	GitCommit     string                 `json:"git_commit,omitempty"`
	BuildTime     string                 `json:"build_time,omitempty"`
	Uptime        string                 `json:"uptime"`
	Checks        map[string]HealthCheck `json:"checks"`
	System        SystemInfo             `json:"system"`
	RequestID     string                 `json:"request_id,omitempty"`
}

// HealthCheck represents an individual health check
type HealthCheck struct {
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	LastChecked string       `json:"last_checked"`
	Duration    string       `json:"duration,omitempty"`
}

// SystemInfo contains system information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	NumCPU        int    `json:"num_cpu"`
	GOMAXPROCS    int    `json:"gomaxprocs"`
	MemoryAlloc   uint64 `json:"memory_alloc_bytes"`
	MemorySys     uint64 `json:"memory_sys_bytes"`
	GCCycles      uint32 `json:"gc_cycles"`
}

// worst folds a check into the overall status.
func worst(overall, check HealthStatus) HealthStatus {
	switch {
	case overall == HealthStatusUnhealthy || check == HealthStatusUnhealthy:
		return HealthStatusUnhealthy
	case overall == HealthStatusDegraded || check == HealthStatusDegraded:
		return HealthStatusDegraded
	default:
		return HealthStatusHealthy
	}
}

func (s *Server) runChecks(ctx context.Context) (HealthStatus, map[string]HealthCheck) {
	checks := map[string]HealthCheck{
		"database": s.checkDatabaseHealth(ctx),
		"board":    s.checkBoardHealth(),
		"drops":    s.checkDropsHealth(),
		"scanner":  s.checkScannerHealth(),
	}
	overall := HealthStatusHealthy
	for _, c := range checks {
		overall = worst(overall, c.Status)
	}
	return overall, checks
}

// handleHealthCheck provides comprehensive health check endpoint
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	overall, checks := s.runChecks(r.Context())

	response := HealthCheckResponse{
		Status:        overall,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		EngineVersion: EngineVersion,
		GitCommit:     GitCommit,
		BuildTime:     BuildTime,
		Uptime:        time.Since(s.startTime).String(),
		Checks:        checks,
		System:        getSystemInfo(),
		RequestID:     middleware.GetReqID(r.Context()),
	}

	statusCode := http.StatusOK
	if overall == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	s.writeJSON(w, statusCode, response)
}

// handleReadiness reports whether drops can be served.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	overall, checks := s.runChecks(r.Context())

	ready := overall != HealthStatusUnhealthy
	message := "Ready"
	if !ready {
		for name, c := range checks {
			if c.Status == HealthStatusUnhealthy {
				message = fmt.Sprintf("%s: %s", name, c.Message)
				break
			}
		}
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	s.writeJSON(w, statusCode, map[string]interface{}{
		"ready":          ready,
		"message":        message,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"engine_version": EngineVersion,
		"request_id":     middleware.GetReqID(r.Context()),
	})
}

// handleLiveness provides the liveness endpoint
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alive":          true,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"engine_version": EngineVersion,
		"uptime":         time.Since(s.startTime).String(),
		"request_id":     middleware.GetReqID(r.Context()),
	})
}

func timedCheck(fn func() (HealthStatus, string)) HealthCheck {
	start := time.Now()
	status, message := fn()
	return HealthCheck{
		Status:      status,
		Message:     message,
		LastChecked: time.Now().UTC().Format(time.RFC3339),
		Duration:    time.Since(start).String(),
	}
}

func (s *Server) checkDatabaseHealth(ctx context.Context) HealthCheck {
	return timedCheck(func() (HealthStatus, string) {
		if s.db == nil {
			return HealthStatusUnhealthy, "Database not initialized"
		}
		ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			return HealthStatusUnhealthy, fmt.Sprintf("Database ping failed: %v", err)
		}
		return HealthStatusHealthy, "Database connection healthy"
	})
}

func (s *Server) checkBoardHealth() HealthCheck {
	return timedCheck(func() (HealthStatus, string) {
		if s.boards == nil {
			return HealthStatusUnhealthy, "Board registry not initialized"
		}
		b, err := s.boards.Default()
		if err != nil {
			return HealthStatusUnhealthy, err.Error()
		}
		return HealthStatusHealthy, fmt.Sprintf("%d rows, %s risk, %d sinks", b.Rows(), b.Config().Risk, len(b.Sinks()))
	})
}

func (s *Server) checkDropsHealth() HealthCheck {
	return timedCheck(func() (HealthStatus, string) {
		if s.drops == nil || s.settler == nil {
			return HealthStatusUnhealthy, "Drop service not initialized"
		}
		if s.drops.Stopped() {
			return HealthStatusUnhealthy, "Drop service stopped"
		}
		return HealthStatusHealthy, fmt.Sprintf("%d drops in flight", s.drops.Pending())
	})
}

func (s *Server) checkScannerHealth() HealthCheck {
	return timedCheck(func() (HealthStatus, string) {
		if s.scanner == nil {
			return HealthStatusDegraded, "Scanner not initialized"
		}
		return HealthStatusHealthy, "Scanner healthy"
	})
}

func getSystemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		GOMAXPROCS:    runtime.GOMAXPROCS(0),
		MemoryAlloc:   m.Alloc,
		MemorySys:     m.Sys,
		GCCycles:      m.NumGC,
	}
}
