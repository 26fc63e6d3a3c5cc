package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status                string       `json:"status"` // healthy, degraded, unhealthy
	Timestamp             time.Time    `json:"timestamp"`
	Uptime                string       `json:"uptime"`
	SerialOnline          bool         `json:"serial_online"`
	LastSuccessfulRequest string       `json:"last_successful_request"`
	ErrorCount            int          `json:"error_count"`
	SuccessCount          int          `json:"success_count"`
	ControllerMode        string       `json:"controller_mode,omitempty"`
	Lines                 []LineStatus `json:"lines,omitempty"`
	Version               string       `json:"version,omitempty"`
}

// HealthChecker provides health information
type HealthChecker interface {
	IsOnline() bool
	GetLastSuccessTime() time.Time
	GetErrorCount() int
	GetSuccessCount() int
}

// LineReporter optionally lists per line details
type LineReporter interface {
	Lines() []LineStatus
}

// HealthHandler serves /health
type HealthHandler struct {
	startTime     time.Time
	healthChecker HealthChecker
	mode          func() string
	version       string
	now           func() time.Time
}

// NewHealthHandler creates a new health check handler; mode may be nil
func NewHealthHandler(healthChecker HealthChecker, mode func() string, version string) *HealthHandler {
	return &HealthHandler{
		startTime:     time.Now(),
		healthChecker: healthChecker,
		mode:          mode,
		version:       version,
		now:           time.Now,
	}
}

// ServeHTTP implements http.Handler interface for /health endpoint
func (hh *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := hh.Status()

	w.Header().Set("Content-Type", "application/json")
	statusCode := http.StatusOK
	if status.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	w.WriteHeader(statusCode)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(status); err != nil {
		http.Error(w, fmt.Sprintf("Failed to encode health status: %v", err), http.StatusInternalServerError)
	}
}

// Status determines the current health status
func (hh *HealthHandler) Status() HealthStatus {
	now := hh.now()
	isOnline := hh.healthChecker.IsOnline()
	lastSuccess := hh.healthChecker.GetLastSuccessTime()
	errorCount := hh.healthChecker.GetErrorCount()
	successCount := hh.healthChecker.GetSuccessCount()

	lastRequest := "never"
	if !lastSuccess.IsZero() {
		lastRequest = formatDuration(now.Sub(lastSuccess)) + " ago"
	}

	status := "healthy"
	if !isOnline {
		status = "unhealthy"
	} else if total := errorCount + successCount; errorCount > 0 && total > 0 {
		errorRate := float64(errorCount) / float64(total) * 100.0
		if errorRate > 50.0 {
			status = "unhealthy"
		} else if errorRate > 20.0 {
			status = "degraded"
		}
	}

	hs := HealthStatus{
		Status:                status,
		Timestamp:             now,
		Uptime:                formatDuration(now.Sub(hh.startTime)),
		SerialOnline:          isOnline,
		LastSuccessfulRequest: lastRequest,
		ErrorCount:            errorCount,
		SuccessCount:          successCount,
		Version:               hh.version,
	}
	if hh.mode != nil {
		hs.ControllerMode = hh.mode()
	}
	if lr, ok := hh.healthChecker.(LineReporter); ok {
		hs.Lines = lr.Lines()
	}
	return hs
}

// formatDuration formats a duration in human-readable form
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours %d minutes", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%d days %d hours", int(d.Hours())/24, int(d.Hours())%24)
	}
}
