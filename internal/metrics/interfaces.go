package metrics

import (
	"net/http"
	"time"

	"hwc-server/internal/model"
)

// MetricsCollector defines the interface for collecting application metrics.
//
// Implementations:
//   - PrometheusMetrics: client_golang registry exposed on /metrics
//   - NullMetrics: no-op implementation when metrics are disabled
type MetricsCollector interface {
	// IncrementModbusRequests counts a successful request on a serial line
	IncrementModbusRequests(serialDevice string)

	// IncrementModbusErrors counts a failed request by error kind
	IncrementModbusErrors(serialDevice, kind string)

	// ObserveModbusRequestDuration records the time from write to response
	ObserveModbusRequestDuration(serialDevice string, duration time.Duration)

	// SetConsecutiveErrors sets the current error streak of a serial line
	SetConsecutiveErrors(serialDevice string, n int)

	// IncrementMQTTPublishes counts a successful MQTT publish
	IncrementMQTTPublishes()

	// IncrementMQTTErrors counts a failed MQTT publish
	IncrementMQTTErrors()

	// SetControllerStatus updates the controller gauges
	SetControllerStatus(status model.ControllerStatus)

	// Handler returns the HTTP handler for /metrics, nil if not exposed
	Handler() http.Handler
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector
var _ MetricsCollector = (*PrometheusMetrics)(nil)
