package metrics

import (
	"net/http"
	"time"

	"hwc-server/internal/model"
)

// NullMetrics is a no-op implementation of MetricsCollector, used when
// metrics are disabled.
type NullMetrics struct{}

// NewNullMetrics creates a new NullMetrics instance
func NewNullMetrics() *NullMetrics {
	return &NullMetrics{}
}

// IncrementModbusRequests is a no-op
func (nm *NullMetrics) IncrementModbusRequests(string) {}

// IncrementModbusErrors is a no-op
func (nm *NullMetrics) IncrementModbusErrors(string, string) {}

// ObserveModbusRequestDuration is a no-op
func (nm *NullMetrics) ObserveModbusRequestDuration(string, time.Duration) {}

// SetConsecutiveErrors is a no-op
func (nm *NullMetrics) SetConsecutiveErrors(string, int) {}

// IncrementMQTTPublishes is a no-op
func (nm *NullMetrics) IncrementMQTTPublishes() {}

// IncrementMQTTErrors is a no-op
func (nm *NullMetrics) IncrementMQTTErrors() {}

// SetControllerStatus is a no-op
func (nm *NullMetrics) SetControllerStatus(model.ControllerStatus) {}

// Handler returns nil, there is nothing to expose
func (nm *NullMetrics) Handler() http.Handler {
	return nil
}

// Compile-time verification that NullMetrics implements MetricsCollector
var _ MetricsCollector = (*NullMetrics)(nil)
