package metrics

import (
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	hwcerrors "hwc-server/internal/errors"
	"hwc-server/internal/modbus"
	"hwc-server/internal/model"
)

func TestMetricsCollectorInterface(t *testing.T) {
	var _ MetricsCollector = (*PrometheusMetrics)(nil)
	var _ MetricsCollector = (*NullMetrics)(nil)
	var _ modbus.TransportObserver = (*Recorder)(nil)
}

func TestPrometheusMetricsRecording(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.IncrementModbusRequests("/dev/ttyS0")
	pm.IncrementModbusRequests("/dev/ttyS0")
	pm.IncrementModbusErrors("/dev/ttyS0", "modbus_timeout")
	pm.ObserveModbusRequestDuration("/dev/ttyS0", 100*time.Millisecond)
	pm.IncrementMQTTPublishes()
	pm.IncrementMQTTErrors()
	pm.SetControllerStatus(model.ControllerStatus{Mode: model.ModePower, SetpointPower: 75, ActivePower: 70, EnergyTotal: 1000})

	if got := testutil.ToFloat64(pm.modbusRequests.WithLabelValues("/dev/ttyS0")); got != 2 {
		t.Errorf("modbus requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(pm.modbusErrors.WithLabelValues("/dev/ttyS0", "modbus_timeout")); got != 1 {
		t.Errorf("modbus errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pm.mqttPublishes); got != 1 {
		t.Errorf("mqtt publishes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pm.mode.WithLabelValues("power")); got != 1 {
		t.Errorf("mode power gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pm.mode.WithLabelValues("off")); got != 0 {
		t.Errorf("mode off gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(pm.setpointPower); got != 75 {
		t.Errorf("setpoint gauge = %v, want 75", got)
	}

	rec := httptest.NewRecorder()
	pm.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`hwc_modbus_requests_total{serial="/dev/ttyS0"} 2`,
		`hwc_active_power_watts 70`,
		`hwc_energy_total_watt_hours 1000`,
		`hwc_modbus_request_duration_seconds_count{serial="/dev/ttyS0"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output misses %q", want)
		}
	}
}

func TestNullMetrics(t *testing.T) {
	nm := NewNullMetrics()
	nm.IncrementModbusRequests("x")
	nm.IncrementModbusErrors("x", "y")
	nm.ObserveModbusRequestDuration("x", time.Second)
	nm.SetConsecutiveErrors("x", 3)
	nm.IncrementMQTTPublishes()
	nm.IncrementMQTTErrors()
	nm.SetControllerStatus(model.ControllerStatus{})
	if nm.Handler() != nil {
		t.Error("NullMetrics must not expose a handler")
	}
}

func TestRecorder(t *testing.T) {
	pm := NewPrometheusMetrics()
	tracker := NewPerformanceTracker(time.Hour)
	r := NewRecorder(pm, tracker)

	frame, err := modbus.ReadHoldingRegisters(1, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	req := modbus.NewRequest(frame)

	timeout := hwcerrors.NewTransportError("send", fmt.Errorf("%w after 1s", hwcerrors.ErrModbusTimeout), "/dev/ttyS0")
	r.RequestCompleted("/dev/ttyS0", req, timeout)
	r.RequestCompleted("/dev/ttyS0", req, hwcerrors.ErrEchoMismatch)
	if got := testutil.ToFloat64(pm.consecutiveErrors.WithLabelValues("/dev/ttyS0")); got != 2 {
		t.Errorf("consecutive errors = %v, want 2", got)
	}
	r.RequestCompleted("/dev/ttyS0", req, nil)
	if got := testutil.ToFloat64(pm.consecutiveErrors.WithLabelValues("/dev/ttyS0")); got != 0 {
		t.Errorf("consecutive errors = %v, want 0", got)
	}
	if got := testutil.ToFloat64(pm.modbusErrors.WithLabelValues("/dev/ttyS0", "modbus_timeout")); got != 1 {
		t.Errorf("modbus_timeout errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(pm.modbusErrors.WithLabelValues("/dev/ttyS0", "echo_mismatch")); got != 1 {
		t.Errorf("echo_mismatch errors = %v, want 1", got)
	}

	stats := tracker.GetStats()
	if stats.Successful != 1 || stats.Failed != 2 {
		t.Errorf("tracker stats = %+v", stats)
	}

	r.ControllerStatusChanged(model.ControllerStatus{Mode: model.ModeOff, EnergyDaily: 12})
	if got := testutil.ToFloat64(pm.energyDaily); got != 12 {
		t.Errorf("energy daily gauge = %v, want 12", got)
	}
}

func TestPerformanceTrackerSummary(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	pt := NewPerformanceTracker(time.Minute)
	pt.now = func() time.Time { return now }
	pt.lastSummaryTime = now

	pt.RecordSuccess()
	pt.RecordSuccess()
	pt.RecordSuccess()
	pt.RecordError()
	if pt.PrintSummaryIfNeeded() {
		t.Fatal("summary printed before the interval")
	}
	if got := pt.GetStats().SuccessRate; got != 75 {
		t.Errorf("success rate = %v, want 75", got)
	}

	now = now.Add(time.Minute)
	if !pt.PrintSummaryIfNeeded() {
		t.Fatal("summary expected after the interval")
	}
	if s := pt.GetStats(); s.Successful != 0 || s.Failed != 0 || !s.LastSummary.Equal(now) {
		t.Errorf("counters not reset: %+v", s)
	}
}

func TestErrorKind(t *testing.T) {
	tests := map[error]string{
		hwcerrors.ErrTransportTimeout: "transport_timeout",
		hwcerrors.ErrChecksum:         "checksum",
		hwcerrors.ErrFrameFormat:      "frame_format",
		hwcerrors.ErrTransportClosed:  "closed",
		fmt.Errorf("boom"):            "other",
	}
	for err, want := range tests {
		if got := ErrorKind(err); got != want {
			t.Errorf("ErrorKind(%v) = %q, want %q", err, got, want)
		}
	}
}
