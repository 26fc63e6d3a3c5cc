package metrics

import (
	"sync"

	hwcerrors "hwc-server/internal/errors"
	"hwc-server/internal/modbus"
	"hwc-server/internal/model"
)

// Recorder feeds transport and controller events into a MetricsCollector
type Recorder struct {
	collector MetricsCollector
	tracker   *PerformanceTracker

	mu      sync.Mutex
	streaks map[string]int
}

// NewRecorder creates a recorder; tracker may be nil
func NewRecorder(collector MetricsCollector, tracker *PerformanceTracker) *Recorder {
	if collector == nil {
		collector = NewNullMetrics()
	}
	return &Recorder{collector: collector, tracker: tracker, streaks: make(map[string]int)}
}

// RequestCompleted implements modbus.TransportObserver
func (r *Recorder) RequestCompleted(serialDevice string, req *modbus.Request, err error) {
	r.mu.Lock()
	if err != nil {
		r.streaks[serialDevice]++
	} else {
		r.streaks[serialDevice] = 0
	}
	streak := r.streaks[serialDevice]
	r.mu.Unlock()

	r.collector.SetConsecutiveErrors(serialDevice, streak)
	if err != nil {
		r.collector.IncrementModbusErrors(serialDevice, ErrorKind(err))
		if r.tracker != nil {
			r.tracker.RecordError()
		}
		return
	}
	r.collector.IncrementModbusRequests(serialDevice)
	if d := req.Duration(); d > 0 {
		r.collector.ObserveModbusRequestDuration(serialDevice, d)
	}
	if r.tracker != nil {
		r.tracker.RecordSuccess()
		r.tracker.PrintSummaryIfNeeded()
	}
}

// ControllerStatusChanged implements controller.StatusObserver
func (r *Recorder) ControllerStatusChanged(s model.ControllerStatus) {
	r.collector.SetControllerStatus(s)
}

// ErrorKind maps a transport error to a metric label
func ErrorKind(err error) string {
	switch {
	case hwcerrors.Is(err, hwcerrors.ErrTransportTimeout):
		return "transport_timeout"
	case hwcerrors.Is(err, hwcerrors.ErrModbusTimeout):
		return "modbus_timeout"
	case hwcerrors.Is(err, hwcerrors.ErrEchoMismatch):
		return "echo_mismatch"
	case hwcerrors.Is(err, hwcerrors.ErrChecksum):
		return "checksum"
	case hwcerrors.Is(err, hwcerrors.ErrFrameFormat):
		return "frame_format"
	case hwcerrors.Is(err, hwcerrors.ErrUnsolicitedFrame):
		return "unsolicited"
	case hwcerrors.Is(err, hwcerrors.ErrTransportClosed):
		return "closed"
	default:
		return "other"
	}
}
