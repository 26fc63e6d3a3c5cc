package health

import (
	"sort"
	"sync"
	"time"

	"hwc-server/internal/logger"
	"hwc-server/internal/modbus"
	"hwc-server/internal/recovery"
)

const windowSize = 50

// LineStatus is the health of one serial line
type LineStatus struct {
	Device            string    `json:"device"`
	Online            bool      `json:"online"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastSuccess       time.Time `json:"last_success,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
	ErrorCount        int       `json:"error_count"`
	SuccessCount      int       `json:"success_count"`
}

type lineHealth struct {
	status   LineStatus
	recovery *recovery.ErrorRecoveryManager
	window   []bool
}

func (l *lineHealth) push(ok bool) {
	l.window = append(l.window, ok)
	if len(l.window) > windowSize {
		l.window = l.window[len(l.window)-windowSize:]
	}
	l.status.ErrorCount, l.status.SuccessCount = 0, 0
	for _, w := range l.window {
		if w {
			l.status.SuccessCount++
		} else {
			l.status.ErrorCount++
		}
	}
}

// SerialHealthMonitor tracks the online state of every serial line. A line
// goes offline when requests keep failing beyond the grace period and comes
// back with the next successful request.
type SerialHealthMonitor struct {
	gracePeriod time.Duration
	log         logger.ILogger
	now         func() time.Time

	mu    sync.RWMutex
	lines map[string]*lineHealth
}

// NewSerialHealthMonitor creates a monitor for the given serial devices
func NewSerialHealthMonitor(gracePeriod time.Duration, log logger.ILogger, devices ...string) *SerialHealthMonitor {
	if log == nil {
		log = logger.NewComponentLogger("health")
	}
	m := &SerialHealthMonitor{
		gracePeriod: gracePeriod,
		log:         log,
		now:         time.Now,
		lines:       make(map[string]*lineHealth),
	}
	for _, d := range devices {
		m.lineLocked(d)
	}
	return m
}

func (m *SerialHealthMonitor) lineLocked(device string) *lineHealth {
	l, ok := m.lines[device]
	if !ok {
		l = &lineHealth{
			status:   LineStatus{Device: device, Online: true},
			recovery: recovery.NewErrorRecoveryManagerWithClock(m.gracePeriod, func() time.Time { return m.now() }),
		}
		m.lines[device] = l
	}
	return l
}

// RequestCompleted implements modbus.TransportObserver
func (m *SerialHealthMonitor) RequestCompleted(serialDevice string, _ *modbus.Request, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lineLocked(serialDevice)
	l.push(err == nil)

	if err == nil {
		if !l.status.Online {
			m.log.LogInfo("serial line %s back online", serialDevice)
		}
		l.recovery.RecordSuccess()
		l.status.Online = true
		l.status.LastSuccess = m.now()
		l.status.ConsecutiveErrors = 0
		return
	}

	l.recovery.RecordError()
	l.status.ConsecutiveErrors = l.recovery.GetConsecutiveErrors()
	l.status.LastError = err.Error()
	if l.recovery.ShouldDegrade() {
		m.log.LogWarn("serial line %s offline, failing for %v", serialDevice, l.recovery.GetTimeSinceFirstError().Round(time.Second))
		l.recovery.MarkDegraded()
		l.status.Online = false
	}
}

// Lines returns the status of every line sorted by device
func (m *SerialHealthMonitor) Lines() []LineStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LineStatus, 0, len(m.lines))
	for _, l := range m.lines {
		out = append(out, l.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out
}

// IsOnline reports whether all lines are online
func (m *SerialHealthMonitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.lines {
		if !l.status.Online {
			return false
		}
	}
	return true
}

// GetLastSuccessTime returns the latest successful request on any line
func (m *SerialHealthMonitor) GetLastSuccessTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last time.Time
	for _, l := range m.lines {
		if l.status.LastSuccess.After(last) {
			last = l.status.LastSuccess
		}
	}
	return last
}

// GetErrorCount returns the failed requests in the recent window of all lines
func (m *SerialHealthMonitor) GetErrorCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, l := range m.lines {
		n += l.status.ErrorCount
	}
	return n
}

// GetSuccessCount returns the successful requests in the recent window of all lines
func (m *SerialHealthMonitor) GetSuccessCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, l := range m.lines {
		n += l.status.SuccessCount
	}
	return n
}
