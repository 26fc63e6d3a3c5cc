package metrics

import (
	"sync"
	"time"

	"hwc-server/internal/logger"
)

// PerformanceTracker counts Modbus request outcomes and logs a summary
// once per interval
type PerformanceTracker struct {
	mu              sync.Mutex
	ok              int
	failed          int
	lastSummaryTime time.Time
	summaryInterval time.Duration
	now             func() time.Time
}

// PerformanceStats is a snapshot of the counters since the last summary
type PerformanceStats struct {
	Successful  int
	Failed      int
	LastSummary time.Time
	SuccessRate float64
}

// NewPerformanceTracker creates a tracker logging every summaryInterval
func NewPerformanceTracker(summaryInterval time.Duration) *PerformanceTracker {
	return &PerformanceTracker{
		lastSummaryTime: time.Now(),
		summaryInterval: summaryInterval,
		now:             time.Now,
	}
}

// RecordSuccess records a successful request
func (pt *PerformanceTracker) RecordSuccess() {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.ok++
}

// RecordError records a failed request
func (pt *PerformanceTracker) RecordError() {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.failed++
}

// GetStats returns the counters since the last summary
func (pt *PerformanceTracker) GetStats() PerformanceStats {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	s := PerformanceStats{Successful: pt.ok, Failed: pt.failed, LastSummary: pt.lastSummaryTime}
	if total := pt.ok + pt.failed; total > 0 {
		s.SuccessRate = float64(pt.ok) / float64(total) * 100
	}
	return s
}

// PrintSummaryIfNeeded logs and resets the counters when the interval passed
func (pt *PerformanceTracker) PrintSummaryIfNeeded() bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if pt.summaryInterval <= 0 || pt.now().Sub(pt.lastSummaryTime) < pt.summaryInterval {
		return false
	}
	logger.LogInfo("📊 Modbus summary - ok: %d, failed: %d, last %v", pt.ok, pt.failed, pt.summaryInterval)
	pt.lastSummaryTime = pt.now()
	pt.ok = 0
	pt.failed = 0
	return true
}
