package recovery

import (
	"sync"
	"time"
)

// ErrorRecoveryManager tracks a sequence of consecutive failures and the
// grace period after the first one. The controller uses it to fall back to
// a safe setpoint, the health monitor to mark a serial line degraded.
type ErrorRecoveryManager struct {
	mu                sync.Mutex
	consecutiveErrors int
	firstErrorTime    time.Time
	errorGracePeriod  time.Duration
	degraded          bool
	now               func() time.Time
}

// NewErrorRecoveryManager creates a new error recovery manager
func NewErrorRecoveryManager(gracePeriod time.Duration) *ErrorRecoveryManager {
	return NewErrorRecoveryManagerWithClock(gracePeriod, time.Now)
}

// NewErrorRecoveryManagerWithClock creates a manager reading time from now
func NewErrorRecoveryManagerWithClock(gracePeriod time.Duration, now func() time.Time) *ErrorRecoveryManager {
	if gracePeriod == 0 {
		gracePeriod = 15 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &ErrorRecoveryManager{
		errorGracePeriod: gracePeriod,
		now:              now,
	}
}

// RecordError records an error occurrence and returns whether grace period has expired
func (m *ErrorRecoveryManager) RecordError() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveErrors++

	if m.firstErrorTime.IsZero() {
		m.firstErrorTime = m.now()
	}
	return m.now().Sub(m.firstErrorTime) >= m.errorGracePeriod
}

// RecordSuccess resets error tracking after a successful operation
func (m *ErrorRecoveryManager) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveErrors = 0
	m.firstErrorTime = time.Time{}
	m.degraded = false
}

// GetConsecutiveErrors returns the current count of consecutive errors
func (m *ErrorRecoveryManager) GetConsecutiveErrors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveErrors
}

// ShouldDegrade returns true once per error sequence when the grace period expired
func (m *ErrorRecoveryManager) ShouldDegrade() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.degraded {
		return false
	}
	return !m.firstErrorTime.IsZero() && m.now().Sub(m.firstErrorTime) >= m.errorGracePeriod
}

// MarkDegraded suppresses further ShouldDegrade results until the next success
func (m *ErrorRecoveryManager) MarkDegraded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degraded = true
}

// IsDegraded reports whether MarkDegraded was called in the current error sequence
func (m *ErrorRecoveryManager) IsDegraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

// IsInGracePeriod returns true if we're currently in the grace period after first error
func (m *ErrorRecoveryManager) IsInGracePeriod() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.firstErrorTime.IsZero() {
		return false
	}
	return m.now().Sub(m.firstErrorTime) < m.errorGracePeriod
}

// GetTimeSinceFirstError returns the duration since the first error in current sequence
func (m *ErrorRecoveryManager) GetTimeSinceFirstError() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.firstErrorTime.IsZero() {
		return 0
	}
	return m.now().Sub(m.firstErrorTime)
}

// Reset resets all error tracking state
func (m *ErrorRecoveryManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveErrors = 0
	m.firstErrorTime = time.Time{}
	m.degraded = false
}
