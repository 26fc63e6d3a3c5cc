package recovery

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestGracePeriod(t *testing.T) {
	clk := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	m := NewErrorRecoveryManagerWithClock(20*time.Second, clk.now)

	if m.IsInGracePeriod() {
		t.Fatal("no grace period without errors")
	}
	if m.RecordError() {
		t.Fatal("grace period must not expire on first error")
	}
	clk.advance(19 * time.Second)
	if m.RecordError() {
		t.Fatal("grace period expired too early")
	}
	if !m.IsInGracePeriod() || m.ShouldDegrade() {
		t.Fatal("expected to be within grace period")
	}
	clk.advance(time.Second)
	if !m.RecordError() {
		t.Fatal("grace period should have expired")
	}
	if got := m.GetConsecutiveErrors(); got != 3 {
		t.Errorf("consecutive errors = %d, want 3", got)
	}
	if got := m.GetTimeSinceFirstError(); got != 20*time.Second {
		t.Errorf("time since first error = %v", got)
	}
	if !m.ShouldDegrade() {
		t.Fatal("expected ShouldDegrade")
	}
	m.MarkDegraded()
	if m.ShouldDegrade() || !m.IsDegraded() {
		t.Fatal("ShouldDegrade must report once per sequence")
	}

	m.RecordSuccess()
	if m.GetConsecutiveErrors() != 0 || m.IsDegraded() || m.IsInGracePeriod() {
		t.Fatal("success must reset the sequence")
	}
}

func TestDefaultGracePeriod(t *testing.T) {
	m := NewErrorRecoveryManager(0)
	if m.errorGracePeriod != 15*time.Second {
		t.Errorf("default grace period = %v", m.errorGracePeriod)
	}
	m.RecordError()
	m.Reset()
	if m.GetConsecutiveErrors() != 0 {
		t.Error("Reset did not clear errors")
	}
}
