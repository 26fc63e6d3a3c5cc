package logger

import (
	"testing"
)

func TestShouldLog(t *testing.T) {
	tests := []struct {
		current string
		message string
		want    bool
	}{
		{LogLevelInfo, LogLevelError, true},
		{LogLevelInfo, LogLevelWarn, true},
		{LogLevelInfo, LogLevelInfo, true},
		{LogLevelInfo, LogLevelDebug, false},
		{LogLevelError, LogLevelWarn, false},
		{LogLevelTrace, LogLevelTrace, true},
		{"bogus", LogLevelDebug, true},
	}

	for _, tt := range tests {
		if got := shouldLog(tt.current, tt.message); got != tt.want {
			t.Errorf("shouldLog(%q, %q) = %v, want %v", tt.current, tt.message, got, tt.want)
		}
	}
}

func TestDebugEnabledFollowsGlobalConfig(t *testing.T) {
	saved := GlobalLogging
	defer func() { GlobalLogging = saved }()

	GlobalLogging = &LoggingConfig{Level: "INFO"}
	if IsDebugEnabled() {
		t.Error("debug must be disabled at info level")
	}

	GlobalLogging = &LoggingConfig{Level: "trace"}
	if !IsDebugEnabled() || !IsTraceEnabled() {
		t.Error("debug and trace must be enabled at trace level")
	}

	GlobalLogging = nil
	if IsDebugEnabled() {
		t.Error("debug must be disabled without configuration")
	}
}

func TestMockLoggerRecordsFormattedMessages(t *testing.T) {
	m := NewMockLogger()
	m.LogWarn("transport %s not working", "/dev/ttyS0")
	m.LogInfo("hello")

	if !m.HasWarnMessage() || !m.WarnContaining("/dev/ttyS0 not working") {
		t.Errorf("unexpected warnings: %v", m.WarnMessages)
	}
	if !m.InfoContaining("hello") {
		t.Errorf("unexpected info messages: %v", m.InfoMessages)
	}

	m.Reset()
	if m.HasWarnMessage() || m.HasInfoMessage() {
		t.Error("expected no messages after Reset")
	}
}
