package logger

import (
	"fmt"
	"strings"
	"sync"
)

// ILogger is the logging dependency handed to components
type ILogger interface {
	LogInfo(format string, args ...interface{})
	LogWarn(format string, args ...interface{})
	LogError(format string, args ...interface{})
	LogDebug(format string, args ...interface{})
}

// StandardLogger implements ILogger using the global logger functions
type StandardLogger struct {
	prefix string
}

// NewStandardLogger creates a logger that uses global logger functions
func NewStandardLogger() ILogger {
	return &StandardLogger{}
}

// NewComponentLogger creates a logger that tags every message with a component name
func NewComponentLogger(component string) ILogger {
	return &StandardLogger{prefix: "[" + component + "] "}
}

// LogInfo logs an info message
func (l *StandardLogger) LogInfo(format string, args ...interface{}) {
	LogInfo(l.prefix+format, args...)
}

// LogWarn logs a warning message
func (l *StandardLogger) LogWarn(format string, args ...interface{}) {
	LogWarn(l.prefix+format, args...)
}

// LogError logs an error message
func (l *StandardLogger) LogError(format string, args ...interface{}) {
	LogError(l.prefix+format, args...)
}

// LogDebug logs a debug message
func (l *StandardLogger) LogDebug(format string, args ...interface{}) {
	LogDebug(l.prefix+format, args...)
}

// MockLogger records formatted messages per level for assertions in tests
type MockLogger struct {
	mu            sync.Mutex
	InfoMessages  []string
	WarnMessages  []string
	ErrorMessages []string
	DebugMessages []string
}

// NewMockLogger creates an empty MockLogger
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (l *MockLogger) record(to *[]string, format string, args []interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	*to = append(*to, msg)
	l.mu.Unlock()
}

func (l *MockLogger) LogInfo(format string, args ...interface{}) {
	l.record(&l.InfoMessages, format, args)
}

func (l *MockLogger) LogWarn(format string, args ...interface{}) {
	l.record(&l.WarnMessages, format, args)
}

func (l *MockLogger) LogError(format string, args ...interface{}) {
	l.record(&l.ErrorMessages, format, args)
}

func (l *MockLogger) LogDebug(format string, args ...interface{}) {
	l.record(&l.DebugMessages, format, args)
}

// Reset drops everything recorded so far
func (l *MockLogger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.InfoMessages, l.WarnMessages, l.ErrorMessages, l.DebugMessages = nil, nil, nil, nil
}

func (l *MockLogger) count(msgs *[]string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(*msgs)
}

func (l *MockLogger) containing(msgs *[]string, substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range *msgs {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func (l *MockLogger) HasInfoMessage() bool  { return l.count(&l.InfoMessages) > 0 }
func (l *MockLogger) HasWarnMessage() bool  { return l.count(&l.WarnMessages) > 0 }
func (l *MockLogger) HasErrorMessage() bool { return l.count(&l.ErrorMessages) > 0 }

// WarnContaining reports whether a recorded warning contains substr
func (l *MockLogger) WarnContaining(substr string) bool {
	return l.containing(&l.WarnMessages, substr)
}

// InfoContaining reports whether a recorded info message contains substr
func (l *MockLogger) InfoContaining(substr string) bool {
	return l.containing(&l.InfoMessages, substr)
}
