package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel constants
const (
	LogLevelError = "error"
	LogLevelWarn  = "warn"
	LogLevelInfo  = "info"
	LogLevelDebug = "debug"
	LogLevelTrace = "trace"
)

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	MaxSize int    `yaml:"max_size"` // megabytes before the log file is rotated
	MaxAge  int    `yaml:"max_age"`  // days to keep rotated files
}

// Global logging configuration
var GlobalLogging *LoggingConfig

var std = newBackend(os.Stdout)

// Logger wraps a logrus logger with the service verbosity levels
type Logger struct {
	backend *logrus.Logger
	level   string
	closer  io.Closer
}

func newBackend(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableQuote: true})
	l.SetLevel(logrus.TraceLevel)
	return l
}

// NewLogger creates a new logger and installs it as the global logger
func NewLogger(config *LoggingConfig) *Logger {
	level := strings.ToLower(config.Level)
	if level == "" {
		level = LogLevelInfo
	}

	var output io.Writer = os.Stdout
	var closer io.Closer
	if config.File != "" {
		rotating := &lumberjack.Logger{
			Filename: config.File,
			MaxSize:  config.MaxSize,
			MaxAge:   config.MaxAge,
		}
		output = io.MultiWriter(os.Stdout, rotating)
		closer = rotating
	}

	l := &Logger{
		backend: newBackend(output),
		level:   level,
		closer:  closer,
	}

	std = l.backend
	GlobalLogging = config

	return l
}

// Close releases the log file, if any
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// shouldLog checks if a message should be logged based on current level
func shouldLog(currentLevel, messageLevel string) bool {
	levels := []string{LogLevelError, LogLevelWarn, LogLevelInfo, LogLevelDebug, LogLevelTrace}

	currentIndex := -1
	messageIndex := -1

	for i, level := range levels {
		if level == currentLevel {
			currentIndex = i
		}
		if level == messageLevel {
			messageIndex = i
		}
	}

	// Unknown levels let the message through
	if currentIndex == -1 || messageIndex == -1 {
		return true
	}

	return messageIndex <= currentIndex
}

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	if shouldLog(l.level, LogLevelError) {
		l.backend.Errorf("❌ "+format, args...)
	}
}

// Warn logs warning messages
func (l *Logger) Warn(format string, args ...interface{}) {
	if shouldLog(l.level, LogLevelWarn) {
		l.backend.Warnf("⚠️ "+format, args...)
	}
}

// Info logs info messages
func (l *Logger) Info(format string, args ...interface{}) {
	if shouldLog(l.level, LogLevelInfo) {
		l.backend.Infof("ℹ️ "+format, args...)
	}
}

// Debug logs debug messages
func (l *Logger) Debug(format string, args ...interface{}) {
	if shouldLog(l.level, LogLevelDebug) {
		l.backend.Debugf("🔧 "+format, args...)
	}
}

// Trace logs trace messages
func (l *Logger) Trace(format string, args ...interface{}) {
	if shouldLog(l.level, LogLevelTrace) {
		l.backend.Tracef("🔍 "+format, args...)
	}
}

// LogStartup logs startup messages that should always be visible regardless of log level
func LogStartup(format string, args ...interface{}) {
	std.Infof("🔧 "+format, args...)
}

func globalLevel() string {
	if GlobalLogging == nil {
		return ""
	}
	level := strings.ToLower(GlobalLogging.Level)
	if level == "" {
		return LogLevelInfo
	}
	return level
}

// Helper functions for global logging
func LogError(format string, args ...interface{}) {
	if GlobalLogging != nil && shouldLog(globalLevel(), LogLevelError) {
		std.Errorf("❌ "+format, args...)
	}
}

func LogWarn(format string, args ...interface{}) {
	if GlobalLogging != nil && shouldLog(globalLevel(), LogLevelWarn) {
		std.Warnf("⚠️ "+format, args...)
	}
}

func LogInfo(format string, args ...interface{}) {
	if GlobalLogging != nil && shouldLog(globalLevel(), LogLevelInfo) {
		std.Infof("ℹ️ "+format, args...)
	}
}

func LogDebug(format string, args ...interface{}) {
	if GlobalLogging != nil && shouldLog(globalLevel(), LogLevelDebug) {
		std.Debugf("🔧 "+format, args...)
	}
}

func LogTrace(format string, args ...interface{}) {
	if GlobalLogging != nil && shouldLog(globalLevel(), LogLevelTrace) {
		std.Tracef("🔍 "+format, args...)
	}
}

// IsDebugEnabled checks if debug logging is enabled
func IsDebugEnabled() bool {
	return GlobalLogging != nil && shouldLog(globalLevel(), LogLevelDebug)
}

// IsTraceEnabled checks if trace logging is enabled
func IsTraceEnabled() bool {
	return GlobalLogging != nil && shouldLog(globalLevel(), LogLevelTrace)
}
