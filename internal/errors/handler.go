package errors

import (
	"context"
	"fmt"
	"net/http"

	"hwc-server/internal/logger"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	log                 logger.ILogger
	diagnosticPublisher DiagnosticPublisher
}

// DiagnosticPublisher interface for publishing diagnostics
type DiagnosticPublisher interface {
	PublishDiagnostic(ctx context.Context, code int, message string) error
}

// NewErrorHandler creates a new error handler; publisher may be nil
func NewErrorHandler(log logger.ILogger, publisher DiagnosticPublisher) *ErrorHandler {
	if log == nil {
		log = logger.NewStandardLogger()
	}
	return &ErrorHandler{
		log:                 log,
		diagnosticPublisher: publisher,
	}
}

// Handle logs an error according to its severity and publishes a diagnostic
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil {
		return
	}

	var (
		cfgErr       *ConfigError
		validErr     *ValidationError
		modbusErr    *ModbusError
		transportErr *TransportError
		mqttErr      *MQTTError
		baseErr      *HWCError
	)

	switch {
	case As(err, &cfgErr):
		h.log.LogError("🔴 CRITICAL Configuration Error: %s", cfgErr.Error())
		h.publish(ctx, cfgErr.Code, fmt.Sprintf("Config field '%s': %s", cfgErr.Field, cfgErr.Op))
	case As(err, &validErr):
		h.log.LogWarn("Validation Error: %s", validErr.Error())
		h.publish(ctx, validErr.Code, fmt.Sprintf("Validation failed for '%s'", validErr.Field))
	case As(err, &modbusErr):
		h.logBySeverity("Modbus", modbusErr.Severity, modbusErr.Error())
		h.publish(ctx, modbusErr.Code, fmt.Sprintf("Device '%s' (slave %d): %s", modbusErr.DeviceID, modbusErr.SlaveID, modbusErr.Op))
	case As(err, &transportErr):
		h.logBySeverity("Transport", transportErr.Severity, transportErr.Error())
		h.publish(ctx, transportErr.Code, fmt.Sprintf("Serial %s: %s", transportErr.Device, transportErr.Op))
	case As(err, &mqttErr):
		h.logBySeverity("MQTT", mqttErr.Severity, mqttErr.Error())
	case As(err, &baseErr):
		h.logBySeverity("", baseErr.Severity, baseErr.Error())
		h.publish(ctx, baseErr.Code, baseErr.Op)
	default:
		h.log.LogError("Untyped Error: %v", err)
		h.publish(ctx, CodeGeneric, err.Error())
	}
}

func (h *ErrorHandler) logBySeverity(kind string, severity ErrorSeverity, msg string) {
	if kind != "" {
		kind += " "
	}
	switch severity {
	case SeverityCritical:
		h.log.LogError("🔴 CRITICAL %sError: %s", kind, msg)
	case SeverityError:
		h.log.LogError("%sError: %s", kind, msg)
	case SeverityWarning:
		h.log.LogWarn("%sWarning: %s", kind, msg)
	default:
		h.log.LogInfo("%sInfo: %s", kind, msg)
	}
}

func (h *ErrorHandler) publish(ctx context.Context, code int, message string) {
	if h.diagnosticPublisher == nil {
		return
	}
	if err := h.diagnosticPublisher.PublishDiagnostic(ctx, code, message); err != nil {
		h.log.LogDebug("Failed to publish diagnostic %d: %v", code, err)
	}
}

// IsRecoverable returns true if the error is recoverable
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}

	var cfgErr *ConfigError
	if As(err, &cfgErr) {
		return false
	}
	if Is(err, ErrShutdown) {
		return false
	}
	var baseErr *HWCError
	if As(err, &baseErr) {
		return baseErr.Severity != SeverityCritical
	}
	return true
}

// GetDiagnosticCode extracts the diagnostic code from an error
func GetDiagnosticCode(err error) int {
	if err == nil {
		return 0
	}

	var (
		cfgErr       *ConfigError
		validErr     *ValidationError
		modbusErr    *ModbusError
		transportErr *TransportError
		mqttErr      *MQTTError
		baseErr      *HWCError
	)
	switch {
	case As(err, &cfgErr):
		return cfgErr.Code
	case As(err, &validErr):
		return validErr.Code
	case As(err, &modbusErr):
		return modbusErr.Code
	case As(err, &transportErr):
		return transportErr.Code
	case As(err, &mqttErr):
		return mqttErr.Code
	case As(err, &baseErr):
		return baseErr.Code
	}
	if Is(err, ErrInvalidArgument) {
		return CodeValidation
	}
	return CodeGeneric
}

// HTTPStatus maps an error to the status code reported to HTTP clients
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case Is(err, ErrInvalidArgument), Is(err, ErrAuthentication), Is(err, ErrShutdown):
		return http.StatusBadRequest
	case Is(err, ErrNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
