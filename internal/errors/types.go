package errors

import (
	"errors"
	"fmt"
)

// ErrorSeverity defines the severity level of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Error kinds. Typed errors wrap one of these so callers can use Is.
var (
	ErrFrameFormat      = errors.New("frame format error")
	ErrChecksum         = errors.New("checksum error")
	ErrEchoMismatch     = errors.New("echo mismatch")
	ErrTransportTimeout = errors.New("transport timeout")
	ErrModbusTimeout    = errors.New("modbus timeout")
	ErrUnsolicitedFrame = errors.New("unsolicited frame")
	ErrModbusException  = errors.New("modbus exception response")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrDeviceConfig     = errors.New("device configuration error")
	ErrAuthentication   = errors.New("authentication failed")
	ErrShutdown         = errors.New("controller in mode shutdown")
	ErrNotReady         = errors.New("not ready")
	ErrTransportClosed  = errors.New("transport closed")
)

// Diagnostic codes published with errors
const (
	CodeConfig     = 1
	CodeTransport  = 2
	CodeModbus     = 3
	CodeMQTT       = 4
	CodeValidation = 5
	CodeAuth       = 6
	CodeController = 7
	CodeGeneric    = 99
)

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text
func New(text string) error {
	return errors.New(text)
}

// HWCError is the base error type for all service errors
type HWCError struct {
	Op       string        // Operation that failed
	Err      error         // Underlying error
	Severity ErrorSeverity // Error severity
	Code     int           // Diagnostic code
}

// Error implements the error interface
func (e *HWCError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Severity, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Severity, e.Op)
}

// Unwrap returns the underlying error
func (e *HWCError) Unwrap() error {
	return e.Err
}

// NewControllerError creates an error raised by the control loop
func NewControllerError(op string, err error) *HWCError {
	return &HWCError{Op: op, Err: err, Severity: SeverityError, Code: CodeController}
}

// NewAuthError creates an authentication error
func NewAuthError(op string) *HWCError {
	return &HWCError{Op: op, Err: ErrAuthentication, Severity: SeverityWarning, Code: CodeAuth}
}

// InvalidArgument wraps ErrInvalidArgument with a formatted reason
func InvalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// TransportError represents errors of the serial line
type TransportError struct {
	HWCError
	Device string
}

// NewTransportError creates a new transport error
func NewTransportError(op string, err error, device string) *TransportError {
	return &TransportError{
		HWCError: HWCError{
			Op:       op,
			Err:      err,
			Severity: SeverityError,
			Code:     CodeTransport,
		},
		Device: device,
	}
}

// Error implements the error interface
func (e *TransportError) Error() string {
	return fmt.Sprintf("[%s] Serial %s: %s: %v", e.Severity, e.Device, e.Op, e.Err)
}

// ModbusError represents errors from Modbus operations
type ModbusError struct {
	HWCError
	SlaveID       uint8
	FunctionCode  uint8
	ExceptionCode uint8
	Address       uint16
	DeviceID      string
}

// NewModbusError creates a new Modbus error
func NewModbusError(op string, err error, slaveID uint8, deviceID string) *ModbusError {
	return &ModbusError{
		HWCError: HWCError{
			Op:       op,
			Err:      err,
			Severity: SeverityError,
			Code:     CodeModbus,
		},
		SlaveID:  slaveID,
		DeviceID: deviceID,
	}
}

// Error implements the error interface
func (e *ModbusError) Error() string {
	if e.DeviceID != "" {
		return fmt.Sprintf("[%s] Modbus device '%s' (slave %d): %s: %v",
			e.Severity, e.DeviceID, e.SlaveID, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] Modbus slave %d: %s: %v",
		e.Severity, e.SlaveID, e.Op, e.Err)
}

// MQTTError represents errors from MQTT operations
type MQTTError struct {
	HWCError
	Broker string
	Topic  string
}

// NewMQTTError creates a new MQTT error
func NewMQTTError(op string, err error, broker string) *MQTTError {
	return &MQTTError{
		HWCError: HWCError{
			Op:       op,
			Err:      err,
			Severity: SeverityWarning,
			Code:     CodeMQTT,
		},
		Broker: broker,
	}
}

// Error implements the error interface
func (e *MQTTError) Error() string {
	if e.Topic != "" {
		return fmt.Sprintf("[%s] MQTT broker '%s' (topic: %s): %s: %v",
			e.Severity, e.Broker, e.Topic, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] MQTT broker '%s': %s: %v",
		e.Severity, e.Broker, e.Op, e.Err)
}

// ConfigError represents configuration errors
type ConfigError struct {
	HWCError
	Field string
	Value interface{}
}

// NewConfigError creates a new configuration error
func NewConfigError(op string, err error, field string) *ConfigError {
	return &ConfigError{
		HWCError: HWCError{
			Op:       op,
			Err:      err,
			Severity: SeverityCritical,
			Code:     CodeConfig,
		},
		Field: field,
	}
}

// NewDeviceConfigError creates a configuration error for the device roster
func NewDeviceConfigError(field, format string, args ...interface{}) *ConfigError {
	err := fmt.Errorf("%w: %s", ErrDeviceConfig, fmt.Sprintf(format, args...))
	return NewConfigError("device configuration", err, field)
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] Configuration field '%s': %s: %v",
			e.Severity, e.Field, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] Configuration: %s: %v",
		e.Severity, e.Op, e.Err)
}

// ValidationError represents validation errors of externally supplied values
type ValidationError struct {
	HWCError
	Field    string
	Expected interface{}
	Actual   interface{}
}

// NewValidationError creates a new validation error
func NewValidationError(field string, expected, actual interface{}) *ValidationError {
	return &ValidationError{
		HWCError: HWCError{
			Op:       "validation",
			Err:      ErrInvalidArgument,
			Severity: SeverityWarning,
			Code:     CodeValidation,
		},
		Field:    field,
		Expected: expected,
		Actual:   actual,
	}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] Field '%s': expected %v, got %v",
		e.Severity, e.Field, e.Expected, e.Actual)
}
