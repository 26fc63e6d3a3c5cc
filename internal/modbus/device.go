package modbus

import "time"

// Reset types
const (
	ResetNone = "none"
	ResetUser = "user"
	ResetGPIO = "gpio"
)

// ResetConfig describes how a target on the line is reset
type ResetConfig struct {
	Type   string
	Pin    string
	Level  bool          // active (reset) level, idle is !Level
	Hold   time.Duration // time each level is held
	Settle time.Duration // pause after the sequence before the line is used
}

// Resettable reports whether the transport drives this reset
func (c *ResetConfig) Resettable() bool {
	return c != nil && c.Type == ResetGPIO && c.Pin != ""
}

// Device is a Modbus target attached to a serial line
type Device interface {
	ID() string
	Name() string
	SerialDevice() string
	Address() uint8
	ResetConfig() *ResetConfig
}
