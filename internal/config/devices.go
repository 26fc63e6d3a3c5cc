package config

import (
	"fmt"
	"strings"

	hwcerrors "hwc-server/internal/errors"
)

// ClassHotWaterController is the only supported device class
const ClassHotWaterController = "HotWaterController"

// SerialLine is one RS-485 line
type SerialLine struct {
	Device          string `yaml:"device"`
	BaudRate        int    `yaml:"baud_rate"`
	DataBits        int    `yaml:"data_bits"`
	StopBits        int    `yaml:"stop_bits"`
	Parity          string `yaml:"parity"`
	ModbusTimeoutMs int    `yaml:"modbus_timeout_ms"` // reply window after the request was written
	Disabled        bool   `yaml:"disabled"`
}

// DeviceConfig is a Modbus device attached to a serial line
type DeviceConfig struct {
	Class        string       `yaml:"class"`
	Name         string       `yaml:"name"`
	SerialDevice string       `yaml:"serial_device"`
	Address      int          `yaml:"address"`
	TimeoutMs    int          `yaml:"timeout_ms"`
	Reset        *ResetConfig `yaml:"reset"`
	Disabled     bool         `yaml:"disabled"`
}

// ResetConfig describes the reset line of a device
type ResetConfig struct {
	Type     string `yaml:"type"` // none, user or gpio
	Pin      string `yaml:"pin"`
	Level    bool   `yaml:"level"` // active level
	HoldMs   int    `yaml:"hold_ms"`
	SettleMs int    `yaml:"settle_ms"`
}

// Validate validates the serial line configuration
func (s *SerialLine) Validate() error {
	if s.Device == "" {
		return fmt.Errorf("serial device is required")
	}
	if s.BaudRate <= 0 {
		return fmt.Errorf("serial '%s' has invalid baud_rate %d", s.Device, s.BaudRate)
	}
	if s.DataBits < 5 || s.DataBits > 8 {
		return fmt.Errorf("serial '%s' has invalid data_bits %d (5-8)", s.Device, s.DataBits)
	}
	if s.StopBits != 1 && s.StopBits != 2 {
		return fmt.Errorf("serial '%s' has invalid stop_bits %d (1 or 2)", s.Device, s.StopBits)
	}
	switch strings.ToLower(s.Parity) {
	case "none", "n", "even", "e", "odd", "o":
	default:
		return fmt.Errorf("serial '%s' has invalid parity '%s'", s.Device, s.Parity)
	}
	if s.ModbusTimeoutMs < 0 {
		return fmt.Errorf("serial '%s' has negative modbus_timeout_ms", s.Device)
	}
	return nil
}

// ValidateSerialLines validates all lines and rejects duplicate devices
func ValidateSerialLines(lines []SerialLine) error {
	used := make(map[string]bool)
	for i := range lines {
		if err := lines[i].Validate(); err != nil {
			return fmt.Errorf("modbus.serial[%d]: %w", i, err)
		}
		if used[lines[i].Device] {
			return hwcerrors.NewDeviceConfigError("modbus.serial.device", "duplicate serial device '%s'", lines[i].Device)
		}
		used[lines[i].Device] = true
	}
	return nil
}

// Validate validates the device configuration
func (d *DeviceConfig) Validate() error {
	if d.Class != ClassHotWaterController {
		return fmt.Errorf("device '%s' has invalid class '%s' (expected %s)", d.Name, d.Class, ClassHotWaterController)
	}
	if d.Name == "" {
		return fmt.Errorf("device name is required")
	}
	if d.SerialDevice == "" {
		return fmt.Errorf("device '%s' has no serial_device", d.Name)
	}
	if d.Address < 1 || d.Address > 247 {
		return fmt.Errorf("device '%s' has invalid address %d (must be 1-247)", d.Name, d.Address)
	}
	if d.TimeoutMs < 0 {
		return fmt.Errorf("device '%s' has negative timeout_ms", d.Name)
	}
	if r := d.Reset; r != nil {
		switch r.Type {
		case "none", "user":
		case "gpio":
			if r.Pin == "" {
				return fmt.Errorf("device '%s' reset type gpio requires a pin", d.Name)
			}
		default:
			return fmt.Errorf("device '%s' has invalid reset type '%s'", d.Name, r.Type)
		}
		if r.HoldMs < 0 || r.SettleMs < 0 {
			return fmt.Errorf("device '%s' reset times must be non-negative", d.Name)
		}
	}
	return nil
}

// ValidateDevices validates the enabled devices and checks for conflicts
func ValidateDevices(devices []DeviceConfig, lines []SerialLine) error {
	enabledLines := make(map[string]bool)
	for _, l := range lines {
		if !l.Disabled {
			enabledLines[l.Device] = true
		}
	}

	usedNames := make(map[string]bool)
	usedAddresses := make(map[string]string)
	for i := range devices {
		d := &devices[i]
		if d.Disabled {
			continue
		}
		if err := d.Validate(); err != nil {
			return fmt.Errorf("modbus.devices[%d]: %w", i, err)
		}
		if !enabledLines[d.SerialDevice] {
			return hwcerrors.NewDeviceConfigError("modbus.devices.serial_device", "serial %s not defined", d.SerialDevice)
		}
		if usedNames[d.Name] {
			return hwcerrors.NewDeviceConfigError("modbus.devices.name", "duplicate device name '%s'", d.Name)
		}
		usedNames[d.Name] = true

		key := fmt.Sprintf("%s#%d", d.SerialDevice, d.Address)
		if existing, exists := usedAddresses[key]; exists {
			return hwcerrors.NewDeviceConfigError("modbus.devices.address",
				"duplicate address %d on %s: used by both '%s' and '%s'", d.Address, d.SerialDevice, existing, d.Name)
		}
		usedAddresses[key] = d.Name
	}
	return nil
}

// EnabledSerialLines returns the lines that are not disabled
func (c *Config) EnabledSerialLines() []SerialLine {
	var rv []SerialLine
	for _, l := range c.Modbus.Serial {
		if !l.Disabled {
			rv = append(rv, l)
		}
	}
	return rv
}

// EnabledDevices returns the devices that are not disabled
func (c *Config) EnabledDevices() []DeviceConfig {
	var rv []DeviceConfig
	for _, d := range c.Modbus.Devices {
		if !d.Disabled {
			rv = append(rv, d)
		}
	}
	return rv
}
