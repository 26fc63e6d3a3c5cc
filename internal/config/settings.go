package config

import (
	"time"

	"hwc-server/internal/controller"
	"hwc-server/internal/discovery"
	"hwc-server/internal/hwc"
	"hwc-server/internal/modbus"
	"hwc-server/internal/model"
	"hwc-server/internal/monitor"
	"hwc-server/internal/mqtt"
	"hwc-server/internal/server"
	"hwc-server/internal/statistics"
)

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// NewSerialSettings converts a serial line to the transport configuration
func NewSerialSettings(l SerialLine) modbus.SerialConfig {
	return modbus.SerialConfig{
		Device:   l.Device,
		BaudRate: l.BaudRate,
		DataBits: l.DataBits,
		StopBits: l.StopBits,
		Parity:   l.Parity,
	}
}

// ModbusTimeout returns the reply window of a line
func (l SerialLine) ModbusTimeout() time.Duration {
	if l.ModbusTimeoutMs > 0 {
		return millis(l.ModbusTimeoutMs)
	}
	return modbus.DefaultModbusTimeout
}

// NewDeviceSettings converts a device entry to the actuator configuration
func NewDeviceSettings(d DeviceConfig) hwc.Config {
	cfg := hwc.Config{
		Name:         d.Name,
		SerialDevice: d.SerialDevice,
		Address:      uint8(d.Address),
		Timeout:      millis(d.TimeoutMs),
	}
	if d.Reset != nil {
		cfg.Reset = &modbus.ResetConfig{
			Type:   d.Reset.Type,
			Pin:    d.Reset.Pin,
			Level:  d.Reset.Level,
			Hold:   millis(d.Reset.HoldMs),
			Settle: millis(d.Reset.SettleMs),
		}
	}
	return cfg
}

// ControllerParameter builds the startup parameter set
func (c *Config) ControllerParameter() *model.ControllerParameter {
	mode, err := model.ParseControllerMode(c.Controller.StartMode)
	if err != nil {
		return nil
	}
	return &model.ControllerParameter{
		CreatedAt:    model.At(time.Now()),
		From:         "config",
		Mode:         mode,
		DesiredWatts: c.Controller.Parameter.DesiredWatts,
		MinWatts:     c.Controller.Parameter.MinWatts,
		MaxWatts:     c.Controller.Parameter.MaxWatts,
		Smart:        c.Controller.Smart,
	}
}

// NewControllerSettings extracts the controller configuration
func NewControllerSettings(c *Config) controller.Config {
	cfg := controller.Config{
		RefreshPeriod: millis(c.Controller.RefreshPeriodMs),
		GracePeriod:   millis(c.Controller.GracePeriodMs),
	}
	if p := c.ControllerParameter(); p != nil {
		cfg.Parameter = *p
		cfg.StartMode = p.Mode
	}
	return cfg
}

// ShutdownTimeout is the hard deadline of the shutdown sequence
func (c *Config) ShutdownTimeout() time.Duration {
	return millis(c.Controller.ShutdownMillis)
}

// NewMonitorSettings extracts the monitor configuration
func NewMonitorSettings(c *Config) monitor.Config {
	return monitor.Config{
		Disabled:      c.Monitor.Disabled,
		PollingPeriod: millis(c.Monitor.PollingPeriodMs),
		TempFile: monitor.TempFileConfig{
			Path:    c.Monitor.TempFile.Path,
			Backups: c.Monitor.TempFile.Backups,
		},
	}
}

// NewStatisticsSettings extracts the statistics configuration
func NewStatisticsSettings(c *Config) statistics.Config {
	return statistics.Config{
		Disabled: c.Statistics.Disabled,
		Timeslot: time.Duration(c.Statistics.TimeslotSeconds) * time.Second,
		DBType:   c.Statistics.DBType,
		CSVFile:  c.Statistics.CSVFile.Filename,
	}
}

// NewMQTTSettings extracts MQTT settings from full config
func NewMQTTSettings(c *Config) mqtt.Config {
	return mqtt.Config{
		Broker:      c.MQTT.Broker,
		Port:        c.MQTT.Port,
		Username:    c.MQTT.Username,
		Password:    c.MQTT.Password,
		ClientID:    c.MQTT.ClientID,
		KeepAlive:   c.MQTT.KeepAlive,
		RetryDelay:  c.MQTT.RetryDelay,
		TopicPrefix: c.MQTT.TopicPrefix,
	}
}

// NewServerSettings extracts the HTTP listener configuration
func NewServerSettings(c *Config) server.Config {
	return server.Config{
		Address:      c.Server.Address,
		Port:         c.Server.Port,
		ReadTimeout:  millis(c.Server.ReadTimeoutMs),
		WriteTimeout: millis(c.Server.WriteTimeoutMs),
	}
}

// NewDiscoverySettings extracts the mDNS configuration
func NewDiscoverySettings(c *Config, version string) discovery.Config {
	return discovery.Config{
		Enabled:      c.MDNS.Enabled,
		InstanceName: c.MDNS.InstanceName,
		Interface:    c.MDNS.Interface,
		Port:         c.Server.Port,
		Version:      version,
		Path:         "/monitor",
	}
}

// ErrorGracePeriod is the time a failing serial line stays online
func (c *Config) ErrorGracePeriod() time.Duration {
	return time.Duration(c.Modbus.ErrorGracePeriod) * time.Second
}
