// Package config loads and validates the YAML configuration of the service.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"hwc-server/internal/logger"
	"hwc-server/internal/model"
)

// Config is the root of the configuration file
type Config struct {
	Version    string               `yaml:"version"`
	Logging    logger.LoggingConfig `yaml:"logging"`
	Server     ServerConfig         `yaml:"server"`
	Modbus     ModbusConfig         `yaml:"modbus"`
	Controller ControllerConfig     `yaml:"controller"`
	Monitor    MonitorConfig        `yaml:"monitor"`
	Statistics StatisticsConfig     `yaml:"statistics"`
	MQTT       MQTTConfig           `yaml:"mqtt"`
	Metrics    MetricsConfig        `yaml:"metrics"`
	MDNS       MDNSConfig           `yaml:"mdns"`
}

// ServerConfig contains the HTTP listener and the pin protecting parameter changes
type ServerConfig struct {
	Disabled       bool   `yaml:"disabled"`
	Address        string `yaml:"address"`
	Port           int    `yaml:"port"`
	Pin            string `yaml:"pin"`
	PinHash        string `yaml:"pin_hash"` // bcrypt hash, preferred over pin
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
}

// ModbusConfig lists the serial lines and the devices attached to them
type ModbusConfig struct {
	Serial           []SerialLine   `yaml:"serial"`
	Devices          []DeviceConfig `yaml:"devices"`
	ErrorGracePeriod int            `yaml:"error_grace_period"` // seconds until a failing line is reported offline
}

// ControllerConfig contains the startup settings of the power controller
type ControllerConfig struct {
	StartMode       string                    `yaml:"start_mode"`
	RefreshPeriodMs int                       `yaml:"refresh_period_ms"`
	GracePeriodMs   int                       `yaml:"grace_period_ms"`
	ShutdownMillis  int                       `yaml:"shutdown_millis"`
	Parameter       ParameterConfig           `yaml:"parameter"`
	Smart           *model.SmartModeParameter `yaml:"smart"`
}

// ParameterConfig are the power limits applied at startup
type ParameterConfig struct {
	DesiredWatts float64  `yaml:"desired_watts"`
	MinWatts     *float64 `yaml:"min_watts"`
	MaxWatts     *float64 `yaml:"max_watts"`
}

// MonitorConfig controls sampling and snapshot files
type MonitorConfig struct {
	Disabled        bool           `yaml:"disabled"`
	PollingPeriodMs int            `yaml:"polling_period_ms"`
	TempFile        TempFileConfig `yaml:"temp_file"`
}

// TempFileConfig is the snapshot rotation
type TempFileConfig struct {
	Path    string `yaml:"path"`
	Backups int    `yaml:"backups"`
}

// StatisticsConfig controls the CSV aggregation
type StatisticsConfig struct {
	Disabled        bool          `yaml:"disabled"`
	TimeslotSeconds int           `yaml:"timeslot_seconds"`
	DBType          string        `yaml:"dbtyp"`
	CSVFile         CSVFileConfig `yaml:"csvfile"`
}

// CSVFileConfig names the CSV file; %Y %M %D %m %d are expanded
type CSVFileConfig struct {
	Filename string `yaml:"filename"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	KeepAlive   int    `yaml:"keep_alive"`  // seconds
	RetryDelay  int    `yaml:"retry_delay"` // Delay between connection retries in milliseconds
	TopicPrefix string `yaml:"topic_prefix"`
	// SmartValues subscribes to <topic_prefix>/smartmode/values
	SmartValues bool `yaml:"smart_values"`
}

// MetricsConfig enables the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// SummaryInterval is the period of the request summary log in seconds
	SummaryInterval int `yaml:"summary_interval"`
}

// MDNSConfig controls the mDNS advertisement of the HTTP service
type MDNSConfig struct {
	Enabled      bool   `yaml:"enabled"`
	InstanceName string `yaml:"instance_name"`
	Interface    string `yaml:"interface"`
}

// DefaultPaths are tried in order after the path given on the command line
var DefaultPaths = []string{
	"/etc/hwc-server/config.yaml",
	"/etc/hwc-server.yaml",
	"./config.yaml",
}

// LoadConfig loads configuration from the specified file or a default location
func LoadConfig(configPath string) (*Config, error) {
	paths := append([]string{configPath}, DefaultPaths...)

	var data []byte
	var err error
	var usedPath string

	for _, path := range paths {
		if path == "" {
			continue
		}
		// #nosec G304 - path comes from the command line or the fixed list above
		data, err = os.ReadFile(path)
		if err == nil {
			usedPath = path
			break
		}
	}

	if usedPath == "" {
		return nil, fmt.Errorf("cannot read configuration file from any of the locations: %v. Last error: %w", paths, err)
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", usedPath, err)
	}
	logger.LogInfo("✅ Configuration loaded successfully from %s (version: %s)", usedPath, cfg.Version)
	return cfg, nil
}

// LoadConfigFromString loads configuration from a YAML string (for testing)
func LoadConfigFromString(yamlContent string) (*Config, error) {
	return parse([]byte(yamlContent))
}

func parse(data []byte) (*Config, error) {
	var versionCheck VersionInfo
	if err := yaml.Unmarshal(data, &versionCheck); err != nil {
		return nil, fmt.Errorf("error parsing configuration version: %w", err)
	}
	if versionCheck.Version == "" {
		logger.LogWarn("⚠️  No 'version' field in configuration, assuming %s", MinCompatibleVersion)
		versionCheck.Version = MinCompatibleVersion
	}
	if err := ValidateVersion(versionCheck.Version); err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}
	config.Version = versionCheck.Version
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = logger.LogLevelInfo
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Modbus.ErrorGracePeriod == 0 {
		c.Modbus.ErrorGracePeriod = 15
	}
	for i := range c.Modbus.Serial {
		s := &c.Modbus.Serial[i]
		if s.BaudRate == 0 {
			s.BaudRate = 9600
		}
		if s.DataBits == 0 {
			s.DataBits = 8
		}
		if s.StopBits == 0 {
			s.StopBits = 1
		}
		if s.Parity == "" {
			s.Parity = "none"
		}
	}
	for i := range c.Modbus.Devices {
		d := &c.Modbus.Devices[i]
		if d.Reset != nil && d.Reset.Type == "" {
			d.Reset.Type = "none"
		}
	}
	if c.Controller.StartMode == "" {
		c.Controller.StartMode = string(model.ModeOff)
	}
	if c.Controller.RefreshPeriodMs == 0 {
		c.Controller.RefreshPeriodMs = 1000
	}
	if c.Controller.GracePeriodMs == 0 {
		c.Controller.GracePeriodMs = 20000
	}
	if c.Controller.ShutdownMillis <= 0 {
		c.Controller.ShutdownMillis = 500
	}
	if c.Monitor.TempFile.Backups <= 0 {
		c.Monitor.TempFile.Backups = 1
	}
	if c.Statistics.DBType == "" {
		c.Statistics.DBType = "csvfile"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "hwc"
	}
	if c.Metrics.SummaryInterval == 0 {
		c.Metrics.SummaryInterval = 300
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535")
	}
	if !c.Server.Disabled && c.Server.Pin == "" && c.Server.PinHash == "" {
		logger.LogWarn("⚠️  server.pin not set, POST /controller/parameter will reject all requests")
	}

	if err := ValidateSerialLines(c.Modbus.Serial); err != nil {
		return err
	}
	if err := ValidateDevices(c.Modbus.Devices, c.Modbus.Serial); err != nil {
		return err
	}
	if c.Modbus.ErrorGracePeriod < 0 {
		return fmt.Errorf("modbus.error_grace_period must be non-negative")
	}

	mode, err := model.ParseControllerMode(c.Controller.StartMode)
	if err != nil {
		return fmt.Errorf("controller.start_mode: %w", err)
	}
	if mode == model.ModeShutdown {
		return fmt.Errorf("controller.start_mode cannot be shutdown")
	}
	if c.Controller.RefreshPeriodMs < 100 {
		return fmt.Errorf("controller.refresh_period_ms must be at least 100")
	}
	if c.Controller.GracePeriodMs < 0 {
		return fmt.Errorf("controller.grace_period_ms must be non-negative")
	}
	if p := c.ControllerParameter(); p != nil {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("controller.parameter: %w", err)
		}
	}

	if !c.Monitor.Disabled {
		if c.Monitor.PollingPeriodMs <= 0 {
			return fmt.Errorf("monitor.polling_period_ms must be positive")
		}
	}

	if !c.Statistics.Disabled {
		if c.Statistics.TimeslotSeconds < 1 {
			return fmt.Errorf("statistics.timeslot_seconds must be at least 1")
		}
		if strings.ToLower(c.Statistics.DBType) != "csvfile" {
			return fmt.Errorf("statistics.dbtyp %q is not supported (csvfile)", c.Statistics.DBType)
		}
		if c.Statistics.CSVFile.Filename == "" {
			return fmt.Errorf("statistics.csvfile.filename is not specified")
		}
		if c.Monitor.Disabled {
			logger.LogWarn("⚠️  statistics enabled but monitor disabled, no records will be collected")
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is not specified")
		}
		if c.MQTT.Port <= 0 {
			return fmt.Errorf("mqtt.port must be positive")
		}
	}

	if c.MDNS.Enabled && c.Server.Disabled {
		return fmt.Errorf("mdns.enabled requires the HTTP server")
	}
	return nil
}
