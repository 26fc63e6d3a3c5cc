package main

import (
	"fmt"
	"os"

	"hwc-server/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: validate_config <config-file>")
		os.Exit(1)
	}

	configPath := os.Args[1]
	fmt.Printf("📄 Loading config from: %s\n", configPath)

	// no fallback to the default locations
	config.DefaultPaths = nil
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("❌ Error loading config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Config loaded successfully!\n")
	fmt.Printf("   Version: %s\n", cfg.Version)

	fmt.Printf("   Serial lines: %d\n", len(cfg.Modbus.Serial))
	for _, l := range cfg.Modbus.Serial {
		fmt.Printf("     - %s: %d baud %d%s%d, timeout %v, enabled: %v\n",
			l.Device, l.BaudRate, l.DataBits, l.Parity[:1], l.StopBits, l.ModbusTimeout(), !l.Disabled)
	}

	fmt.Printf("   Devices: %d\n", len(cfg.Modbus.Devices))
	for _, d := range cfg.Modbus.Devices {
		fmt.Printf("     - %s:\n", d.Name)
		fmt.Printf("         Class: %s\n", d.Class)
		fmt.Printf("         Serial: %s\n", d.SerialDevice)
		fmt.Printf("         Address: %d\n", d.Address)
		if d.Reset != nil {
			fmt.Printf("         Reset: %s %s\n", d.Reset.Type, d.Reset.Pin)
		}
		fmt.Printf("         Enabled: %v\n", !d.Disabled)
	}

	ctrl := config.NewControllerSettings(cfg)
	fmt.Printf("   Controller: start mode %s, %.0f W desired, refresh %v, shutdown %v\n",
		ctrl.StartMode, ctrl.Parameter.DesiredWatts, ctrl.RefreshPeriod, cfg.ShutdownTimeout())

	if cfg.Monitor.Disabled {
		fmt.Printf("   Monitor: disabled\n")
	} else {
		fmt.Printf("   Monitor: every %d ms, snapshot %q\n", cfg.Monitor.PollingPeriodMs, cfg.Monitor.TempFile.Path)
	}
	if cfg.Statistics.Disabled {
		fmt.Printf("   Statistics: disabled\n")
	} else {
		fmt.Printf("   Statistics: %ds slots to %s\n", cfg.Statistics.TimeslotSeconds, cfg.Statistics.CSVFile.Filename)
	}
	if cfg.Server.Disabled {
		fmt.Printf("   HTTP server: disabled\n")
	} else {
		fmt.Printf("   HTTP server: %s\n", config.NewServerSettings(cfg).Addr())
	}
	if cfg.MQTT.Enabled {
		fmt.Printf("   MQTT Broker: %s:%d (prefix %s)\n", cfg.MQTT.Broker, cfg.MQTT.Port, cfg.MQTT.TopicPrefix)
	}

	fmt.Println("\n✅ Configuration is valid!")
}
