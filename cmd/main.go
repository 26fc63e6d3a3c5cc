package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"hwc-server/internal/config"
	"hwc-server/internal/controller"
	"hwc-server/internal/discovery"
	hwcerrors "hwc-server/internal/errors"
	"hwc-server/internal/gpio"
	"hwc-server/internal/health"
	"hwc-server/internal/hwc"
	"hwc-server/internal/logger"
	"hwc-server/internal/metrics"
	"hwc-server/internal/modbus"
	"hwc-server/internal/monitor"
	"hwc-server/internal/mqtt"
	"hwc-server/internal/server"
	"hwc-server/internal/statistics"
)

// Version is overridden at build time with -ldflags "-X main.Version=..."
var Version = "1.1.0"

// Application wires all components of the hot water controller
type Application struct {
	config *config.Config
	log    *logger.Logger

	collector metrics.MetricsCollector
	tracker   *metrics.PerformanceTracker
	recorder  *metrics.Recorder
	health    *health.SerialHealthMonitor
	errors    *hwcerrors.ErrorHandler

	registry   *modbus.DeviceRegistry
	transports []*modbus.SerialTransport
	actuator   *hwc.HotWaterController

	controller *controller.Controller
	monitor    *monitor.Monitor
	statistics *statistics.Statistics
	server     *server.Server
	publisher  *mqtt.Publisher
	advertiser *discovery.Advertiser

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// lineDiagnostics reports a serial line once when it starts failing
type lineDiagnostics struct {
	handler *hwcerrors.ErrorHandler

	mu      sync.Mutex
	failing map[string]bool
}

func (d *lineDiagnostics) RequestCompleted(serialDevice string, _ *modbus.Request, err error) {
	d.mu.Lock()
	was := d.failing[serialDevice]
	d.failing[serialDevice] = err != nil
	d.mu.Unlock()

	if err != nil && !was {
		d.handler.Handle(context.Background(), err)
	}
}

// NewApplication loads the configuration and builds all components
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}

	app := &Application{
		config:   cfg,
		log:      logger.NewLogger(&cfg.Logging),
		registry: modbus.NewDeviceRegistry(),
	}
	logger.LogStartup("Logging initialized with level: %s", cfg.Logging.Level)

	if err := app.buildObservability(); err != nil {
		return nil, err
	}
	if err := app.buildModbus(); err != nil {
		return nil, err
	}
	if err := app.buildServices(); err != nil {
		return nil, err
	}
	return app, nil
}

func (app *Application) buildObservability() error {
	cfg := app.config

	if cfg.Metrics.Enabled {
		app.collector = metrics.NewPrometheusMetrics()
		logger.LogInfo("📊 Prometheus metrics enabled on /metrics")
	} else {
		app.collector = metrics.NewNullMetrics()
	}
	app.tracker = metrics.NewPerformanceTracker(time.Duration(cfg.Metrics.SummaryInterval) * time.Second)
	app.recorder = metrics.NewRecorder(app.collector, app.tracker)

	if cfg.MQTT.Enabled {
		app.publisher = mqtt.NewPublisher(config.NewMQTTSettings(cfg), nil, app.collector, logger.NewComponentLogger("mqtt"))
		app.errors = hwcerrors.NewErrorHandler(logger.NewComponentLogger("errors"), app.publisher)
	} else {
		app.errors = hwcerrors.NewErrorHandler(logger.NewComponentLogger("errors"), nil)
	}

	lines := cfg.EnabledSerialLines()
	names := make([]string, 0, len(lines))
	for _, l := range lines {
		names = append(names, l.Device)
	}
	app.health = health.NewSerialHealthMonitor(cfg.ErrorGracePeriod(), logger.NewComponentLogger("health"), names...)
	return nil
}

func (app *Application) buildModbus() error {
	cfg := app.config
	devices := cfg.EnabledDevices()

	var output gpio.DigitalOutput
	for _, d := range devices {
		if d.Reset != nil && d.Reset.Type == modbus.ResetGPIO {
			out, err := gpio.NewPeriphOutput()
			if err != nil {
				return fmt.Errorf("gpio initialization failed: %w", err)
			}
			output = out
			break
		}
	}

	diagnostics := &lineDiagnostics{handler: app.errors, failing: map[string]bool{}}
	transports := map[string]*modbus.SerialTransport{}
	for _, l := range cfg.EnabledSerialLines() {
		opts := []modbus.TransportOption{
			modbus.WithLogger(logger.NewComponentLogger("serial " + l.Device)),
			modbus.WithModbusTimeout(l.ModbusTimeout()),
			modbus.WithObserver(app.recorder),
			modbus.WithObserver(app.health),
			modbus.WithObserver(diagnostics),
		}
		if output != nil {
			opts = append(opts, modbus.WithDigitalOutput(output))
		}
		t := modbus.NewSerialTransport(config.NewSerialSettings(l), opts...)
		transports[l.Device] = t
		app.transports = append(app.transports, t)
		logger.LogInfo("🔌 Serial line %s (%d baud)", l.Device, l.BaudRate)
	}

	for _, d := range devices {
		t, ok := transports[d.SerialDevice]
		if !ok {
			logger.LogWarn("⚠️  Device %s skipped, serial %s is disabled", d.Name, d.SerialDevice)
			continue
		}
		dev := hwc.New(config.NewDeviceSettings(d), t, logger.NewComponentLogger(d.Name))
		if err := app.registry.Add(dev); err != nil {
			return fmt.Errorf("device %s: %w", d.Name, err)
		}
		if app.actuator == nil {
			app.actuator = dev
		}
		logger.LogInfo("🔥 Device %s at address %d on %s", d.Name, d.Address, d.SerialDevice)
	}

	if app.actuator == nil {
		return hwcerrors.NewConfigError("create controller", errors.New("no enabled device of class "+config.ClassHotWaterController), "modbus.devices")
	}
	return nil
}

func (app *Application) buildServices() error {
	cfg := app.config

	stats, err := statistics.New(config.NewStatisticsSettings(cfg), logger.NewComponentLogger("statistics"))
	if err != nil {
		return fmt.Errorf("statistics: %w", err)
	}
	app.statistics = stats

	ctrlOpts := []controller.Option{
		controller.WithLogger(logger.NewComponentLogger("controller")),
		controller.WithObserver(app.recorder),
	}
	if app.publisher != nil {
		ctrlOpts = append(ctrlOpts, controller.WithObserver(app.publisher))
	}
	ctrl, err := controller.New(config.NewControllerSettings(cfg), app.actuator, ctrlOpts...)
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	app.controller = ctrl
	if app.publisher != nil && cfg.MQTT.SmartValues {
		app.publisher.SetSink(ctrl)
	}

	mon, err := monitor.New(config.NewMonitorSettings(cfg), ctrl, app.actuator,
		monitor.WithLogger(logger.NewComponentLogger("monitor")),
		monitor.WithObserver(stats),
	)
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	app.monitor = mon

	if !cfg.Server.Disabled {
		auth, err := server.NewPinAuthenticator(cfg.Server.Pin, cfg.Server.PinHash)
		if err != nil {
			return err
		}
		srv, err := server.New(config.NewServerSettings(cfg), server.Deps{
			Controller: ctrl,
			Monitor:    mon,
			Auth:       auth,
			Health: health.NewHealthHandler(app.health, func() string {
				return string(ctrl.Mode())
			}, Version),
			Metrics: app.collector.Handler(),
			Version: Version,
		}, server.WithLogger(logger.NewComponentLogger("http")))
		if err != nil {
			return err
		}
		app.server = srv
	}

	app.advertiser = discovery.NewAdvertiser(config.NewDiscoverySettings(cfg, Version), logger.NewComponentLogger("mdns"))
	return nil
}

// Start opens the serial lines and starts all background loops
func (app *Application) Start(ctx context.Context) error {
	logger.LogInfo("🚀 Starting hwc-server %s...", Version)
	ctx, app.cancel = context.WithCancel(ctx)

	for _, t := range app.transports {
		devices := app.registry.OnSerial(t.Device())
		if err := t.Open(ctx, devices); err != nil {
			return fmt.Errorf("open serial %s: %w", t.Device(), err)
		}
		logger.LogInfo("✅ Serial %s open with %d device(s)", t.Device(), len(devices))
	}

	if err := app.monitor.Seed(); err != nil {
		logger.LogWarn("⚠️  Cannot restore from snapshot: %v", err)
	}

	app.controller.Start(ctx)
	app.monitor.Start(ctx)
	app.statistics.Start(ctx)

	if app.server != nil {
		if err := app.server.Start(); err != nil {
			return err
		}
	}

	if app.publisher != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			if err := app.publisher.Connect(ctx); err != nil {
				app.errors.Handle(ctx, err)
			}
		}()
	}

	if err := app.advertiser.Start(); err != nil {
		logger.LogWarn("⚠️  mDNS advertisement failed: %v", err)
	}

	app.wg.Add(1)
	go app.summaryLoop(ctx)

	logger.LogInfo("✅ hwc-server started (mode %s)", app.controller.Mode())
	return nil
}

// summaryLoop logs the request summary of the serial lines
func (app *Application) summaryLoop(ctx context.Context) {
	defer app.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.tracker.PrintSummaryIfNeeded()
		}
	}
}

// Stop runs the shutdown sequence and returns the number of failed steps
func (app *Application) Stop(ctx context.Context) int {
	logger.LogInfo("🛑 Stopping hwc-server...")
	failed := 0
	step := func(name string, err error) {
		if err != nil {
			failed++
			logger.LogWarn("⚠️  Shutdown of %s fails: %v", name, err)
		}
	}

	step("controller", app.controller.Shutdown(ctx))
	if app.server != nil {
		step("server", app.server.Shutdown(ctx))
	}
	app.monitor.Stop()
	step("statistics", app.statistics.Stop())
	if app.publisher != nil {
		app.publisher.Disconnect()
	}
	app.advertiser.Stop()

	if app.cancel != nil {
		app.cancel()
	}
	app.wg.Wait()

	for _, t := range app.transports {
		step("serial "+t.Device(), t.Close())
	}
	logger.LogInfo("✅ hwc-server stopped")
	return failed
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	configPath := ""
	for i, arg := range os.Args[1:] {
		if arg == "--help" || arg == "-h" {
			fmt.Printf("Usage: %s [config_path]\n", os.Args[0])
			fmt.Printf("  config_path: Path to configuration file (optional)\n")
			return
		} else if arg == "--version" {
			fmt.Println(Version)
			return
		} else if i == 0 {
			configPath = arg
		}
	}

	app, err := NewApplication(configPath)
	if err != nil {
		logger.LogError("Application creation error: %v", err)
		os.Exit(1)
	}

	if err := app.Start(ctx); err != nil {
		app.errors.Handle(ctx, err)
		logger.LogError("Application start error: %v", err)
		stopCtx, stopCancel := context.WithTimeout(context.Background(), app.config.ShutdownTimeout())
		app.Stop(stopCtx)
		stopCancel()
		os.Exit(1)
	}

	sig := <-sigChan
	logger.LogInfo("📢 Signal %v received, shutdown...", sig)

	timeout := app.config.ShutdownTimeout()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), timeout)
	defer stopCancel()

	done := make(chan int, 1)
	go func() { done <- app.Stop(stopCtx) }()

	select {
	case failed := <-done:
		if err := app.log.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close log: %v\n", err)
		}
		if failed > 0 {
			os.Exit(failed)
		}
	case <-time.After(timeout + 100*time.Millisecond):
		logger.LogError("Shutdown not finished after %v, exit with code 1", timeout)
		os.Exit(1)
	}
}
