// Package controller implements the closed-loop heater power controller.
// A 1 Hz refresh computes a setpoint per mode, drives the actuator, reads
// back the active power and integrates energy with the trapezoidal rule.
package controller

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	hwcerrors "hwc-server/internal/errors"
	"hwc-server/internal/logger"
	"hwc-server/internal/model"
	"hwc-server/internal/recovery"
)

const (
	// OnWatts is the fixed setpoint of mode on
	OnWatts = 2000
	// PowerRampStep is the setpoint increase per refresh in mode power
	PowerRampStep = 25
	// MaxActivePower is the upper bound of a plausible measured power
	MaxActivePower = 2500

	DefaultRefreshPeriod = time.Second
	DefaultGracePeriod   = 20 * time.Second
	maxIntegrationGap    = 10 * time.Second
)

// Actuator is the device driven by the controller
type Actuator interface {
	WriteActivePower(ctx context.Context, watts float64) error
	Refresh(ctx context.Context) error
	ActivePower() model.Value
}

// StatusObserver receives the controller status after each refresh
type StatusObserver interface {
	ControllerStatusChanged(status model.ControllerStatus)
}

// Config holds the startup settings
type Config struct {
	StartMode     model.ControllerMode
	Parameter     model.ControllerParameter
	RefreshPeriod time.Duration
	GracePeriod   time.Duration
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger
func WithLogger(log logger.ILogger) Option {
	return func(c *Controller) { c.log = log }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithObserver adds a status observer
func WithObserver(o StatusObserver) Option {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

type anchor struct {
	at    time.Time
	power float64
	valid bool
}

// Controller is the power controller state machine
type Controller struct {
	cfg       Config
	actuator  Actuator
	log       logger.ILogger
	now       func() time.Time
	observers []StatusObserver

	// refreshMu serializes actuator access; mu guards the state below
	refreshMu sync.Mutex
	mu        sync.Mutex

	mode          model.ControllerMode
	parameter     model.ControllerParameter
	smartValues   *model.SmartModeValues
	setpointPower float64
	activePower   float64
	activeValid   bool
	energyDaily   float64
	energyTotal   float64
	dailyAt       time.Time
	last          *anchor
	policy        *SmartPolicy
	recovery      *recovery.ErrorRecoveryManager

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a controller in cfg.StartMode
func New(cfg Config, actuator Actuator, opts ...Option) (*Controller, error) {
	if cfg.RefreshPeriod <= 0 {
		cfg.RefreshPeriod = DefaultRefreshPeriod
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	c := &Controller{
		cfg:      cfg,
		actuator: actuator,
		log:      logger.NewComponentLogger("controller"),
		now:      time.Now,
		policy:   NewSmartPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.recovery = recovery.NewErrorRecoveryManagerWithClock(cfg.GracePeriod, c.now)

	p := cfg.Parameter
	if p.CreatedAt.IsZero() {
		p.CreatedAt = model.At(c.now())
	}
	if p.From == "" {
		p.From = "config"
	}
	if cfg.StartMode != "" {
		p.Mode = cfg.StartMode
	}
	if p.Mode == "" {
		p.Mode = model.ModeOff
	}
	if err := p.Validate(); err != nil {
		return nil, hwcerrors.NewConfigError("controller", err, "controller.start_mode")
	}
	c.parameter = p
	c.mode = p.Mode
	c.dailyAt = c.now()
	return c, nil
}

// Mode returns the current mode
func (c *Controller) Mode() model.ControllerMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches the mode; shutdown cannot be set
func (c *Controller) SetMode(mode model.ControllerMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == model.ModeShutdown {
		return hwcerrors.NewControllerError("set_mode", hwcerrors.ErrShutdown)
	}
	if _, err := model.ParseControllerMode(string(mode)); err != nil {
		return err
	}
	if mode == model.ModeShutdown {
		return hwcerrors.InvalidArgument("mode %s cannot be set", mode)
	}
	if mode != c.mode {
		c.log.LogDebug("set new mode %s", mode)
		c.policy.Reset()
	}
	c.mode = mode
	c.parameter.Mode = mode
	return nil
}

// SetParameter replaces the parameter set, refreshes once and returns the new status
func (c *Controller) SetParameter(ctx context.Context, p model.ControllerParameter) (model.ControllerStatus, error) {
	if err := p.Validate(); err != nil {
		return model.ControllerStatus{}, err
	}
	c.mu.Lock()
	if c.mode == model.ModeShutdown {
		c.mu.Unlock()
		return model.ControllerStatus{}, hwcerrors.NewControllerError("set_parameter", hwcerrors.ErrShutdown)
	}
	if p.Mode != c.mode {
		c.policy.Reset()
	}
	c.parameter = p
	c.mode = p.Mode
	c.mu.Unlock()
	c.log.LogInfo("new parameter from %s: mode=%s desired=%.0fW min=%.0fW max=%.0fW",
		p.From, p.Mode, p.DesiredWatts, p.Min(), p.Max())

	if err := c.Refresh(ctx); err != nil {
		return c.Status(), err
	}
	return c.Status(), nil
}

// RestoreParameter applies a persisted parameter set without refreshing
func (c *Controller) RestoreParameter(p model.ControllerParameter) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == model.ModeShutdown {
		return hwcerrors.NewControllerError("restore_parameter", hwcerrors.ErrShutdown)
	}
	c.parameter = p
	c.mode = p.Mode
	c.policy.Reset()
	return nil
}

// SetSmartModeValues stores new telemetry for smart mode
func (c *Controller) SetSmartModeValues(v *model.SmartModeValues) error {
	if v == nil {
		return hwcerrors.InvalidArgument("missing smart mode values")
	}
	if err := v.Validate(); err != nil {
		return err
	}
	cp := *v
	c.mu.Lock()
	defer c.mu.Unlock()
	c.smartValues = &cp
	return nil
}

// SetSetpointPower overrides the last commanded power, the start of the next ramp
func (c *Controller) SetSetpointPower(watts float64) error {
	if math.IsNaN(watts) || watts < 0 || watts > MaxActivePower {
		return hwcerrors.NewValidationError("setpointPower", "0..2500", watts)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == model.ModeShutdown {
		return hwcerrors.NewControllerError("set_setpoint", hwcerrors.ErrShutdown)
	}
	c.setpointPower = watts
	return nil
}

// SetEnergyTotal seeds the total energy, only before integration started
func (c *Controller) SetEnergyTotal(wh float64) error {
	if math.IsNaN(wh) || wh < 0 {
		return hwcerrors.NewValidationError("energyTotal", ">= 0", wh)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last != nil {
		return hwcerrors.NewControllerError("set_energy_total", fmt.Errorf("%w: integration already started", hwcerrors.ErrInvalidArgument))
	}
	c.energyTotal = wh
	return nil
}

// SetEnergyDaily seeds today's energy measured at, only before integration started
func (c *Controller) SetEnergyDaily(at time.Time, wh float64) error {
	if math.IsNaN(wh) || wh < 0 {
		return hwcerrors.NewValidationError("energyDaily", ">= 0", wh)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last != nil {
		return hwcerrors.NewControllerError("set_energy_daily", fmt.Errorf("%w: integration already started", hwcerrors.ErrInvalidArgument))
	}
	c.energyDaily = wh
	c.dailyAt = at
	return nil
}

// Status returns a snapshot of the controller state
func (c *Controller) Status() model.ControllerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() model.ControllerStatus {
	s := model.ControllerStatus{
		CreatedAt:     model.At(c.now()),
		Parameter:     c.parameter,
		Mode:          c.mode,
		EnergyDaily:   c.energyDaily,
		EnergyTotal:   c.energyTotal,
		SetpointPower: c.setpointPower,
	}
	if c.activeValid {
		s.ActivePower = c.activePower
	}
	if c.smartValues != nil {
		v := *c.smartValues
		s.SmartModeValues = &v
	}
	return s
}

// Refresh runs one control cycle
func (c *Controller) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.Lock()
	if c.mode == model.ModeShutdown {
		c.mu.Unlock()
		return hwcerrors.NewControllerError("refresh", hwcerrors.ErrShutdown)
	}
	now := c.now()
	if c.smartValues != nil && c.smartValues.Age(now) > DefaultSmartValuesMaxAge {
		c.log.LogDebug("smart mode values expired (%v old)", c.smartValues.Age(now).Round(time.Second))
		c.smartValues = nil
	}
	sp, err := c.setpointLocked(now)
	if err != nil {
		c.failedLocked("setpoint", err)
		sp = c.setpointPower
	} else {
		c.setpointPower = sp
	}
	c.mu.Unlock()

	err = c.actuator.WriteActivePower(ctx, sp)
	if err == nil {
		err = c.actuator.Refresh(ctx)
	}

	c.mu.Lock()
	if err != nil {
		c.failedLocked("actuator", err)
		status := c.statusLocked()
		c.mu.Unlock()
		c.notify(status)
		return hwcerrors.NewControllerError("refresh", err)
	}
	c.recovery.RecordSuccess()
	c.updateActivePowerLocked(now, c.actuator.ActivePower().Value)
	status := c.statusLocked()
	c.mu.Unlock()

	c.notify(status)
	return nil
}

func (c *Controller) setpointLocked(now time.Time) (float64, error) {
	p := &c.parameter
	prev := c.setpointPower
	var sp float64
	switch c.mode {
	case model.ModeOff, model.ModeTest:
		sp = 0
	case model.ModeOn:
		sp = OnWatts
	case model.ModePower:
		desired := clamp(p.DesiredWatts, p.Min(), p.Max())
		if desired > prev {
			sp = math.Min(prev+PowerRampStep, desired)
		} else {
			sp = desired
		}
		sp = clamp(sp, p.Min(), p.Max())
	case model.ModeSmart:
		if p.Smart == nil {
			return 0, fmt.Errorf("%w: smart mode without smart parameter", hwcerrors.ErrNotReady)
		}
		sp = c.policy.Next(prev, c.smartValues, p, now)
	default:
		return 0, fmt.Errorf("%w: unsupported mode %q", hwcerrors.ErrInvalidArgument, c.mode)
	}
	if math.IsNaN(sp) || sp < 0 {
		return 0, fmt.Errorf("%w: setpoint %v", hwcerrors.ErrInvalidArgument, sp)
	}
	return sp, nil
}

// failedLocked records a failed cycle and falls back to 0W after the grace period.
// Setpoint and actuator failures share one grace window.
func (c *Controller) failedLocked(stage string, err error) {
	expired := c.recovery.RecordError()
	c.log.LogWarn("refresh fails (%s, %d in a row): %v", stage, c.recovery.GetConsecutiveErrors(), err)
	if expired {
		if c.recovery.ShouldDegrade() {
			c.log.LogError("refresh failing for %v, forcing setpoint to 0W", c.recovery.GetTimeSinceFirstError().Round(time.Second))
			c.recovery.MarkDegraded()
		}
		c.setpointPower = 0
	}
}

func (c *Controller) updateActivePowerLocked(now time.Time, p float64) {
	valid := true
	if math.IsNaN(p) || p < 0 || p > MaxActivePower {
		c.log.LogWarn("active power %v out of range, using 0W", p)
		p = 0
		valid = false
	}
	c.activePower = p
	c.activeValid = true

	if !sameDay(c.dailyAt, now) {
		c.log.LogInfo("day changed, energyDaily %.2fWh reset", c.energyDaily)
		c.energyDaily = 0
	}
	c.dailyAt = now

	if c.last != nil && c.last.valid && valid {
		dt := now.Sub(c.last.at)
		if dt > 0 && dt <= maxIntegrationGap {
			e := (c.last.power + p) / 2 * dt.Hours()
			c.energyDaily += e
			c.energyTotal += e
		}
	}
	c.last = &anchor{at: now, power: p, valid: valid}
}

func (c *Controller) notify(status model.ControllerStatus) {
	for _, o := range c.observers {
		o.ControllerStatusChanged(status)
	}
}

// Start runs the refresh loop until ctx ends or Shutdown is called
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil || c.mode == model.ModeShutdown {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	logger.LogStartup("Controller started in mode %s (refresh every %v)", c.Mode(), c.cfg.RefreshPeriod)
	go func() {
		defer close(done)
		ticker := time.NewTicker(c.cfg.RefreshPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// failures are logged and counted in Refresh
				_ = c.Refresh(ctx)
			}
		}
	}()
}

// Shutdown stops the refresh loop, enters the terminal mode and switches the heater off
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.mode == model.ModeShutdown {
		c.mu.Unlock()
		return nil
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	c.mu.Lock()
	c.mode = model.ModeShutdown
	c.setpointPower = 0
	status := c.statusLocked()
	c.mu.Unlock()
	c.notify(status)

	if err := c.actuator.WriteActivePower(ctx, 0); err != nil {
		c.log.LogError("cannot switch heater off on shutdown: %v", err)
		return hwcerrors.NewControllerError("shutdown", err)
	}
	c.log.LogInfo("controller shutdown, heater off")
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
