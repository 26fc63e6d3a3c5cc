// Package hwc implements the hot water controller actuator, a 4-20mA
// current loop driver attached to the Modbus-ASCII line.
package hwc

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	hwcerrors "hwc-server/internal/errors"
	"hwc-server/internal/logger"
	"hwc-server/internal/modbus"
	"hwc-server/internal/model"
)

const (
	registerSetpoint = 1
	registerCurrent  = 2
	registerScale    = 2048

	// DefaultTimeout covers queueing plus echo and response on the line
	DefaultTimeout = 2 * time.Second
)

// Sender is the request path to the serial line
type Sender interface {
	Send(ctx context.Context, frame *modbus.Frame, timeout time.Duration) (*modbus.Request, error)
}

// Config describes one actuator device
type Config struct {
	Name         string
	SerialDevice string
	Address      uint8
	Timeout      time.Duration
	Reset        *modbus.ResetConfig
}

// HotWaterController converts between heater power and loop current
type HotWaterController struct {
	cfg    Config
	sender Sender
	log    logger.ILogger

	mu           sync.RWMutex
	setpoint     model.Value
	current      model.Value
	activePower  model.Value
	lastUpdateAt time.Time
}

var _ modbus.Device = (*HotWaterController)(nil)

// New creates the actuator for cfg using sender
func New(cfg Config, sender Sender, log logger.ILogger) *HotWaterController {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.NewComponentLogger("hwc")
	}
	now := time.Now()
	from := fmt.Sprintf("hwc:%d", cfg.Address)
	return &HotWaterController{
		cfg:         cfg,
		sender:      sender,
		log:         log,
		setpoint:    model.NewValue(now, from, 0, model.UnitMilliamps),
		current:     model.NewValue(now, from, 0, model.UnitMilliamps),
		activePower: model.NewValue(now, from, 0, model.UnitWatt),
	}
}

// ID returns the device id
func (h *HotWaterController) ID() string {
	return fmt.Sprintf("hwc:%d", h.cfg.Address)
}

// Name returns the configured name
func (h *HotWaterController) Name() string {
	if h.cfg.Name == "" {
		return h.ID()
	}
	return h.cfg.Name
}

// SerialDevice returns the serial line of the device
func (h *HotWaterController) SerialDevice() string {
	return h.cfg.SerialDevice
}

// Address returns the slave address
func (h *HotWaterController) Address() uint8 {
	return h.cfg.Address
}

// ResetConfig returns the reset wiring
func (h *HotWaterController) ResetConfig() *modbus.ResetConfig {
	return h.cfg.Reset
}

// WriteActivePower commands a heater power in watts
func (h *HotWaterController) WriteActivePower(ctx context.Context, watts float64) error {
	if math.IsNaN(watts) || watts < 0 {
		return hwcerrors.InvalidArgument("active power %v", watts)
	}
	mA := MilliampsFromWatts(watts)
	logger.LogTrace("writeActivePower(%.0fW) -> %.2fmA", watts, mA)
	return h.WriteCurrent(ctx, mA)
}

// WriteCurrent writes the setpoint loop current in mA
func (h *HotWaterController) WriteCurrent(ctx context.Context, mA float64) error {
	raw := math.Round(mA * registerScale)
	if math.IsNaN(mA) || mA < 0 || raw > 0xFFFE {
		return hwcerrors.InvalidArgument("setpoint current %v mA", mA)
	}
	frame, err := modbus.WriteHoldingRegister(int(h.cfg.Address), registerSetpoint, int(raw))
	if err != nil {
		return err
	}
	req, err := h.sender.Send(ctx, frame, h.cfg.Timeout)
	if err != nil {
		return h.modbusError("write_setpoint", modbus.FuncWriteHoldingRegister, err)
	}
	resp := req.Response()
	if err := h.checkResponse(resp, modbus.FuncWriteHoldingRegister); err != nil {
		return err
	}
	if !resp.Equal(frame) {
		return h.modbusError("write_setpoint", modbus.FuncWriteHoldingRegister,
			fmt.Errorf("unexpected response %s", resp))
	}
	return nil
}

// Refresh reads setpoint and measured current and derives the active power
func (h *HotWaterController) Refresh(ctx context.Context) error {
	frame, err := modbus.ReadHoldingRegisters(int(h.cfg.Address), registerSetpoint, 2)
	if err != nil {
		return err
	}
	req, err := h.sender.Send(ctx, frame, h.cfg.Timeout)
	if err != nil {
		return h.modbusError("read_current", modbus.FuncReadHoldingRegisters, err)
	}
	resp := req.Response()
	if err := h.checkResponse(resp, modbus.FuncReadHoldingRegisters); err != nil {
		return err
	}
	if n, _ := resp.ByteAt(2); resp.Len() < 7 || n != 4 {
		return h.modbusError("read_current", modbus.FuncReadHoldingRegisters,
			fmt.Errorf("%w: short response %s", hwcerrors.ErrFrameFormat, resp))
	}
	rawSetpoint, _ := resp.WordAt(3)
	rawCurrent, _ := resp.WordAt(5)

	at := req.ResponseAt()
	if at.IsZero() {
		at = time.Now()
	}
	setpoint := model.Round(float64(rawSetpoint)/registerScale, 2)
	current := model.Round(float64(rawCurrent)/registerScale, 2)
	power := WattsFromMilliamps(current)

	h.mu.Lock()
	h.setpoint = model.NewValue(at, h.ID(), setpoint, model.UnitMilliamps)
	h.current = model.NewValue(at, h.ID(), current, model.UnitMilliamps)
	h.activePower = model.NewValue(at, h.ID(), power, model.UnitWatt)
	h.lastUpdateAt = at
	h.mu.Unlock()

	logger.LogTrace("%s: setpoint=%.2fmA current=%.2fmA power=%.0fW", h.ID(), setpoint, current, power)
	return nil
}

func (h *HotWaterController) checkResponse(resp *modbus.Frame, fc byte) error {
	if resp == nil {
		return h.modbusError("response", fc, fmt.Errorf("%w: no response", hwcerrors.ErrFrameFormat))
	}
	if resp.Address() != h.cfg.Address {
		return h.modbusError("response", fc, fmt.Errorf("response from slave %d", resp.Address()))
	}
	if resp.IsException() {
		code, _ := resp.ExceptionCode()
		e := h.modbusError("response", fc, fmt.Errorf("%w: code %d", hwcerrors.ErrModbusException, code))
		e.ExceptionCode = code
		return e
	}
	if resp.FunctionCode() != fc {
		return h.modbusError("response", fc, fmt.Errorf("unexpected function code 0x%02X", resp.FunctionCode()))
	}
	return nil
}

func (h *HotWaterController) modbusError(op string, fc byte, err error) *hwcerrors.ModbusError {
	e := hwcerrors.NewModbusError(op, err, h.cfg.Address, h.ID())
	e.FunctionCode = fc
	e.Address = registerSetpoint
	return e
}

// Setpoint4To20mA returns the setpoint current read back from the device
func (h *HotWaterController) Setpoint4To20mA() model.Value {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.setpoint
}

// Current4To20mA returns the measured loop current
func (h *HotWaterController) Current4To20mA() model.Value {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// ActivePower returns the power derived from the measured current
func (h *HotWaterController) ActivePower() model.Value {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.activePower
}

// LastUpdateAt returns the time of the last successful refresh
func (h *HotWaterController) LastUpdateAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastUpdateAt
}
