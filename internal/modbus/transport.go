package modbus

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	hwcerrors "hwc-server/internal/errors"
	"hwc-server/internal/gpio"
	"hwc-server/internal/logger"
)

// DefaultModbusTimeout is the reply window started when a write completes
const DefaultModbusTimeout = 800 * time.Millisecond

const (
	warnErrorCount  = 5
	resetErrorCount = 10
	defaultHold     = 10 * time.Millisecond
	defaultSettle   = 5 * time.Second
)

// TransportObserver receives the outcome of every request
type TransportObserver interface {
	RequestCompleted(serialDevice string, req *Request, err error)
}

// TransportOption configures a SerialTransport
type TransportOption func(*SerialTransport)

// WithLogger sets the logger
func WithLogger(log logger.ILogger) TransportOption {
	return func(t *SerialTransport) { t.log = log }
}

// WithPortOpener replaces the serial port opener
func WithPortOpener(opener PortOpener) TransportOption {
	return func(t *SerialTransport) { t.opener = opener }
}

// WithDigitalOutput sets the gpio used for target resets
func WithDigitalOutput(out gpio.DigitalOutput) TransportOption {
	return func(t *SerialTransport) { t.gpio = out }
}

// WithObserver registers a request observer
func WithObserver(o TransportObserver) TransportOption {
	return func(t *SerialTransport) { t.observers = append(t.observers, o) }
}

// WithModbusTimeout overrides the reply window
func WithModbusTimeout(d time.Duration) TransportOption {
	return func(t *SerialTransport) { t.modbusTimeout = d }
}

// WithSleep replaces the sleep used during reset sequences
func WithSleep(sleep func(time.Duration)) TransportOption {
	return func(t *SerialTransport) { t.sleep = sleep }
}

type resetDirective struct {
	devices []Device
	initial bool
}

type completion struct {
	request *Request
	err     error
}

type pendingEntry struct {
	request *Request
	reset   *resetDirective

	timer       *time.Timer // overall timeout, started at enqueue
	modbusTimer *time.Timer // reply window, started after the write
	started     bool
	resolved    bool
	err         error
	done        chan struct{}
}

// SerialTransport serializes requests on one half-duplex RS-485 line.
// Exactly one entry of the FIFO queue is on the wire at a time.
type SerialTransport struct {
	config        SerialConfig
	opener        PortOpener
	gpio          gpio.DigitalOutput
	log           logger.ILogger
	observers     []TransportObserver
	modbusTimeout time.Duration
	sleep         func(time.Duration)

	// mu guards everything below
	mu         sync.Mutex
	port       Port
	open       bool
	pending    []*pendingEntry
	frame      []byte
	assembling bool
	resetChars []byte
	errorCnt   int
	stale      *Request // last request that timed out, its late frames are unsolicited
	completed  []completion

	wg sync.WaitGroup
}

// NewSerialTransport creates a transport for one serial line
func NewSerialTransport(cfg SerialConfig, opts ...TransportOption) *SerialTransport {
	t := &SerialTransport{
		config:        cfg,
		opener:        OpenSerialPort,
		log:           logger.NewComponentLogger("serial " + cfg.Device),
		modbusTimeout: DefaultModbusTimeout,
		sleep:         time.Sleep,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Device returns the serial device path
func (t *SerialTransport) Device() string {
	return t.config.Device
}

// IsOpen reports whether the line is open
func (t *SerialTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

// ConsecutiveErrors returns the number of failures since the last success
func (t *SerialTransport) ConsecutiveErrors() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errorCnt
}

// QueueLength returns the number of queued entries including the one in flight
func (t *SerialTransport) QueueLength() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Open opens the serial line and runs the initial reset sequence for every
// device configured with a gpio driven reset.
func (t *SerialTransport) Open(ctx context.Context, devices []Device) error {
	t.mu.Lock()
	if t.open {
		t.mu.Unlock()
		return nil
	}
	port, err := t.opener(t.config)
	if err != nil {
		t.mu.Unlock()
		return hwcerrors.NewTransportError("open", err, t.config.Device)
	}
	t.port = port
	t.open = true
	t.mu.Unlock()

	t.log.LogInfo("serial port %s opened (%d baud, parity %s)", t.config.Device, t.config.BaudRate, t.config.parity())

	t.wg.Add(1)
	go t.readLoop(port)

	if needsReset(devices) {
		return t.queueReset(ctx, devices, true)
	}
	return nil
}

// Reset queues a reset sequence for devices behind the requests already queued
func (t *SerialTransport) Reset(ctx context.Context, devices []Device) error {
	if !needsReset(devices) {
		return nil
	}
	return t.queueReset(ctx, devices, false)
}

func needsReset(devices []Device) bool {
	for _, d := range devices {
		if d.ResetConfig().Resettable() {
			return true
		}
	}
	return false
}

func (t *SerialTransport) queueReset(ctx context.Context, devices []Device, initial bool) error {
	e := &pendingEntry{
		reset: &resetDirective{devices: devices, initial: initial},
		done:  make(chan struct{}),
	}
	if err := t.enqueue(e, 0); err != nil {
		return err
	}
	return t.wait(ctx, e)
}

// Send queues frame and waits until its response arrives or it fails.
// timeout covers the time in the queue and on the wire.
func (t *SerialTransport) Send(ctx context.Context, frame *Frame, timeout time.Duration) (*Request, error) {
	if frame == nil {
		return nil, hwcerrors.InvalidArgument("nil frame")
	}
	if timeout <= 0 {
		return nil, hwcerrors.InvalidArgument("timeout %v must be positive", timeout)
	}
	e := &pendingEntry{
		request: NewRequest(frame),
		done:    make(chan struct{}),
	}
	if err := t.enqueue(e, timeout); err != nil {
		return nil, err
	}
	if err := t.wait(ctx, e); err != nil {
		return e.request, err
	}
	return e.request, nil
}

func (t *SerialTransport) enqueue(e *pendingEntry, timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return hwcerrors.NewTransportError("send", hwcerrors.ErrTransportClosed, t.config.Device)
	}
	if timeout > 0 {
		e.timer = time.AfterFunc(timeout, func() {
			t.fail(e, hwcerrors.NewTransportError("send", fmt.Errorf("%w after %v", hwcerrors.ErrTransportTimeout, timeout), t.config.Device))
		})
	}
	t.pending = append(t.pending, e)
	if len(t.pending) == 1 {
		t.executeLocked(e)
	}
	return nil
}

func (t *SerialTransport) wait(ctx context.Context, e *pendingEntry) error {
	select {
	case <-e.done:
	case <-ctx.Done():
		t.fail(e, ctx.Err())
		<-e.done
	}
	return e.err
}

func (t *SerialTransport) fail(e *pendingEntry, err error) {
	t.mu.Lock()
	defer t.unlock()
	t.finishLocked(e, err)
}

// executeLocked starts the head entry of the queue
func (t *SerialTransport) executeLocked(e *pendingEntry) {
	e.started = true
	t.frame = t.frame[:0]
	t.assembling = false

	if e.reset != nil {
		t.resetChars = t.resetChars[:0]
		t.wg.Add(1)
		go t.runReset(e)
		return
	}

	port := t.port
	data := []byte(e.request.Request().ASCII())
	if logger.IsTraceEnabled() {
		t.log.LogDebug("send %s", e.request.Request())
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		_, err := port.Write(data)

		t.mu.Lock()
		defer t.unlock()
		if e.resolved {
			return
		}
		if err != nil {
			t.finishLocked(e, hwcerrors.NewTransportError("write", err, t.config.Device))
			return
		}
		e.request.markSent(time.Now())
		e.modbusTimer = time.AfterFunc(t.modbusTimeout, func() {
			t.fail(e, hwcerrors.NewTransportError("receive", fmt.Errorf("%w after %v", hwcerrors.ErrModbusTimeout, t.modbusTimeout), t.config.Device))
		})
	}()
}

// finishLocked resolves e exactly once and advances the queue
func (t *SerialTransport) finishLocked(e *pendingEntry, err error) {
	if e.resolved {
		return
	}
	e.resolved = true
	e.err = err
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.modbusTimer != nil {
		e.modbusTimer.Stop()
	}

	wasHead := len(t.pending) > 0 && t.pending[0] == e
	for i, p := range t.pending {
		if p == e {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}

	if e.request != nil {
		if err != nil {
			e.request.SetError(err)
			if wasHead && (hwcerrors.Is(err, hwcerrors.ErrTransportTimeout) || hwcerrors.Is(err, hwcerrors.ErrModbusTimeout)) {
				t.stale = e.request
			}
		}
		t.countLocked(err)
		if len(t.observers) > 0 {
			t.completed = append(t.completed, completion{request: e.request, err: err})
		}
	}
	close(e.done)

	if wasHead {
		t.frame = t.frame[:0]
		t.assembling = false
		if len(t.pending) > 0 && t.open {
			t.executeLocked(t.pending[0])
		}
	}
}

// unlock releases mu and then reports the requests finished meanwhile.
// Observers never run with mu held.
func (t *SerialTransport) unlock() {
	done := t.completed
	t.completed = nil
	t.mu.Unlock()
	for _, c := range done {
		for _, o := range t.observers {
			o.RequestCompleted(t.config.Device, c.request, c.err)
		}
	}
}

func (t *SerialTransport) countLocked(err error) {
	if err == nil {
		if t.errorCnt > warnErrorCount {
			t.log.LogInfo("serial line %s seems to work now (after %d errors)", t.config.Device, t.errorCnt)
		}
		t.errorCnt = 0
		return
	}
	t.errorCnt++
	t.log.LogDebug("request failed (%d consecutive): %v", t.errorCnt, err)
	switch t.errorCnt {
	case warnErrorCount:
		t.log.LogWarn("serial line %s not working, %d consecutive errors", t.config.Device, t.errorCnt)
	case resetErrorCount:
		t.log.LogWarn("serial line %s seems down, reset target?", t.config.Device)
	}
}

func (t *SerialTransport) readLoop(port Port) {
	defer t.wg.Done()
	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			t.handleBytes(buf[:n])
		}
		if err != nil {
			t.mu.Lock()
			open := t.open
			t.mu.Unlock()
			if !open {
				return
			}
			t.log.LogError("read error on %s: %v", t.config.Device, err)
			time.Sleep(readPollTimeout)
		}
	}
}

// handleBytes runs the frame assembly state machine over received bytes
func (t *SerialTransport) handleBytes(data []byte) {
	t.mu.Lock()
	defer t.unlock()

	if len(t.pending) > 0 && t.pending[0].reset != nil {
		t.resetChars = append(t.resetChars, data...)
		return
	}

	for _, c := range data {
		switch {
		case c == ':':
			if t.assembling && len(t.frame) > 1 {
				t.log.LogWarn("discard truncated frame %q", string(t.frame))
			}
			t.frame = append(t.frame[:0], c)
			t.assembling = true
		case t.assembling:
			t.frame = append(t.frame, c)
			if c == '\n' {
				s := string(t.frame)
				t.frame = t.frame[:0]
				t.assembling = false
				t.handleFrameLocked(s)
			}
		default:
			if c != '\r' && c != '\n' {
				t.log.LogDebug("ignore byte 0x%02X outside of frame", c)
			}
		}
	}
}

func (t *SerialTransport) handleFrameLocked(s string) {
	now := time.Now()
	var head *pendingEntry
	if len(t.pending) > 0 && t.pending[0].request != nil && t.pending[0].started {
		head = t.pending[0]
	}
	if head == nil {
		t.log.LogWarn("%v: %q", hwcerrors.ErrUnsolicitedFrame, s)
		return
	}

	f, err := DecodeFrame(s)
	if err != nil {
		t.finishLocked(head, hwcerrors.NewTransportError("decode", err, t.config.Device))
		return
	}

	req := head.request
	if req.RequestReceived() == nil {
		if t.isStaleFrame(req, f) {
			t.log.LogWarn("%v: late frame %s of timed out request %s", hwcerrors.ErrUnsolicitedFrame, f, t.stale.Request())
			return
		}
		if err := req.SetRequestReceived(f, now); err != nil {
			t.finishLocked(head, hwcerrors.NewTransportError("echo", err, t.config.Device))
			return
		}
		// the echo proves the write left the transmitter
		req.markSent(now)
		t.stale = nil
		return
	}

	if !f.ChecksumOK() {
		err := fmt.Errorf("%w: response %s (lrc %02X, expected %02X)", hwcerrors.ErrChecksum, f, f.LRC(), CalculateLRC(f.Bytes()))
		t.finishLocked(head, hwcerrors.NewTransportError("response", err, t.config.Device))
		return
	}
	if err := req.SetResponse(f, now); err != nil {
		t.finishLocked(head, hwcerrors.NewTransportError("response", err, t.config.Device))
		return
	}
	if logger.IsTraceEnabled() {
		t.log.LogDebug("response %s after %v", f, req.Duration())
	}
	t.finishLocked(head, nil)
}

// isStaleFrame reports a frame that answers the last timed out request rather
// than echoing the current one. Anything else is checked as the echo.
func (t *SerialTransport) isStaleFrame(current *Request, f *Frame) bool {
	if t.stale == nil || current.Request().Equal(f) {
		return false
	}
	old := t.stale.Request()
	return f.Equal(old) || isResponseTo(old, f)
}

// isResponseTo reports whether f is a well formed reply to req
func isResponseTo(req, f *Frame) bool {
	if !f.ChecksumOK() || f.Len() < 3 || f.Address() != req.Address() {
		return false
	}
	fc := req.FunctionCode()
	switch f.FunctionCode() {
	case fc | 0x80:
		return f.Len() == 3
	case fc:
	default:
		return false
	}

	switch fc {
	case FuncReadHoldingRegisters:
		qty, err := req.WordAt(4)
		if err != nil {
			return false
		}
		n, _ := f.ByteAt(2)
		return int(n) == 2*int(qty) && f.Len() == 3+int(n)
	case FuncWriteHoldingRegister:
		return f.Equal(req)
	case FuncWriteMultipleRegisters:
		return f.Len() == 6 && req.Len() >= 6 && bytes.Equal(f.Bytes(), req.Bytes()[:6])
	}
	return false
}

func (t *SerialTransport) runReset(e *pendingEntry) {
	defer t.wg.Done()
	err := t.resetSequence(e.reset)

	t.mu.Lock()
	defer t.unlock()
	if len(t.resetChars) > 0 {
		t.log.LogInfo("received during reset: %q", string(t.resetChars))
		t.resetChars = t.resetChars[:0]
	}
	t.finishLocked(e, err)
}

func (t *SerialTransport) resetSequence(r *resetDirective) error {
	settle := time.Duration(0)
	for _, d := range r.devices {
		cfg := d.ResetConfig()
		if cfg != nil && cfg.Type == ResetUser {
			t.log.LogInfo("device %s needs a manual reset", d.Name())
			continue
		}
		if !cfg.Resettable() {
			continue
		}
		if t.gpio == nil {
			return hwcerrors.NewTransportError("reset", fmt.Errorf("no gpio available for device %s", d.Name()), t.config.Device)
		}
		hold := cfg.Hold
		if hold <= 0 {
			hold = defaultHold
		}
		idle := !cfg.Level

		t.log.LogInfo("reset device %s via %s", d.Name(), cfg.Pin)
		if r.initial {
			if err := t.gpio.Setup(cfg.Pin, gpio.Out); err != nil {
				return hwcerrors.NewTransportError("reset", err, t.config.Device)
			}
			if err := t.gpio.Write(cfg.Pin, idle); err != nil {
				return hwcerrors.NewTransportError("reset", err, t.config.Device)
			}
			t.sleep(hold)
		}
		for _, level := range []bool{idle, cfg.Level, idle} {
			if err := t.gpio.Write(cfg.Pin, level); err != nil {
				return hwcerrors.NewTransportError("reset", err, t.config.Device)
			}
			t.sleep(hold)
		}

		s := cfg.Settle
		if s <= 0 {
			s = defaultSettle
		}
		if s > settle {
			settle = s
		}
	}
	if settle > 0 {
		t.sleep(settle)
	}
	return nil
}

// Close fails all queued requests and closes the line
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	t.open = false
	for len(t.pending) > 0 {
		t.finishLocked(t.pending[0], hwcerrors.NewTransportError("close", hwcerrors.ErrTransportClosed, t.config.Device))
	}
	port := t.port
	t.unlock()

	err := port.Close()
	t.wg.Wait()
	t.log.LogInfo("serial port %s closed", t.config.Device)
	return err
}
