// Package gpio provides the digital output capability used to reset
// Modbus targets attached to Raspberry Pi pins.
package gpio

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Direction of a pin
type Direction int

const (
	In Direction = iota
	Out
)

func (d Direction) String() string {
	if d == Out {
		return "out"
	}
	return "in"
}

// DigitalOutput drives named pins
type DigitalOutput interface {
	Setup(pin string, dir Direction) error
	Write(pin string, level bool) error
}

// PeriphOutput implements DigitalOutput on top of periph.io
type PeriphOutput struct {
	mu   sync.Mutex
	pins map[string]gpio.PinIO
}

// NewPeriphOutput initializes the host drivers
func NewPeriphOutput() (*PeriphOutput, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize gpio host drivers: %w", err)
	}
	return &PeriphOutput{pins: make(map[string]gpio.PinIO)}, nil
}

func (p *PeriphOutput) lookup(name string) (gpio.PinIO, error) {
	if pin, ok := p.pins[name]; ok {
		return pin, nil
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %s not found", name)
	}
	p.pins[name] = pin
	return pin, nil
}

// Setup configures the pin direction. Outputs start low.
func (p *PeriphOutput) Setup(name string, dir Direction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pin, err := p.lookup(name)
	if err != nil {
		return err
	}
	if dir == Out {
		return pin.Out(gpio.Low)
	}
	return pin.In(gpio.Float, gpio.NoEdge)
}

// Write sets the output level of a pin
func (p *PeriphOutput) Write(name string, level bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pin, err := p.lookup(name)
	if err != nil {
		return err
	}
	return pin.Out(gpio.Level(level))
}

// Recorder is a DigitalOutput that records calls, used where no hardware is present
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

// Event is one recorded call
type Event struct {
	Pin   string
	Setup bool
	Dir   Direction
	Level bool
}

// Setup records a direction change
func (r *Recorder) Setup(pin string, dir Direction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Event{Pin: pin, Setup: true, Dir: dir})
	return nil
}

// Write records a level change
func (r *Recorder) Write(pin string, level bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Event{Pin: pin, Level: level})
	return nil
}

// Levels returns the written levels for pin in order
func (r *Recorder) Levels(pin string) []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var levels []bool
	for _, e := range r.Events {
		if e.Pin == pin && !e.Setup {
			levels = append(levels, e.Level)
		}
	}
	return levels
}
