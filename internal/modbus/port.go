package modbus

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goburrow/serial"
)

// Port is the byte stream of a serial line
type Port interface {
	io.ReadWriteCloser
}

// PortOpener opens the serial line described by cfg
type PortOpener func(cfg SerialConfig) (Port, error)

// SerialConfig describes one RS-485 line
type SerialConfig struct {
	Device   string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string // none, even, odd
}

func (c SerialConfig) parity() string {
	switch strings.ToLower(c.Parity) {
	case "even", "e":
		return "E"
	case "odd", "o":
		return "O"
	default:
		return "N"
	}
}

const readPollTimeout = 100 * time.Millisecond

// serialPort turns read timeouts into empty reads so the reader loop can poll
type serialPort struct {
	serial.Port
}

func (p *serialPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if err == serial.ErrTimeout {
		return n, nil
	}
	return n, err
}

// OpenSerialPort opens a physical serial device
func OpenSerialPort(cfg SerialConfig) (Port, error) {
	dataBits := cfg.DataBits
	if dataBits == 0 {
		dataBits = 8
	}
	stopBits := cfg.StopBits
	if stopBits == 0 {
		stopBits = 1
	}
	p, err := serial.Open(&serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: dataBits,
		StopBits: stopBits,
		Parity:   cfg.parity(),
		Timeout:  readPollTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	return &serialPort{Port: p}, nil
}
