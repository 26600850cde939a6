package transports

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Parity of the serial line.
type Parity string

const (
	ParityNone  Parity = "none"
	ParityOdd   Parity = "odd"
	ParityEven  Parity = "even"
	ParityMark  Parity = "mark"
	ParitySpace Parity = "space"
)

// ParseParity accepts the names above in any case; empty means none.
func ParseParity(s string) (Parity, error) {
	p := Parity(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return ParityNone, nil
	}
	if _, err := p.mode(); err != nil {
		return "", err
	}
	return p, nil
}

func (p Parity) mode() (serial.Parity, error) {
	switch p {
	case "", ParityNone:
		return serial.NoParity, nil
	case ParityOdd:
		return serial.OddParity, nil
	case ParityEven:
		return serial.EvenParity, nil
	case ParityMark:
		return serial.MarkParity, nil
	case ParitySpace:
		return serial.SpaceParity, nil
	default:
		return 0, fmt.Errorf("unknown parity %q", string(p))
	}
}

// StopBits of the serial line: 1, 1.5 or 2.
type StopBits float64

func (s StopBits) mode() (serial.StopBits, error) {
	switch s {
	case 0, 1:
		return serial.OneStopBit, nil
	case 1.5:
		return serial.OnePointFiveStopBits, nil
	case 2:
		return serial.TwoStopBits, nil
	default:
		return 0, fmt.Errorf("unsupported stop bits %g", float64(s))
	}
}

// SerialTransport implements Transport using a hardware serial port.
type SerialTransport struct {
	port     serial.Port
	portName string
	timeout  time.Duration
}

// SerialConfig holds configuration for opening a serial port.
type SerialConfig struct {
	Port     string
	BaudRate int
	DataBits int
	Parity   Parity
	StopBits StopBits
	Timeout  time.Duration
}

// Mode converts the line settings, applying the 38400 8N1 defaults.
func (cfg SerialConfig) Mode() (*serial.Mode, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 38400
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.DataBits < 5 || cfg.DataBits > 8 {
		return nil, fmt.Errorf("unsupported data bits %d", cfg.DataBits)
	}

	parity, err := cfg.Parity.mode()
	if err != nil {
		return nil, err
	}
	stopBits, err := cfg.StopBits.mode()
	if err != nil {
		return nil, err
	}

	return &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   parity,
		StopBits: stopBits,
	}, nil
}

// OpenSerial opens a serial port with the given configuration.
func OpenSerial(cfg SerialConfig) (*SerialTransport, error) {
	if cfg.Port == "" {
		return nil, errors.New("serial port path is required")
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}

	mode, err := cfg.Mode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}

	if err := port.SetReadTimeout(cfg.Timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &SerialTransport{
		port:     port,
		portName: cfg.Port,
		timeout:  cfg.Timeout,
	}, nil
}

func (t *SerialTransport) Read(p []byte) (int, error) {
	return t.port.Read(p)
}

func (t *SerialTransport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

func (t *SerialTransport) Close() error {
	return t.port.Close()
}

func (t *SerialTransport) SetReadTimeout(timeout time.Duration) error {
	t.timeout = timeout
	return t.port.SetReadTimeout(timeout)
}

// Flush drops everything the driver has buffered on the receive side.
func (t *SerialTransport) Flush() error {
	return t.port.ResetInputBuffer()
}

// PortName returns the serial port name.
func (t *SerialTransport) PortName() string {
	return t.portName
}
