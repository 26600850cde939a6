package ctlab

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/erbth/ctlab-go/transports"
)

// Defaults for BusConfig.
const (
	DefaultBaudRate      = 38400
	DefaultTimeout       = time.Second
	DefaultMinCommandGap = time.Millisecond
	DefaultTCPPort       = 10001
)

// noResponse marks requests that are not answered by the module.
const noResponse = -1

const readChunk = 256

// Bus manages communication with modules on a c't-lab bus.
type Bus struct {
	transport Transport
	timeout   time.Duration
	log       logrus.FieldLogger
	metrics   *Metrics

	mu          sync.Mutex
	rx          []byte
	limits      map[ModuleType]Limits
	lastCmdTime time.Time
	minCmdGap   time.Duration
	closed      bool
}

// BusConfig holds configuration for creating a new Bus.
type BusConfig struct {
	// Transport is the underlying communication transport.
	// If nil, Address or Port is used to open one.
	Transport Transport

	// Address is the host:port of a TCP serial bridge (e.g. "ct-lab2:10001").
	// Takes precedence over Port.
	Address string

	// Port is the serial port path (e.g., "/dev/ttyUSB0").
	Port string

	// Serial line parameters. Defaults are 38400 baud, 8N1.
	BaudRate int
	DataBits int
	Parity   transports.Parity
	StopBits transports.StopBits

	// Timeout for one request/response round trip. Default is 1 second.
	Timeout time.Duration

	// MinCommandGap is the minimum time between commands. Default is 1ms.
	MinCommandGap time.Duration

	// Logger receives frame traces at debug level. Defaults to the logrus
	// standard logger.
	Logger logrus.FieldLogger

	// Metrics is optional.
	Metrics *Metrics

	// Limits override the default setpoint ranges per module type.
	Limits map[ModuleType]Limits
}

// NewBus opens the bus described by cfg.
func NewBus(cfg BusConfig) (*Bus, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MinCommandGap == 0 {
		cfg.MinCommandGap = DefaultMinCommandGap
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	transport := cfg.Transport
	if transport == nil {
		var err error
		switch {
		case cfg.Address != "":
			transport, err = transports.DialTCP(transports.TCPConfig{
				Address:     cfg.Address,
				DefaultPort: DefaultTCPPort,
				Timeout:     cfg.Timeout,
			})
		case cfg.Port != "":
			transport, err = transports.OpenSerial(transports.SerialConfig{
				Port:     cfg.Port,
				BaudRate: cfg.BaudRate,
				DataBits: cfg.DataBits,
				Parity:   cfg.Parity,
				StopBits: cfg.StopBits,
				Timeout:  cfg.Timeout,
			})
		default:
			err = errors.New("either Transport, Address or Port must be specified")
		}
		if err != nil {
			return nil, &CommError{Op: "open", Err: fmt.Errorf("%w: %w", ErrConnection, err)}
		}
	}

	limits := make(map[ModuleType]Limits, len(cfg.Limits))
	for t, l := range cfg.Limits {
		limits[t] = l
	}

	return &Bus{
		transport:   transport,
		timeout:     cfg.Timeout,
		log:         cfg.Logger,
		metrics:     cfg.Metrics,
		limits:      limits,
		minCmdGap:   cfg.MinCommandGap,
		lastCmdTime: time.Now(),
	}, nil
}

// Close closes the bus and releases resources. Closing twice is a no-op.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	return b.transport.Close()
}

// Timeout returns the per-request timeout.
func (b *Bus) Timeout() time.Duration {
	return b.timeout
}

// Limits returns the setpoint limits in effect for a module type.
func (b *Bus) Limits(t ModuleType) Limits {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limitsLocked(t)
}

// SetLimits overrides the setpoint limits of a module type.
func (b *Bus) SetLimits(t ModuleType, l Limits) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limits[t] = l
}

// Query requests the value of one subchannel and waits for the answer.
func (b *Bus) Query(ctx context.Context, id, channel int) (Frame, error) {
	req := Request{Module: id, Channel: channel, Query: true}
	return b.exchange(ctx, "query", req, channel)
}

// Write sets a subchannel without waiting for an answer.
func (b *Bus) Write(ctx context.Context, id, channel int, value string) error {
	req := Request{Module: id, Channel: channel, Value: value}
	_, err := b.exchange(ctx, "write", req, noResponse)
	return err
}

// WriteAck sets a subchannel and waits for the module's status frame.
func (b *Bus) WriteAck(ctx context.Context, id, channel int, value string) (Status, error) {
	req := Request{Module: id, Channel: channel, Value: value, Ack: true}
	return b.acknowledged(ctx, "write", req)
}

// Command sends an acknowledged mnemonic command such as "wen=1!".
func (b *Bus) Command(ctx context.Context, id int, mnemonic, value string) (Status, error) {
	req := Request{Module: id, Mnemonic: mnemonic, Value: value, Ack: true}
	return b.acknowledged(ctx, mnemonic, req)
}

// Identify asks a module for its name and firmware version.
func (b *Bus) Identify(ctx context.Context, id int) (Identity, error) {
	f, err := b.Query(ctx, id, ChIdentity)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Name: f.Comment, Firmware: f.Value}, nil
}

// Status reads a module's status word.
func (b *Bus) Status(ctx context.Context, id int) (Status, error) {
	f, err := b.Query(ctx, id, ChStatus)
	if err != nil {
		return Status{}, err
	}
	st, err := statusFromFrame(f)
	if err != nil {
		return Status{}, &ModuleError{ID: id, Op: "status", Err: err}
	}
	return st, nil
}

// Execute runs a Command against the module at addr. Writes return the
// value that was set, reads the value that was read.
func (b *Bus) Execute(ctx context.Context, addr Address, cmd Command) (float64, error) {
	op := cmd.Kind.String()

	model, ok := GetModel(addr.Type)
	if !ok {
		return 0, &ModuleError{ID: addr.ID, Op: op, Err: fmt.Errorf("%w: module type %s", ErrUnsupported, addr.Type)}
	}

	req, err := model.Encode(addr, cmd, b.Limits(addr.Type))
	if err != nil {
		return 0, &ModuleError{ID: addr.ID, Op: op, Err: err}
	}

	if cmd.Kind.IsWrite() {
		if _, err := b.acknowledged(ctx, op, req); err != nil {
			return 0, err
		}
		return cmd.Value, nil
	}

	f, err := b.exchange(ctx, op, req, req.Channel)
	if err != nil {
		return 0, err
	}
	v, err := f.Float()
	if err != nil {
		return 0, &ModuleError{ID: addr.ID, Op: op, Err: err}
	}
	return v, nil
}

// SetVoltage sets the voltage output of the module at addr.
func (b *Bus) SetVoltage(ctx context.Context, addr Address, volts float64) error {
	_, err := b.Execute(ctx, addr, Command{Kind: SetVoltage, Value: volts})
	return err
}

// SetCurrent sets the current output of the module at addr.
func (b *Bus) SetCurrent(ctx context.Context, addr Address, amps float64) error {
	_, err := b.Execute(ctx, addr, Command{Kind: SetCurrent, Value: amps})
	return err
}

// ReadVoltage reads the measured voltage of the module at addr.
func (b *Bus) ReadVoltage(ctx context.Context, addr Address) (float64, error) {
	return b.Execute(ctx, addr, Command{Kind: ReadVoltage})
}

// ReadCurrent reads the measured current of the module at addr.
func (b *Bus) ReadCurrent(ctx context.Context, addr Address) (float64, error) {
	return b.Execute(ctx, addr, Command{Kind: ReadCurrent})
}

// Measure reads voltage and, where the module supports it, current.
func (b *Bus) Measure(ctx context.Context, addr Address) (Measurement, error) {
	v, err := b.ReadVoltage(ctx, addr)
	if err != nil {
		return Measurement{}, err
	}

	c := math.NaN()
	if model, ok := GetModel(addr.Type); ok && model.Supports(ReadCurrent) {
		if c, err = b.ReadCurrent(ctx, addr); err != nil {
			return Measurement{}, err
		}
	}

	return Measurement{
		Address: addr,
		Voltage: v,
		Current: c,
		Time:    time.Now(),
	}, nil
}

// FoundModule represents a module discovered during scanning.
type FoundModule struct {
	ID       int
	Identity Identity
	Type     ModuleType
}

// Scan searches for modules by identifying each ID in the range.
func (b *Bus) Scan(ctx context.Context, firstID, lastID int) ([]FoundModule, error) {
	if firstID < MinModuleID || lastID > MaxModuleID || firstID > lastID {
		return nil, fmt.Errorf("%w: ID range %d to %d", ErrInvalidValue, firstID, lastID)
	}

	var found []FoundModule

	for id := firstID; id <= lastID; id++ {
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		default:
		}

		ident, err := b.Identify(ctx, id)
		if err != nil {
			if errors.Is(err, ErrBusClosed) || errors.Is(err, ErrConnection) {
				return found, err
			}
			continue // No response at this ID
		}

		b.log.WithFields(logrus.Fields{"module": id, "name": ident.Name, "firmware": ident.Firmware}).Info("found module")

		found = append(found, FoundModule{
			ID:       id,
			Identity: ident,
			Type:     ModuleTypeFromName(ident.Name),
		})
	}

	return found, nil
}

// Internal methods

func (b *Bus) limitsLocked(t ModuleType) Limits {
	if l, ok := b.limits[t]; ok {
		return l
	}
	if m, ok := GetModel(t); ok {
		return m.Limits
	}
	return Limits{}
}

func (b *Bus) acknowledged(ctx context.Context, op string, req Request) (Status, error) {
	f, err := b.exchange(ctx, op, req, ChStatus)
	if err != nil {
		if IsTimeout(err) {
			return Status{}, &ModuleError{ID: req.Module, Op: op, Err: fmt.Errorf("%w: %w", ErrNotAcknowledged, ErrTimeout)}
		}
		return Status{}, err
	}
	st, err := statusFromFrame(f)
	if err != nil {
		return Status{}, &ModuleError{ID: req.Module, Op: op, Err: err}
	}
	return st, nil
}

// exchange sends req and, unless want is noResponse, waits for the frame
// from the same module on subchannel want.
func (b *Bus) exchange(ctx context.Context, op string, req Request, want int) (f Frame, err error) {
	start := time.Now()
	defer func() { b.metrics.observe(op, start, err) }()

	if err := validateID(req.Module); err != nil {
		return Frame{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Frame{}, ErrBusClosed
	}

	if err := b.sendLocked(req); err != nil {
		return Frame{}, &CommError{Op: op, Err: err}
	}

	if want == noResponse {
		return Frame{}, nil
	}

	f, err = b.awaitLocked(ctx, req.Module, want)
	if err != nil {
		if errors.Is(err, ErrConnection) {
			return Frame{}, &CommError{Op: op, Err: err}
		}
		return Frame{}, &ModuleError{ID: req.Module, Op: op, Err: err}
	}
	return f, nil
}

func (b *Bus) enforceCommandGap() {
	elapsed := time.Since(b.lastCmdTime)
	if elapsed < b.minCmdGap {
		time.Sleep(b.minCmdGap - elapsed)
	}
}

func (b *Bus) sendLocked(req Request) error {
	b.enforceCommandGap()

	// Flush any stale input
	if err := b.transport.Flush(); err != nil {
		return connectionError("flush", err)
	}
	b.rx = b.rx[:0]

	packet := req.Encode()
	n, err := b.transport.Write(packet)
	if err != nil {
		return connectionError("write", err)
	}
	if n != len(packet) {
		return connectionError("write", fmt.Errorf("incomplete write: %d of %d bytes", n, len(packet)))
	}

	b.lastCmdTime = time.Now()
	b.log.WithField("frame", req.String()).Debug("tx")

	return nil
}

func (b *Bus) awaitLocked(ctx context.Context, id, channel int) (Frame, error) {
	deadline := time.Now().Add(b.timeout)

	for {
		line, err := b.readLineLocked(ctx, deadline)
		if err != nil {
			return Frame{}, err
		}

		f, err := DecodeFrame(line)
		if err != nil {
			return Frame{}, err
		}

		if f.Module == id && f.Channel == channel {
			b.log.WithField("frame", f.String()).Debug("rx")
			return f, nil
		}

		b.metrics.discarded()
		b.log.WithFields(logrus.Fields{
			"frame":   f.String(),
			"waiting": fmt.Sprintf("%d:%d", id, channel),
		}).Warn("discarding unsolicited frame")
	}
}

func (b *Bus) readLineLocked(ctx context.Context, deadline time.Time) ([]byte, error) {
	buffer := make([]byte, readChunk)

	for {
		if line, ok := b.popLineLocked(); ok {
			return line, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			if len(b.rx) == 0 {
				return nil, ErrTimeout
			}
			return nil, fmt.Errorf("%w: incomplete frame %q", ErrTimeout, b.rx)
		}

		remaining := max(time.Until(deadline), 10*time.Millisecond)
		if err := b.transport.SetReadTimeout(remaining); err != nil {
			return nil, connectionError("set read timeout", err)
		}

		// Transports report a read timeout as 0 bytes and no error.
		n, err := b.transport.Read(buffer)
		b.rx = append(b.rx, buffer[:n]...)
		if err != nil {
			return nil, connectionError("read", err)
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
		}
	}
}

// popLineLocked removes the next non-empty CR or LF terminated line from rx.
func (b *Bus) popLineLocked() ([]byte, bool) {
	for {
		i := bytes.IndexAny(b.rx, "\r\n")
		if i < 0 {
			return nil, false
		}
		line := bytes.Clone(b.rx[:i])
		b.rx = b.rx[i+1:]
		if len(bytes.TrimSpace(line)) > 0 {
			return line, true
		}
	}
}
