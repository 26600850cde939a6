// Package ctlabtest provides an in-memory c't-lab bus for tests and demos.
package ctlabtest

import (
	"bytes"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/erbth/ctlab-go/ctlab"
)

// idleRead is how long Read waits for output before reporting 0 bytes.
const idleRead = 2 * time.Millisecond

// calibrationSlots is the number of EEPROM constants per bank.
const calibrationSlots = 16

// Simulated status bits.
const (
	StatusWriteEnable = ctlab.StatusWriteEnabled
	StatusWriteFault  = 0x04
)

// Module is one simulated lab module. Fields may be changed between
// requests; OnWrite hooks may change them while a request is handled.
type Module struct {
	Name     string
	Firmware string
	// Values holds every subchannel value; unknown subchannels read as 0.
	Values     map[int]float64
	StatusCode int
	StatusText string

	// Silent modules never answer.
	Silent bool
	// Malformed modules answer every request with an unparsable line.
	Malformed bool
	// NoAck modules ignore the acknowledge request of writes.
	NoAck bool

	// Links copies a written subchannel to another, e.g. a setpoint to
	// its measured value.
	Links map[int]int
}

// NewDCG returns a DCG whose measured values follow its setpoints.
func NewDCG() *Module {
	return &Module{
		Name:     "DCG",
		Firmware: "3.4",
		Values:   make(map[int]float64),
		Links: map[int]int{
			ctlab.DCGVoltage: ctlab.DCGMeasuredVoltage,
			ctlab.DCGCurrent: ctlab.DCGMeasuredCurrent,
		},
	}
}

// NewADAIO returns an ADA-IO whose AD16 inputs are wired to the DA12
// outputs of the same index.
func NewADAIO() *Module {
	links := make(map[int]int, ctlab.ADAIOChannels)
	for i := 0; i < ctlab.ADAIOChannels; i++ {
		links[ctlab.ADAIODA12Base+i] = ctlab.ADAIOAD16Base + i
	}
	return &Module{
		Name:     "ADA-IO",
		Firmware: "2.1",
		Values:   make(map[int]float64),
		Links:    links,
	}
}

// NewEDL returns an EDL whose measured current follows its setpoint.
func NewEDL() *Module {
	return &Module{
		Name:     "EDL",
		Firmware: "1.7",
		Values:   make(map[int]float64),
		Links: map[int]int{
			ctlab.EDLCurrent: ctlab.EDLCurrentOn,
		},
	}
}

// Simulator implements ctlab.Transport on top of simulated modules.
type Simulator struct {
	// OnWrite is called after a write was applied to a module and before
	// the acknowledge is sent. It runs with the simulator locked and may
	// modify any module.
	OnWrite func(req ctlab.Request, modules map[int]*Module)

	// OnQuery is called before a query is answered, with the simulator
	// locked. It can make readings drift.
	OnQuery func(req ctlab.Request, modules map[int]*Module)

	// Noise lines are sent ahead of every reply.
	Noise []string

	mu       sync.Mutex
	modules  map[int]*Module
	in       []byte
	out      []byte
	requests []ctlab.Request
	timeout  time.Duration
	closed   bool
	closes   int
	flushes  int
}

// New creates a simulator with the given modules keyed by bus ID.
func New(modules map[int]*Module) *Simulator {
	if modules == nil {
		modules = make(map[int]*Module)
	}
	return &Simulator{modules: modules}
}

// NewBus creates a bus on sim with a short timeout and closes it when
// the test ends.
func NewBus(tb testing.TB, sim *Simulator) *ctlab.Bus {
	tb.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	bus, err := ctlab.NewBus(ctlab.BusConfig{
		Transport: sim,
		Timeout:   100 * time.Millisecond,
		Logger:    log,
	})
	if err != nil {
		tb.Fatalf("NewBus: %v", err)
	}
	tb.Cleanup(func() { bus.Close() })
	return bus
}

// Add attaches a module at id.
func (s *Simulator) Add(id int, m *Module) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[id] = m
}

// Module returns the module at id.
func (s *Simulator) Module(id int) *Module {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modules[id]
}

// Value returns a subchannel value of the module at id.
func (s *Simulator) Value(id, channel int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.modules[id]; m != nil {
		return m.Values[channel]
	}
	return 0
}

// Requests returns every request received so far.
func (s *Simulator) Requests() []ctlab.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ctlab.Request(nil), s.requests...)
}

// CloseCount returns how often Close was called.
func (s *Simulator) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Flushes returns how often Flush was called.
func (s *Simulator) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// Read returns pending reply bytes, or 0 bytes once a short idle period
// passed without output.
func (s *Simulator) Read(p []byte) (int, error) {
	for waited := false; ; waited = true {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return 0, io.ErrClosedPipe
		}
		if len(s.out) > 0 {
			n := copy(p, s.out)
			s.out = s.out[n:]
			s.mu.Unlock()
			return n, nil
		}
		s.mu.Unlock()

		if waited {
			return 0, nil
		}
		time.Sleep(idleRead)
	}
}

// Write feeds request bytes to the modules. Complete lines are handled
// immediately.
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.ErrClosedPipe
	}

	s.in = append(s.in, p...)
	for {
		i := bytes.IndexByte(s.in, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(s.in[:i])
		s.in = s.in[i+1:]
		if len(line) > 0 {
			s.handle(line)
		}
	}

	return len(p), nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closes++
	return nil
}

func (s *Simulator) SetReadTimeout(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = timeout
	return nil
}

// Flush drops reply bytes that were not read yet.
func (s *Simulator) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = s.out[:0]
	s.flushes++
	return nil
}

func (s *Simulator) handle(line []byte) {
	req, err := ctlab.ParseRequest(line)
	if err != nil {
		return
	}
	s.requests = append(s.requests, req)

	m := s.modules[req.Module]
	if m == nil || m.Silent {
		return
	}
	if m.Values == nil {
		m.Values = make(map[int]float64)
	}

	for _, n := range s.Noise {
		s.out = append(s.out, n...)
		s.out = append(s.out, "\r\n"...)
	}

	if m.Malformed {
		s.out = append(s.out, "#"+strconv.Itoa(req.Module)+":garbage\r\n"...)
		return
	}

	if req.Query {
		if s.OnQuery != nil {
			s.OnQuery(req, s.modules)
		}
		s.reply(req.Module, m, req.Channel)
		return
	}

	s.apply(req, m)
	if s.OnWrite != nil {
		s.OnWrite(req, s.modules)
	}
	if req.Ack && !m.NoAck {
		s.reply(req.Module, m, ctlab.ChStatus)
	}
}

func (s *Simulator) apply(req ctlab.Request, m *Module) {
	if req.Mnemonic == ctlab.MnemonicWriteEnable {
		if req.Value == "1" {
			m.StatusCode |= StatusWriteEnable
		} else {
			m.StatusCode &^= StatusWriteEnable
		}
		return
	}
	if req.Mnemonic != "" {
		return
	}

	v, err := strconv.ParseFloat(req.Value, 64)
	if err != nil {
		return
	}

	if isCalibration(req.Channel) {
		if m.StatusCode&StatusWriteEnable == 0 {
			m.StatusCode |= StatusWriteFault
			return
		}
		m.StatusCode &^= StatusWriteEnable | StatusWriteFault
	}

	m.Values[req.Channel] = v
	if dst, ok := m.Links[req.Channel]; ok {
		m.Values[dst] = v
	}
}

func (s *Simulator) reply(id int, m *Module, channel int) {
	f := ctlab.Frame{Module: id, Channel: channel}
	switch channel {
	case ctlab.ChIdentity:
		f.Value = m.Firmware
		f.Comment = m.Name
	case ctlab.ChStatus:
		f.Value = strconv.Itoa(m.StatusCode)
		f.Comment = m.StatusText
	default:
		f.Value = ctlab.FormatValue(m.Values[channel])
	}
	s.out = append(s.out, f.Encode()...)
}

func isCalibration(channel int) bool {
	for _, base := range []int{ctlab.ChOffsetBase, ctlab.ChScaleBase} {
		if channel >= base && channel < base+calibrationSlots {
			return true
		}
	}
	return false
}
