package characterize

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/erbth/ctlab-go/ctlab"
	"github.com/erbth/ctlab-go/ctlab/ctlabtest"
)

const (
	testDCG   = 1
	testADAIO = 2
	testGain  = 100.0
	testVBE   = 0.65
)

// npnModel couples DA12-0 of the ADA-IO to the DCG like an NPN transistor
// with a constant V_BE and gain.
func npnModel(resistor float64) func(ctlab.Request, map[int]*ctlabtest.Module) {
	return func(req ctlab.Request, modules map[int]*ctlabtest.Module) {
		adaio, dcg := modules[testADAIO], modules[testDCG]

		drive := adaio.Values[ctlab.ADAIODA12Base]
		vbe := math.Min(drive, testVBE)
		adaio.Values[ctlab.ADAIOAD16Base] = vbe

		ic := testGain * (drive - vbe) / resistor
		limit := dcg.Values[ctlab.DCGCurrent]
		dcg.StatusText = ""
		if ic > limit {
			ic = limit
			dcg.StatusText = "ICONST"
		}
		dcg.Values[ctlab.DCGMeasuredVoltage] = dcg.Values[ctlab.DCGVoltage]
		dcg.Values[ctlab.DCGMeasuredCurrent] = ic
	}
}

func newTransistorRig(t *testing.T, resistor float64) (*ctlabtest.Simulator, *ctlab.Bus) {
	t.Helper()

	sim := ctlabtest.New(map[int]*ctlabtest.Module{
		testDCG:   ctlabtest.NewDCG(),
		testADAIO: ctlabtest.NewADAIO(),
	})
	sim.OnWrite = npnModel(resistor)

	log := logrus.New()
	log.SetOutput(io.Discard)
	bus, err := ctlab.NewBus(ctlab.BusConfig{
		Transport:     sim,
		Timeout:       100 * time.Millisecond,
		MinCommandGap: time.Microsecond,
		Logger:        log,
	})
	if err != nil {
		t.Fatalf("NewBus failed: %v", err)
	}
	t.Cleanup(func() { bus.Close() })
	return sim, bus
}

func newTestTransistor(t *testing.T, bus *ctlab.Bus, resistor, maxBaseCurrent float64) *BipolarTransistor {
	t.Helper()
	run, err := NewBipolarTransistor(ctlab.NewADAIO(bus, testADAIO), ctlab.NewDCG(bus, testDCG), resistor, maxBaseCurrent)
	if err != nil {
		t.Fatalf("NewBipolarTransistor failed: %v", err)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	run.Logger = log
	return run
}

func TestBipolarTransistor_Measure(t *testing.T) {
	const resistor = 1000.0
	sim, bus := newTransistorRig(t, resistor)
	run := newTestTransistor(t, bus, resistor, 0.001)
	run.CurrentLimit = 0.02

	if got := run.MaxBaseVoltage(); got != 1 {
		t.Fatalf("MaxBaseVoltage() = %g, want 1", got)
	}

	c, err := run.Measure(context.Background())
	if err != nil {
		t.Fatalf("Measure failed: %v", err)
	}
	if c.Len() != run.Range().Len() {
		t.Fatalf("got %d points, want %d", c.Len(), run.Range().Len())
	}

	first := c.Points[0]
	if first.BaseVoltage != -0.3 || first.BaseCurrent != 0 || first.Gain() != 0 {
		t.Errorf("first point: got %+v", first)
	}

	// 0.75 V drive: 0.1 mA base current, 10 mA collector current.
	p := c.Points[210]
	if p.Limited {
		t.Errorf("point at 0.75 V is limited: %+v", p)
	}
	if math.Abs(p.Gain()-testGain) > 1e-6 {
		t.Errorf("hFE at 0.75 V: got %g, want %g", p.Gain(), testGain)
	}
	if p.CollectorVoltage != DefaultCollectorVoltage {
		t.Errorf("C-E voltage: got %g, want %g", p.CollectorVoltage, DefaultCollectorVoltage)
	}

	last := c.Points[c.Len()-1]
	if !last.Limited || last.Gain() != 0 || last.CollectorCurrent != 0.02 {
		t.Errorf("last point should be current limited: %+v", last)
	}
	if got := c.MaxGain(); math.Abs(got-testGain) > 1e-6 {
		t.Errorf("MaxGain() = %g, want %g", got, testGain)
	}

	if got := sim.Value(testADAIO, ctlab.ADAIODA12Base); got != 0 {
		t.Errorf("DA12-0 after run: got %g, want 0", got)
	}
	if got := sim.Value(testDCG, ctlab.DCGCurrent); got != 0 {
		t.Errorf("DCG current after run: got %g, want 0", got)
	}
	if got := sim.Value(testDCG, ctlab.ChDisplay); got != ctlab.DCGDisplayPower {
		t.Errorf("DCG display after run: got %g, want %d", got, ctlab.DCGDisplayPower)
	}
	if got := sim.Value(testADAIO, ctlab.ChDisplay); got != ctlab.ADAIODA12Base {
		t.Errorf("ADA-IO display after run: got %g, want %d", got, ctlab.ADAIODA12Base)
	}
}

func TestBipolarTransistor_ReadbackMismatch(t *testing.T) {
	const resistor = 1000.0
	sim, bus := newTransistorRig(t, resistor)
	model := npnModel(resistor)
	sim.OnWrite = func(req ctlab.Request, modules map[int]*ctlabtest.Module) {
		if req.Module == testADAIO && req.Channel == ctlab.ADAIODA12Base {
			if v := modules[testADAIO].Values[req.Channel]; v > 0.5 {
				modules[testADAIO].Values[req.Channel] = v + 0.01
			}
		}
		model(req, modules)
	}

	run := newTestTransistor(t, bus, resistor, 0.001)
	c, err := run.Measure(context.Background())
	if c != nil {
		t.Errorf("got characteristic with %d points after failure", c.Len())
	}
	if !errors.Is(err, ErrReadback) || !ctlab.IsProtocol(err) {
		t.Fatalf("error = %v, want ErrReadback", err)
	}

	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Value <= 0.5 {
		t.Errorf("error = %v, want StepError above 0.5 V", err)
	}

	if got := sim.Value(testADAIO, ctlab.ADAIODA12Base); got != 0 {
		t.Errorf("DA12-0 after emergency stop: got %g, want 0", got)
	}
	if got := sim.Value(testDCG, ctlab.DCGCurrent); got != 0 {
		t.Errorf("DCG current after emergency stop: got %g, want 0", got)
	}
}

func TestBipolarTransistor_NotSettled(t *testing.T) {
	sim, bus := newTransistorRig(t, 1000)
	sim.OnQuery = func(req ctlab.Request, modules map[int]*ctlabtest.Module) {
		if req.Module == testDCG && req.Channel == ctlab.DCGMeasuredVoltage {
			modules[testDCG].Values[ctlab.DCGMeasuredVoltage] += 0.5
		}
	}

	run := newTestTransistor(t, bus, 1000, 0.001)
	run.MaxSettleReads = 5

	c, err := run.Measure(context.Background())
	if c != nil {
		t.Errorf("got characteristic with %d points after failure", c.Len())
	}
	if !errors.Is(err, ErrNotSettled) || !ctlab.IsTimeout(err) {
		t.Fatalf("error = %v, want ErrNotSettled", err)
	}

	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Index != 0 {
		t.Errorf("error = %v, want StepError at the first point", err)
	}

	reads := 0
	for _, req := range sim.Requests() {
		if req.Module == testDCG && req.Query && req.Channel == ctlab.DCGMeasuredVoltage {
			reads++
		}
	}
	if reads != run.MaxSettleReads {
		t.Errorf("read C-E voltage %d times, want %d", reads, run.MaxSettleReads)
	}

	if got := sim.Value(testADAIO, ctlab.ADAIODA12Base); got != 0 {
		t.Errorf("DA12-0 after emergency stop: got %g, want 0", got)
	}
	if got := sim.Value(testDCG, ctlab.DCGCurrent); got != 0 {
		t.Errorf("DCG current after emergency stop: got %g, want 0", got)
	}
}

func TestBipolarTransistor_UnresponsiveDCG(t *testing.T) {
	sim, bus := newTransistorRig(t, 1000)
	sim.Module(testDCG).Silent = true

	run := newTestTransistor(t, bus, 1000, 0.001)
	if _, err := run.Measure(context.Background()); !ctlab.IsTimeout(err) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if got := sim.Value(testADAIO, ctlab.ADAIODA12Base); got != 0 {
		t.Errorf("DA12-0 after emergency stop: got %g, want 0", got)
	}
}

func TestNewBipolarTransistor_Validation(t *testing.T) {
	_, bus := newTransistorRig(t, 1000)
	adaio, dcg := ctlab.NewADAIO(bus, testADAIO), ctlab.NewDCG(bus, testDCG)

	tests := []struct {
		name           string
		adaio          *ctlab.ADAIO
		dcg            *ctlab.DCG
		resistor, maxI float64
	}{
		{"no ADA-IO", nil, dcg, 1000, 0.001},
		{"no DCG", adaio, nil, 1000, 0.001},
		{"zero resistor", adaio, dcg, 0, 0.001},
		{"negative current", adaio, dcg, 1000, -0.001},
		{"NaN current", adaio, dcg, 1000, math.NaN()},
	}

	for _, tt := range tests {
		if _, err := NewBipolarTransistor(tt.adaio, tt.dcg, tt.resistor, tt.maxI); !errors.Is(err, ctlab.ErrInvalidValue) {
			t.Errorf("%s: error = %v, want ErrInvalidValue", tt.name, err)
		}
	}

	run, err := NewBipolarTransistor(adaio, dcg, 1e6, 1)
	if err != nil {
		t.Fatalf("NewBipolarTransistor failed: %v", err)
	}
	if got := run.MaxBaseVoltage(); got != 10 {
		t.Errorf("MaxBaseVoltage() = %g, want 10", got)
	}
}

func TestPoint_Gain(t *testing.T) {
	tests := []struct {
		p    Point
		want float64
	}{
		{Point{BaseCurrent: 1e-4, CollectorCurrent: 0.02}, 200},
		{Point{BaseCurrent: 1e-4, CollectorCurrent: 0.02, Limited: true}, 0},
		{Point{BaseCurrent: 0, CollectorCurrent: 0.001}, 0},
	}

	for _, tt := range tests {
		if got := tt.p.Gain(); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Gain(%+v) = %g, want %g", tt.p, got, tt.want)
		}
	}
}
