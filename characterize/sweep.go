// Package characterize runs measurement routines on top of ctlab modules:
// plain setpoint sweeps and the bipolar transistor characteristic.
package characterize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/erbth/ctlab-go/ctlab"
)

// maxPoints bounds the number of steps of one sweep.
const maxPoints = 1_000_000

var (
	// ErrInvalidRange is returned for a range whose step is zero, not
	// finite or points away from stop. It matches ctlab.ErrInvalidValue.
	ErrInvalidRange = fmt.Errorf("%w: sweep range", ctlab.ErrInvalidValue)

	// ErrNoData is returned when exporting a result without points.
	ErrNoData = errors.New("no data available")
)

// Control applies one sweep value to the device under test.
type Control interface {
	Apply(ctx context.Context, value float64) error
}

// ControlFunc adapts a function to Control.
type ControlFunc func(ctx context.Context, value float64) error

func (f ControlFunc) Apply(ctx context.Context, value float64) error {
	return f(ctx, value)
}

// VoltageControl sweeps the voltage of src.
func VoltageControl(src ctlab.VoltageSource) Control {
	return ControlFunc(src.SetVoltage)
}

// CurrentControl sweeps the current of src.
func CurrentControl(src ctlab.CurrentSource) Control {
	return ControlFunc(src.SetCurrent)
}

// Range is an inclusive sweep from Start to Stop in increments of Step.
type Range struct {
	Start float64
	Stop  float64
	Step  float64
}

// Validate checks that the range terminates.
func (r Range) Validate() error {
	for _, v := range []float64{r.Start, r.Stop, r.Step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %v is not finite", ErrInvalidRange, r)
		}
	}
	if r.Step == 0 {
		return fmt.Errorf("%w: step is zero", ErrInvalidRange)
	}
	if d := r.Stop - r.Start; d != 0 && math.Signbit(d) != math.Signbit(r.Step) {
		return fmt.Errorf("%w: step %g does not lead from %g to %g", ErrInvalidRange, r.Step, r.Start, r.Stop)
	}
	if r.count() > maxPoints {
		return fmt.Errorf("%w: more than %d points", ErrInvalidRange, maxPoints)
	}
	return nil
}

// Len returns the number of points of a valid range.
func (r Range) Len() int {
	if r.Validate() != nil {
		return 0
	}
	return r.count()
}

// Points returns the sweep values. Stop is included when it lies on the
// step grid.
func (r Range) Points() ([]float64, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	n := r.count()
	points := make([]float64, n)
	for i := range points {
		points[i] = roundNano(r.Start + float64(i)*r.Step)
	}
	return points, nil
}

func (r Range) String() string {
	return fmt.Sprintf("%g..%g step %g", r.Start, r.Stop, r.Step)
}

func (r Range) count() int {
	n := math.Floor((r.Stop-r.Start)/r.Step + 1e-9)
	if n > maxPoints {
		return maxPoints + 1
	}
	return int(n) + 1
}

// roundNano removes accumulated float noise below 1e-9.
func roundNano(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}

// StepError reports the sweep point at which a sweep failed.
type StepError struct {
	Index int
	Value float64
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("sweep step %d at %g: %v", e.Index, e.Value, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Result is the outcome of a completed sweep.
type Result struct {
	Range        Range
	Measurements []ctlab.Measurement
	Started      time.Time
	Finished     time.Time
}

// Len returns the number of measurements.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Measurements)
}

// Sweep applies each value of a range through Control and takes one
// measurement through Meter after Settle.
type Sweep struct {
	Control Control
	Meter   ctlab.Meter
	Settle  time.Duration
	Logger  logrus.FieldLogger
}

// Run executes the sweep. On failure no partial result is returned.
func (s *Sweep) Run(ctx context.Context, r Range) (*Result, error) {
	points, err := r.Points()
	if err != nil {
		return nil, err
	}
	if s.Control == nil || s.Meter == nil {
		return nil, fmt.Errorf("%w: sweep needs a control and a meter", ctlab.ErrInvalidValue)
	}

	log := s.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("range", r.String())
	log.WithField("points", len(points)).Info("sweep started")

	res := &Result{
		Range:        r,
		Measurements: make([]ctlab.Measurement, 0, len(points)),
		Started:      time.Now(),
	}

	for i, v := range points {
		if err := s.Control.Apply(ctx, v); err != nil {
			return nil, s.fail(log, i, v, err)
		}
		if err := sleep(ctx, s.Settle); err != nil {
			return nil, s.fail(log, i, v, err)
		}
		m, err := s.Meter.Measure(ctx)
		if err != nil {
			return nil, s.fail(log, i, v, err)
		}
		m.Setpoint = v
		res.Measurements = append(res.Measurements, m)
		log.WithField("measurement", m.String()).Debug("sweep point")
	}

	res.Finished = time.Now()
	log.WithField("duration", res.Finished.Sub(res.Started)).Info("sweep finished")
	return res, nil
}

func (s *Sweep) fail(log logrus.FieldLogger, i int, v float64, err error) error {
	log.WithError(err).WithField("step", i).Error("sweep aborted")
	return &StepError{Index: i, Value: v, Err: err}
}

// RunSweep sweeps control from start to stop in increments of step.
func RunSweep(ctx context.Context, control Control, meter ctlab.Meter, start, stop, step float64, settle time.Duration) (*Result, error) {
	s := &Sweep{Control: control, Meter: meter, Settle: settle}
	return s.Run(ctx, Range{Start: start, Stop: stop, Step: step})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
