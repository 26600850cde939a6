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

// Transistor run defaults.
const (
	DefaultCollectorVoltage = 2.0
	DefaultCurrentLimit     = 0.1
	DefaultMaxSettleReads   = 50

	baseStart       = -0.3
	baseStep        = 0.005
	maxBaseVoltage  = 10.0
	readbackEpsilon = 1e-5
	settleVoltage   = 0.1
	settleCurrent   = 0.005
)

var (
	// ErrReadback means a DA12 output did not report the value just set.
	ErrReadback = fmt.Errorf("%w: output readback mismatch", ctlab.ErrProtocol)

	// ErrNotSettled means the collector readings kept changing.
	ErrNotSettled = fmt.Errorf("%w: readings did not settle", ctlab.ErrTimeout)
)

// BipolarTransistor measures the characteristic of an NPN transistor.
// A DA12 output drives the base through Resistor, the AD16 input of the
// same channel senses the base, and the DCG supplies collector-emitter.
type BipolarTransistor struct {
	ADAIO *ctlab.ADAIO
	DCG   *ctlab.DCG

	// Channel is the DA12/AD16 channel wired to the base.
	Channel int
	// Resistor is the base resistor in ohms.
	Resistor float64
	// MaxBaseCurrent bounds the base sweep in amperes.
	MaxBaseCurrent float64
	// CurrentLimit is the collector-emitter current limit in amperes.
	CurrentLimit float64
	// CollectorVoltage is the DCG setpoint in volts.
	CollectorVoltage float64
	// MaxSettleReads bounds the reads per point while waiting for the
	// collector to settle.
	MaxSettleReads int

	Logger logrus.FieldLogger
}

// NewBipolarTransistor creates a run with default collector settings.
func NewBipolarTransistor(adaio *ctlab.ADAIO, dcg *ctlab.DCG, resistor, maxBaseCurrent float64) (*BipolarTransistor, error) {
	t := &BipolarTransistor{
		ADAIO:            adaio,
		DCG:              dcg,
		Resistor:         resistor,
		MaxBaseCurrent:   maxBaseCurrent,
		CurrentLimit:     DefaultCurrentLimit,
		CollectorVoltage: DefaultCollectorVoltage,
		MaxSettleReads:   DefaultMaxSettleReads,
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// MaxBaseVoltage is the highest DA12 value of the sweep.
func (t *BipolarTransistor) MaxBaseVoltage() float64 {
	return math.Min(t.MaxBaseCurrent*t.Resistor, maxBaseVoltage)
}

// Range returns the base voltage sweep.
func (t *BipolarTransistor) Range() Range {
	return Range{Start: baseStart, Stop: t.MaxBaseVoltage(), Step: baseStep}
}

func (t *BipolarTransistor) validate() error {
	switch {
	case t.ADAIO == nil || t.DCG == nil:
		return fmt.Errorf("%w: transistor run needs an ADA-IO and a DCG", ctlab.ErrInvalidValue)
	case !(t.Resistor > 0) || math.IsInf(t.Resistor, 0):
		return fmt.Errorf("%w: base resistor %g", ctlab.ErrInvalidValue, t.Resistor)
	case !(t.MaxBaseCurrent > 0) || math.IsInf(t.MaxBaseCurrent, 0):
		return fmt.Errorf("%w: maximum base current %g", ctlab.ErrInvalidValue, t.MaxBaseCurrent)
	case !(t.CurrentLimit >= 0):
		return fmt.Errorf("%w: current limit %g", ctlab.ErrInvalidValue, t.CurrentLimit)
	case t.Channel < 0 || t.Channel >= ctlab.ADAIOChannels:
		return fmt.Errorf("%w: channel %d", ctlab.ErrInvalidValue, t.Channel)
	}
	return t.Range().Validate()
}

func (t *BipolarTransistor) logger() logrus.FieldLogger {
	if t.Logger == nil {
		return logrus.StandardLogger()
	}
	return t.Logger
}

// Reset zeroes the base drive and the collector current limit and shows
// the outputs on both front panels. It attempts every step.
func (t *BipolarTransistor) Reset(ctx context.Context) error {
	return errors.Join(
		t.ADAIO.SetDA12(ctx, t.Channel, 0),
		t.DCG.SetCurrent(ctx, 0),
		t.DCG.Display(ctx, ctlab.DCGDisplayPower),
		t.ADAIO.DisplayDA12(ctx, t.Channel),
	)
}

// emergencyStop resets the outputs after err, even if ctx is done.
func (t *BipolarTransistor) emergencyStop(ctx context.Context, err error) error {
	log := t.logger()
	log.WithError(err).Error("emergency stop engaged, disabling outputs")

	if rerr := t.Reset(context.WithoutCancel(ctx)); rerr != nil {
		log.WithError(rerr).Error("failed to disable outputs")
		return errors.Join(err, rerr)
	}
	log.Info("outputs disabled")
	return err
}

// Measure runs the base sweep and returns the characteristic. Outputs are
// reset when the run ends, successfully or not.
func (t *BipolarTransistor) Measure(ctx context.Context) (*Characteristic, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	settleReads := t.MaxSettleReads
	if settleReads <= 0 {
		settleReads = DefaultMaxSettleReads
	}

	log := t.logger().WithFields(logrus.Fields{
		"resistor":         t.Resistor,
		"max_base_current": t.MaxBaseCurrent,
		"max_base_voltage": t.MaxBaseVoltage(),
		"current_limit":    t.CurrentLimit,
	})

	points, err := t.Range().Points()
	if err != nil {
		return nil, err
	}

	if err := t.DCG.SetVoltage(ctx, t.CollectorVoltage); err != nil {
		return nil, t.emergencyStop(ctx, err)
	}
	if err := t.DCG.SetCurrent(ctx, t.CurrentLimit); err != nil {
		return nil, t.emergencyStop(ctx, err)
	}

	log.WithField("points", len(points)).Info("transistor run started")

	c := &Characteristic{
		Resistor:       t.Resistor,
		MaxBaseCurrent: t.MaxBaseCurrent,
		CurrentLimit:   t.CurrentLimit,
		Points:         make([]Point, 0, len(points)),
		Started:        time.Now(),
	}

	// Impossible previous readings force at least two reads per point.
	ceV, ceI := -100.0, -100.0

	for i, base := range points {
		p, err := t.measurePoint(ctx, base, settleReads, &ceV, &ceI)
		if err != nil {
			return nil, t.emergencyStop(ctx, &StepError{Index: i, Value: base, Err: err})
		}
		c.Points = append(c.Points, p)
	}

	c.Finished = time.Now()

	if err := t.Reset(ctx); err != nil {
		return nil, err
	}

	log.WithField("duration", c.Finished.Sub(c.Started)).Info("transistor run finished")
	return c, nil
}

func (t *BipolarTransistor) measurePoint(ctx context.Context, base float64, settleReads int, ceV, ceI *float64) (Point, error) {
	if err := t.ADAIO.SetDA12(ctx, t.Channel, base); err != nil {
		return Point{}, err
	}
	readback, err := t.ADAIO.DA12(ctx, t.Channel)
	if err != nil {
		return Point{}, err
	}
	if math.Abs(readback-base) > readbackEpsilon {
		return Point{}, fmt.Errorf("%w: set %g, read %g", ErrReadback, base, readback)
	}

	var beV float64
	settled := false
	for i := 0; i < settleReads && !settled; i++ {
		oldV, oldI := *ceV, *ceI

		if *ceV, err = t.DCG.ReadVoltage(ctx); err != nil {
			return Point{}, err
		}
		if *ceI, err = t.DCG.ReadCurrent(ctx); err != nil {
			return Point{}, err
		}
		if beV, err = t.ADAIO.AD16(ctx, t.Channel); err != nil {
			return Point{}, err
		}

		settled = math.Abs(*ceV-oldV) < settleVoltage && math.Abs(*ceI-oldI) < settleCurrent
	}
	if !settled {
		return Point{}, fmt.Errorf("%w after %d reads", ErrNotSettled, settleReads)
	}

	limited, err := t.DCG.CurrentLimited(ctx)
	if err != nil {
		return Point{}, err
	}

	return Point{
		BaseVoltage:      beV,
		BaseCurrent:      (base - beV) / t.Resistor,
		CollectorVoltage: *ceV,
		CollectorCurrent: *ceI,
		Limited:          limited,
	}, nil
}

// Point is one operating point of a transistor run.
type Point struct {
	BaseVoltage      float64 `json:"be_voltage"`
	BaseCurrent      float64 `json:"be_current"`
	CollectorVoltage float64 `json:"ce_voltage"`
	CollectorCurrent float64 `json:"ce_current"`
	// Limited is set when the DCG limited the collector current.
	Limited bool `json:"ce_limited"`
}

// Gain returns hFE, or 0 when the collector current was limited or no
// base current flowed.
func (p Point) Gain() float64 {
	if p.Limited || p.BaseCurrent == 0 {
		return 0
	}
	return p.CollectorCurrent / p.BaseCurrent
}

// Characteristic is the result of a completed transistor run.
type Characteristic struct {
	Resistor       float64   `json:"resistor"`
	MaxBaseCurrent float64   `json:"max_base_current"`
	CurrentLimit   float64   `json:"current_limit"`
	Points         []Point   `json:"points"`
	Started        time.Time `json:"started"`
	Finished       time.Time `json:"finished"`
}

// Len returns the number of points.
func (c *Characteristic) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Points)
}

// MaxGain returns the highest hFE of the run.
func (c *Characteristic) MaxGain() float64 {
	var g float64
	for _, p := range c.Points {
		g = math.Max(g, p.Gain())
	}
	return g
}
