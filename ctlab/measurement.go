package ctlab

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Measurement is one voltage/current reading taken from a module.
type Measurement struct {
	Address Address
	// Setpoint is the controlling value a sweep applied before the reading.
	Setpoint float64
	Voltage  float64
	// Current is NaN for modules that cannot measure current.
	Current float64
	Time    time.Time
}

// HasCurrent reports whether the module measured a current.
func (m Measurement) HasCurrent() bool {
	return !math.IsNaN(m.Current)
}

func (m Measurement) String() string {
	if !m.HasCurrent() {
		return fmt.Sprintf("%s @%g: %g V", m.Address, m.Setpoint, m.Voltage)
	}
	return fmt.Sprintf("%s @%g: %g V, %g A", m.Address, m.Setpoint, m.Voltage, m.Current)
}

// VoltageSource is a module output whose voltage can be set.
type VoltageSource interface {
	SetVoltage(ctx context.Context, volts float64) error
}

// CurrentSource is a module output whose current can be set.
type CurrentSource interface {
	SetCurrent(ctx context.Context, amps float64) error
}

// VoltageMeter reads a voltage.
type VoltageMeter interface {
	ReadVoltage(ctx context.Context) (float64, error)
}

// CurrentMeter reads a current.
type CurrentMeter interface {
	ReadCurrent(ctx context.Context) (float64, error)
}

// Meter takes a complete Measurement.
type Meter interface {
	Measure(ctx context.Context) (Measurement, error)
}
