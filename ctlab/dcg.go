package ctlab

import "context"

// DCG is the c't-lab DC generator: a programmable voltage/current source
// that measures its own output.
type DCG struct {
	Module
}

// NewDCG creates a DCG on the given bus ID.
func NewDCG(bus *Bus, id int) *DCG {
	return &DCG{Module: newModule(bus, ModuleDCG, id)}
}

// Output control

// SetVoltage sets the output voltage.
func (d *DCG) SetVoltage(ctx context.Context, volts float64) error {
	return d.bus.SetVoltage(ctx, d.Address(), volts)
}

// SetCurrent sets the output current limit.
func (d *DCG) SetCurrent(ctx context.Context, amps float64) error {
	return d.bus.SetCurrent(ctx, d.Address(), amps)
}

// VoltageSetpoint reads back the programmed voltage.
func (d *DCG) VoltageSetpoint(ctx context.Context) (float64, error) {
	return d.Query(ctx, DCGVoltage)
}

// CurrentSetpoint reads back the programmed current limit.
func (d *DCG) CurrentSetpoint(ctx context.Context) (float64, error) {
	return d.Query(ctx, DCGCurrent)
}

// SetPulseVoltage sets the voltage of the pulse phase.
func (d *DCG) SetPulseVoltage(ctx context.Context, volts float64) error {
	if l := d.bus.Limits(ModuleDCG); !l.Voltage.Contains(volts) {
		return &ModuleError{ID: d.id, Op: "set pulse voltage", Err: invalidValue("%g V outside %s", volts, l.Voltage)}
	}
	return d.Set(ctx, DCGPulseVoltage, volts)
}

// SetPulseCurrent sets the current of the pulse phase.
func (d *DCG) SetPulseCurrent(ctx context.Context, amps float64) error {
	if l := d.bus.Limits(ModuleDCG); !l.Current.Contains(amps) {
		return &ModuleError{ID: d.id, Op: "set pulse current", Err: invalidValue("%g A outside %s", amps, l.Current)}
	}
	return d.Set(ctx, DCGPulseCurrent, amps)
}

// Measurements

// ReadVoltage reads the measured output voltage.
func (d *DCG) ReadVoltage(ctx context.Context) (float64, error) {
	return d.bus.ReadVoltage(ctx, d.Address())
}

// ReadCurrent reads the measured output current.
func (d *DCG) ReadCurrent(ctx context.Context) (float64, error) {
	return d.bus.ReadCurrent(ctx, d.Address())
}

// Measure reads output voltage and current.
func (d *DCG) Measure(ctx context.Context) (Measurement, error) {
	return d.bus.Measure(ctx, d.Address())
}

// Charge reads the delivered charge in mAh.
func (d *DCG) Charge(ctx context.Context) (float64, error) {
	return d.Query(ctx, DCGCharge)
}

// ResetCharge zeroes the charge counter.
func (d *DCG) ResetCharge(ctx context.Context) error {
	return d.Set(ctx, DCGCharge, 0)
}

// Temperature reads the heat sink temperature in degrees Celsius.
func (d *DCG) Temperature(ctx context.Context) (float64, error) {
	return d.Query(ctx, ChTemperature)
}

// CurrentLimited reports whether the output is in constant current mode.
func (d *DCG) CurrentLimited(ctx context.Context) (bool, error) {
	st, err := d.Status(ctx)
	if err != nil {
		return false, err
	}
	return st.Has(DCGCurrentLimited), nil
}

// Display selects the menu shown on the front panel (DCGDisplay* constants).
func (d *DCG) Display(ctx context.Context, menu int) error {
	if menu < DCGDisplayVoltage || menu > DCGDisplayPower {
		return &ModuleError{ID: d.id, Op: "display", Err: invalidValue("menu %d", menu)}
	}
	return d.showMenu(ctx, menu)
}
