package ctlab

import (
	"context"
	"math"
)

// EDL is the electronic load. SetVoltage programs the undervoltage lockout;
// ReadVoltage and ReadCurrent report the values measured while the load is on.
type EDL struct {
	Module
	trigger int // last trigger mode written or read
}

// NewEDL creates an EDL on the given bus ID.
func NewEDL(bus *Bus, id int) *EDL {
	return &EDL{Module: newModule(bus, ModuleEDL, id)}
}

// SetEnabled switches the load on or off.
func (e *EDL) SetEnabled(ctx context.Context, on bool) error {
	v := 0.0
	if on {
		v = 1
	}
	return e.Set(ctx, EDLEnable, v)
}

// Enabled reports whether the load is on.
func (e *EDL) Enabled(ctx context.Context) (bool, error) {
	v, err := e.Query(ctx, EDLEnable)
	if err != nil {
		return false, err
	}
	return v >= 0.5, nil
}

// SetVoltage sets the undervoltage lockout.
func (e *EDL) SetVoltage(ctx context.Context, volts float64) error {
	return e.bus.SetVoltage(ctx, e.Address(), volts)
}

// SetCurrent sets the load current.
func (e *EDL) SetCurrent(ctx context.Context, amps float64) error {
	return e.bus.SetCurrent(ctx, e.Address(), amps)
}

// SetPower sets the load power in watts.
func (e *EDL) SetPower(ctx context.Context, watts float64) error {
	if err := e.checkPositive("set power", watts, true); err != nil {
		return err
	}
	return e.Set(ctx, EDLPower, watts)
}

// SetResistance sets the load resistance in ohms.
func (e *EDL) SetResistance(ctx context.Context, ohms float64) error {
	if err := e.checkPositive("set resistance", ohms, false); err != nil {
		return err
	}
	return e.Set(ctx, EDLResistance, ohms)
}

// SetPulseCurrent sets the current of the pulse phase.
func (e *EDL) SetPulseCurrent(ctx context.Context, amps float64) error {
	if l := e.bus.Limits(ModuleEDL); !l.Current.Contains(amps) {
		return &ModuleError{ID: e.id, Op: "set pulse current", Err: invalidValue("%g A outside %s", amps, l.Current)}
	}
	return e.Set(ctx, EDLPulseCurrent, amps)
}

// SetRipple configures pulsed operation: on and off time in milliseconds
// and the ripple percentage.
func (e *EDL) SetRipple(ctx context.Context, onTime, offTime, percent int) error {
	if onTime < 0 || offTime < 0 || percent < 0 || percent > 100 {
		return &ModuleError{ID: e.id, Op: "set ripple", Err: invalidValue("on %d ms, off %d ms, %d%%", onTime, offTime, percent)}
	}
	if err := e.Set(ctx, EDLRippleOnTime, float64(onTime)); err != nil {
		return err
	}
	if err := e.Set(ctx, EDLRippleOffTime, float64(offTime)); err != nil {
		return err
	}
	return e.Set(ctx, EDLRipple, float64(percent))
}

// SetRange selects the regulation mode.
func (e *EDL) SetRange(ctx context.Context, mode EDLRangeMode) error {
	if !mode.valid() {
		return &ModuleError{ID: e.id, Op: "set range", Err: invalidValue("range %d", mode)}
	}
	return e.Set(ctx, EDLRange, float64(mode))
}

// Range reads the regulation mode.
func (e *EDL) Range(ctx context.Context) (EDLRangeMode, error) {
	v, err := e.queryInt(ctx, EDLRange)
	if err != nil {
		return EDLRangeOff, err
	}
	mode := EDLRangeMode(v)
	if !mode.valid() {
		return EDLRangeOff, &ModuleError{ID: e.id, Op: "range", Err: protocolError("range %d out of bounds", v)}
	}
	return mode, nil
}

// Display selects the menu shown on the front panel (EDLDisplay* constants).
func (e *EDL) Display(ctx context.Context, menu int) error {
	if menu < EDLDisplayCurrent || menu > EDLDisplayTrack {
		return &ModuleError{ID: e.id, Op: "display", Err: invalidValue("menu %d", menu)}
	}
	return e.showMenu(ctx, menu)
}

// Trigger

// SetTriggerInput enables or disables the external trigger input.
func (e *EDL) SetTriggerInput(ctx context.Context, on bool) error {
	return e.setTriggerBit(ctx, EDLTriggerInput, on)
}

// SetAutoTrigger enables or disables automatic triggering.
func (e *EDL) SetAutoTrigger(ctx context.Context, on bool) error {
	return e.setTriggerBit(ctx, EDLAutoTrigger, on)
}

// TriggerMode reads the trigger mode bits (EDLTriggerInput, EDLAutoTrigger).
func (e *EDL) TriggerMode(ctx context.Context) (int, error) {
	v, err := e.queryInt(ctx, EDLTriggerMode)
	if err != nil {
		return 0, err
	}
	if v&^edlTriggerModeMask != 0 {
		return 0, &ModuleError{ID: e.id, Op: "trigger mode", Err: protocolError("trigger mode %#x", v)}
	}
	e.trigger = v
	return v, nil
}

func (e *EDL) setTriggerBit(ctx context.Context, bit int, on bool) error {
	mode := e.trigger &^ bit
	if on {
		mode |= bit
	}
	if mode == e.trigger {
		return nil
	}
	if err := e.Set(ctx, EDLTriggerMode, float64(mode)); err != nil {
		return err
	}
	e.trigger = mode
	return nil
}

// Measurements

// ReadVoltage reads the voltage measured while the load is on.
func (e *EDL) ReadVoltage(ctx context.Context) (float64, error) {
	return e.bus.ReadVoltage(ctx, e.Address())
}

// ReadCurrent reads the current measured while the load is on.
func (e *EDL) ReadCurrent(ctx context.Context) (float64, error) {
	return e.bus.ReadCurrent(ctx, e.Address())
}

// Measure reads voltage and current while the load is on.
func (e *EDL) Measure(ctx context.Context) (Measurement, error) {
	return e.bus.Measure(ctx, e.Address())
}

// OffVoltage reads the voltage measured while the load is off.
func (e *EDL) OffVoltage(ctx context.Context) (float64, error) {
	return e.Query(ctx, EDLVoltageOff)
}

// OffCurrent reads the current measured while the load is off.
func (e *EDL) OffCurrent(ctx context.Context) (float64, error) {
	return e.Query(ctx, EDLCurrentOff)
}

// Power reads the dissipated power in watts.
func (e *EDL) Power(ctx context.Context) (float64, error) {
	return e.Query(ctx, EDLMeasuredPower)
}

// Charge reads the absorbed charge in mAh.
func (e *EDL) Charge(ctx context.Context) (float64, error) {
	return e.Query(ctx, EDLCharge)
}

// Energy reads the absorbed energy in mWh.
func (e *EDL) Energy(ctx context.Context) (float64, error) {
	return e.Query(ctx, EDLEnergy)
}

// ResetCharge zeroes the charge counter.
func (e *EDL) ResetCharge(ctx context.Context) error {
	return e.Set(ctx, EDLResetCharge, 0)
}

// ResetEnergy zeroes the energy counter.
func (e *EDL) ResetEnergy(ctx context.Context) error {
	return e.Set(ctx, EDLResetEnergy, 0)
}

// Temperature reads the heat sink temperature in degrees Celsius.
func (e *EDL) Temperature(ctx context.Context) (float64, error) {
	return e.Query(ctx, ChTemperature)
}

func (e *EDL) checkPositive(op string, v float64, allowZero bool) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || (!allowZero && v == 0) {
		return &ModuleError{ID: e.id, Op: op, Err: invalidValue("%g", v)}
	}
	return nil
}
