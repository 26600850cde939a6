package ctlab

import (
	"context"
	"fmt"
)

// Module provides the operations every lab module shares: identity,
// status, display menu and EEPROM calibration access.
type Module struct {
	bus   *Bus
	id    int
	model *Model
	wen   bool
}

// NewModule returns the shared operations of the module at id. Use the
// typed wrappers for anything module specific.
func NewModule(bus *Bus, t ModuleType, id int) *Module {
	m := newModule(bus, t, id)
	return &m
}

func newModule(bus *Bus, t ModuleType, id int) Module {
	model, ok := GetModel(t)
	if !ok {
		model = &Model{Type: t, Name: t.String(), Channels: 1}
	}
	return Module{
		bus:   bus,
		id:    id,
		model: model,
	}
}

// ID returns the module's bus ID.
func (m *Module) ID() int {
	return m.id
}

// Type returns the module type.
func (m *Module) Type() ModuleType {
	return m.model.Type
}

// Model returns the module's model definition.
func (m *Module) Model() *Model {
	return m.model
}

// Bus returns the bus the module is attached to.
func (m *Module) Bus() *Bus {
	return m.bus
}

// Address returns the module address of channel 0.
func (m *Module) Address() Address {
	return Address{Type: m.model.Type, ID: m.id}
}

// Identify reads the module's name and firmware version.
func (m *Module) Identify(ctx context.Context) (Identity, error) {
	return m.bus.Identify(ctx, m.id)
}

// Status reads the module's status word.
func (m *Module) Status(ctx context.Context) (Status, error) {
	return m.bus.Status(ctx, m.id)
}

// Query reads a numeric subchannel.
func (m *Module) Query(ctx context.Context, channel int) (float64, error) {
	f, err := m.bus.Query(ctx, m.id, channel)
	if err != nil {
		return 0, err
	}
	v, err := f.Float()
	if err != nil {
		return 0, &ModuleError{ID: m.id, Op: "query", Err: err}
	}
	return v, nil
}

// Set writes a numeric subchannel and waits for the acknowledge.
func (m *Module) Set(ctx context.Context, channel int, value float64) error {
	_, err := m.bus.WriteAck(ctx, m.id, channel, FormatValue(value))
	return err
}

func (m *Module) queryInt(ctx context.Context, channel int) (int, error) {
	f, err := m.bus.Query(ctx, m.id, channel)
	if err != nil {
		return 0, err
	}
	v, err := f.Int()
	if err != nil {
		return 0, &ModuleError{ID: m.id, Op: "query", Err: err}
	}
	return v, nil
}

func (m *Module) showMenu(ctx context.Context, menu int) error {
	return m.Set(ctx, ChDisplay, float64(menu))
}

// EEPROM access

// EnableWrite makes subsequent calibration writes unlock the EEPROM first.
func (m *Module) EnableWrite() {
	m.wen = true
}

// DisableWrite stops calibration writes from unlocking the EEPROM.
func (m *Module) DisableWrite() {
	m.wen = false
}

// WriteEnabled reports whether calibration writes unlock the EEPROM.
func (m *Module) WriteEnabled() bool {
	return m.wen
}

// Offset reads calibration offset arg.
func (m *Module) Offset(ctx context.Context, arg int) (float64, error) {
	if err := m.checkCalibrationArg(arg); err != nil {
		return 0, err
	}
	return m.Query(ctx, ChOffsetBase+arg)
}

// SetOffset writes calibration offset arg.
func (m *Module) SetOffset(ctx context.Context, arg int, value float64) error {
	if err := m.checkCalibrationArg(arg); err != nil {
		return err
	}
	return m.writeCalibration(ctx, "set offset", ChOffsetBase+arg, value)
}

// Scale reads calibration scale arg.
func (m *Module) Scale(ctx context.Context, arg int) (float64, error) {
	if err := m.checkCalibrationArg(arg); err != nil {
		return 0, err
	}
	return m.Query(ctx, ChScaleBase+arg)
}

// SetScale writes calibration scale arg.
func (m *Module) SetScale(ctx context.Context, arg int, value float64) error {
	if err := m.checkCalibrationArg(arg); err != nil {
		return err
	}
	return m.writeCalibration(ctx, "set scale", ChScaleBase+arg, value)
}

func (m *Module) checkCalibrationArg(arg int) error {
	if !m.model.AllowsCalibration(arg) {
		return &ModuleError{ID: m.id, Op: "calibration", Err: invalidValue("%s has no calibration constant %d", m.model.Name, arg)}
	}
	return nil
}

func (m *Module) writeCalibration(ctx context.Context, op string, channel int, value float64) error {
	if err := m.sendWriteEnable(ctx); err != nil {
		return err
	}

	st, err := m.bus.WriteAck(ctx, m.id, channel, FormatValue(value))
	if err != nil {
		return err
	}
	if st.Code&StatusFaultMask != 0 {
		return &ModuleError{ID: m.id, Op: op, Status: st, Err: fmt.Errorf("%w: write rejected with status %s", ErrProtocol, st)}
	}
	return nil
}

// sendWriteEnable unlocks the EEPROM if EnableWrite was called.
func (m *Module) sendWriteEnable(ctx context.Context) error {
	if !m.wen {
		return nil
	}

	st, err := m.bus.Command(ctx, m.id, MnemonicWriteEnable, "1")
	if err != nil {
		return err
	}
	if !st.WriteEnabled() {
		return &ModuleError{ID: m.id, Op: "write enable", Status: st, Err: fmt.Errorf("%w: EEPROM write not enabled", ErrProtocol)}
	}
	return nil
}
