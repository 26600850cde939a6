// models.go - Module type definitions and command encoding
package ctlab

import (
	"fmt"
	"math"
	"strings"
)

// ModuleType identifies the kind of lab module behind a bus ID.
type ModuleType int

const (
	ModuleUnknown ModuleType = iota
	ModuleDCG
	ModuleADAIO
	ModuleEDL
)

func (t ModuleType) String() string {
	switch t {
	case ModuleDCG:
		return "DCG"
	case ModuleADAIO:
		return "ADA-IO"
	case ModuleEDL:
		return "EDL"
	default:
		return "unknown"
	}
}

// ParseModuleType accepts the module names used in configuration files,
// e.g. "DCG", "ADA-IO", "adaio", "EDL".
func ParseModuleType(s string) (ModuleType, error) {
	if t := ModuleTypeFromName(s); t != ModuleUnknown {
		return t, nil
	}
	return ModuleUnknown, fmt.Errorf("unknown module type %q", s)
}

// ModuleTypeFromName guesses the module type from an identity string.
func ModuleTypeFromName(name string) ModuleType {
	n := strings.ToUpper(name)
	n = strings.NewReplacer("-", "", "_", "", " ", "").Replace(n)
	switch {
	case strings.Contains(n, "DCG"):
		return ModuleDCG
	case strings.Contains(n, "ADAIO"):
		return ModuleADAIO
	case strings.Contains(n, "EDL"):
		return ModuleEDL
	default:
		return ModuleUnknown
	}
}

// Address identifies a module on the bus. Channel selects one analog
// channel on multi-channel modules and is zero otherwise.
type Address struct {
	Type    ModuleType
	ID      int
	Channel int
}

func (a Address) String() string {
	if a.Type == ModuleADAIO {
		return fmt.Sprintf("%s#%d.%d", a.Type, a.ID, a.Channel)
	}
	return fmt.Sprintf("%s#%d", a.Type, a.ID)
}

// Range is a closed interval of accepted values.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return !math.IsNaN(v) && v >= r.Min && v <= r.Max
}

func (r Range) String() string {
	return fmt.Sprintf("[%g, %g]", r.Min, r.Max)
}

// Limits are the accepted setpoints of a module type and the accuracy of
// its readback.
type Limits struct {
	Voltage   Range
	Current   Range
	Tolerance float64
}

// CommandKind enumerates the operations every source/meter module understands.
type CommandKind int

const (
	SetVoltage CommandKind = iota
	SetCurrent
	ReadVoltage
	ReadCurrent
)

func (k CommandKind) String() string {
	switch k {
	case SetVoltage:
		return "set voltage"
	case SetCurrent:
		return "set current"
	case ReadVoltage:
		return "read voltage"
	case ReadCurrent:
		return "read current"
	default:
		return "unknown command"
	}
}

// IsWrite reports whether the command changes a setpoint.
func (k CommandKind) IsWrite() bool {
	return k == SetVoltage || k == SetCurrent
}

// Command is a request to a module before encoding.
type Command struct {
	Kind  CommandKind
	Value float64 // ignored for reads
}

const unsupported = -1

// Model describes how one module type maps Commands to subchannels.
type Model struct {
	Type ModuleType
	Name string
	// Channels is the number of analog channels; the channel index is
	// added to each subchannel base.
	Channels int

	SetVoltageBase  int
	SetCurrentBase  int
	ReadVoltageBase int
	ReadCurrentBase int

	Limits Limits

	// CalibrationArgs are the calibration indices the module accepts.
	CalibrationArgs []int
}

// Model definitions. Limits are conservative defaults; BusConfig.Limits
// overrides them per module type.
var (
	ModelDCG = Model{
		Type:            ModuleDCG,
		Name:            "DCG",
		Channels:        1,
		SetVoltageBase:  DCGVoltage,
		SetCurrentBase:  DCGCurrent,
		ReadVoltageBase: DCGMeasuredVoltage,
		ReadCurrentBase: DCGMeasuredCurrent,
		Limits: Limits{
			Voltage:   Range{Min: 0, Max: 40},
			Current:   Range{Min: 0, Max: 2},
			Tolerance: 0.05,
		},
		CalibrationArgs: []int{0, 1, 2, 3, 4, 5, 10, 11, 12, 13, 14, 15},
	}

	ModelADAIO = Model{
		Type:            ModuleADAIO,
		Name:            "ADA-IO",
		Channels:        ADAIOChannels,
		SetVoltageBase:  ADAIODA12Base,
		SetCurrentBase:  unsupported,
		ReadVoltageBase: ADAIOAD16Base,
		ReadCurrentBase: unsupported,
		Limits: Limits{
			Voltage:   Range{Min: -10, Max: 10},
			Tolerance: 0.005,
		},
	}

	ModelEDL = Model{
		Type:            ModuleEDL,
		Name:            "EDL",
		Channels:        1,
		SetVoltageBase:  EDLVoltage,
		SetCurrentBase:  EDLCurrent,
		ReadVoltageBase: EDLVoltageOn,
		ReadCurrentBase: EDLCurrentOn,
		Limits: Limits{
			Voltage:   Range{Min: 0, Max: 100},
			Current:   Range{Min: 0, Max: 10},
			Tolerance: 0.05,
		},
		CalibrationArgs: []int{2, 3, 4, 5, 10, 11, 12, 13, 14, 15},
	}
)

var modelRegistry = map[ModuleType]*Model{
	ModuleDCG:   &ModelDCG,
	ModuleADAIO: &ModelADAIO,
	ModuleEDL:   &ModelEDL,
}

// GetModel returns the model definition for a module type.
func GetModel(t ModuleType) (*Model, bool) {
	m, ok := modelRegistry[t]
	return m, ok
}

// Supports reports whether the module type implements the command.
func (m *Model) Supports(kind CommandKind) bool {
	return m.base(kind) != unsupported
}

// AllowsCalibration reports whether arg is a valid calibration index.
func (m *Model) AllowsCalibration(arg int) bool {
	for _, a := range m.CalibrationArgs {
		if a == arg {
			return true
		}
	}
	return false
}

// ValidateAddress checks the module ID and channel of addr against the model.
func (m *Model) ValidateAddress(addr Address) error {
	if addr.Type != m.Type {
		return fmt.Errorf("%w: address %s used with %s model", ErrInvalidValue, addr, m.Name)
	}
	if err := validateID(addr.ID); err != nil {
		return err
	}
	if addr.Channel < 0 || addr.Channel >= m.Channels {
		return invalidValue("%s channel %d (valid range: 0-%d)", m.Name, addr.Channel, m.Channels-1)
	}
	return nil
}

// Encode turns a Command for addr into a wire request, checking the value
// against limits.
func (m *Model) Encode(addr Address, cmd Command, limits Limits) (Request, error) {
	if err := m.ValidateAddress(addr); err != nil {
		return Request{}, err
	}

	base := m.base(cmd.Kind)
	if base == unsupported {
		return Request{}, fmt.Errorf("%w: %s cannot %s", ErrUnsupported, m.Name, cmd.Kind)
	}

	req := Request{
		Module:  addr.ID,
		Channel: base + addr.Channel,
	}

	switch cmd.Kind {
	case SetVoltage:
		if !limits.Voltage.Contains(cmd.Value) {
			return Request{}, invalidValue("%g V outside %s voltage range %s", cmd.Value, m.Name, limits.Voltage)
		}
	case SetCurrent:
		if !limits.Current.Contains(cmd.Value) {
			return Request{}, invalidValue("%g A outside %s current range %s", cmd.Value, m.Name, limits.Current)
		}
	default:
		req.Query = true
		return req, nil
	}

	req.Value = FormatValue(cmd.Value)
	req.Ack = true
	return req, nil
}

func (m *Model) base(kind CommandKind) int {
	switch kind {
	case SetVoltage:
		return m.SetVoltageBase
	case SetCurrent:
		return m.SetCurrentBase
	case ReadVoltage:
		return m.ReadVoltageBase
	case ReadCurrent:
		return m.ReadCurrentBase
	default:
		return unsupported
	}
}

func validateID(id int) error {
	if id < MinModuleID || id > MaxModuleID {
		return fmt.Errorf("%w: %d (valid range: %d-%d)", ErrInvalidID, id, MinModuleID, MaxModuleID)
	}
	return nil
}
