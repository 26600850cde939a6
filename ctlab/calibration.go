// calibration.go - EEPROM calibration backup and restore
package ctlab

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"
)

// Calibration holds the offset and scale constants of one module, keyed by
// calibration index.
type Calibration struct {
	ID      int             `json:"id"`
	Type    string          `json:"type"`
	Offsets map[int]float64 `json:"offsets"`
	Scales  map[int]float64 `json:"scales"`
}

// NewCalibration creates an empty calibration for a module.
func NewCalibration(id int, t ModuleType) *Calibration {
	return &Calibration{
		ID:      id,
		Type:    t.String(),
		Offsets: make(map[int]float64),
		Scales:  make(map[int]float64),
	}
}

// ModuleType returns the parsed module type.
func (c *Calibration) ModuleType() (ModuleType, error) {
	return ParseModuleType(c.Type)
}

// Validate checks the calibration against its module model.
func (c *Calibration) Validate() error {
	if err := validateID(c.ID); err != nil {
		return err
	}

	t, err := c.ModuleType()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	model, _ := GetModel(t)

	for name, values := range map[string]map[int]float64{"offset": c.Offsets, "scale": c.Scales} {
		for arg, v := range values {
			if !model.AllowsCalibration(arg) {
				return invalidValue("%s has no calibration constant %d", model.Name, arg)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return invalidValue("%s %d is %g", name, arg, v)
			}
		}
	}

	return nil
}

func (c *Calibration) String() string {
	return fmt.Sprintf("%s#%d: %d offsets, %d scales", c.Type, c.ID, len(c.Offsets), len(c.Scales))
}

// ReadCalibration reads every calibration constant the module has.
func ReadCalibration(ctx context.Context, m *Module) (*Calibration, error) {
	cal := NewCalibration(m.ID(), m.Type())

	for _, arg := range m.model.CalibrationArgs {
		offset, err := m.Offset(ctx, arg)
		if err != nil {
			return nil, err
		}
		scale, err := m.Scale(ctx, arg)
		if err != nil {
			return nil, err
		}
		cal.Offsets[arg] = offset
		cal.Scales[arg] = scale
	}

	return cal, nil
}

// WriteCalibration writes cal to the module's EEPROM, unlocking it for
// every write.
func WriteCalibration(ctx context.Context, m *Module, cal *Calibration) error {
	if err := cal.Validate(); err != nil {
		return err
	}
	if cal.ID != m.ID() {
		return invalidValue("calibration for module %d written to module %d", cal.ID, m.ID())
	}
	if t, _ := cal.ModuleType(); t != m.Type() {
		return invalidValue("%s calibration written to %s", t, m.Type())
	}

	wen := m.wen
	m.wen = true
	defer func() { m.wen = wen }()

	for _, arg := range sortedKeys(cal.Offsets) {
		if err := m.SetOffset(ctx, arg, cal.Offsets[arg]); err != nil {
			return err
		}
	}
	for _, arg := range sortedKeys(cal.Scales) {
		if err := m.SetScale(ctx, arg, cal.Scales[arg]); err != nil {
			return err
		}
	}

	return nil
}

// LoadCalibrations loads calibration data from a JSON file keyed by
// module name.
func LoadCalibrations(filename string) (map[int]*Calibration, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}

	var named map[string]*Calibration
	if err := json.Unmarshal(data, &named); err != nil {
		return nil, fmt.Errorf("failed to parse calibration file: %w", err)
	}

	result := make(map[int]*Calibration)
	for name, cal := range named {
		if cal == nil {
			return nil, fmt.Errorf("empty calibration for module %s", name)
		}
		if err := cal.Validate(); err != nil {
			return nil, fmt.Errorf("invalid calibration for module %s: %w", name, err)
		}
		if _, exists := result[cal.ID]; exists {
			return nil, fmt.Errorf("duplicate module ID %d found in calibration file", cal.ID)
		}
		result[cal.ID] = cal
	}

	return result, nil
}

// SaveCalibrations writes calibrations to a JSON file. Modules missing
// from names are stored as "<type>_<id>".
func SaveCalibrations(filename string, calibrations map[int]*Calibration, names map[int]string) error {
	named := make(map[string]*Calibration, len(calibrations))
	for id, cal := range calibrations {
		name, ok := names[id]
		if !ok {
			name = fmt.Sprintf("%s_%d", cal.Type, id)
		}
		named[name] = cal
	}

	data, err := json.MarshalIndent(named, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal calibrations: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}

	return nil
}

func sortedKeys(m map[int]float64) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
