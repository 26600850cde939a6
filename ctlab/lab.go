package ctlab

import (
	"context"
	"fmt"
)

// Lab is the set of modules found on one bus.
type Lab struct {
	bus     *Bus
	modules []FoundModule
}

// Discover scans every module ID on the bus.
func Discover(ctx context.Context, bus *Bus) (*Lab, error) {
	found, err := bus.Scan(ctx, MinModuleID, MaxModuleID)
	if err != nil {
		return nil, err
	}
	return NewLab(bus, found...), nil
}

// NewLab creates a Lab from already known modules.
func NewLab(bus *Bus, modules ...FoundModule) *Lab {
	return &Lab{
		bus:     bus,
		modules: modules,
	}
}

// Bus returns the bus the lab was discovered on.
func (l *Lab) Bus() *Bus {
	return l.bus
}

// Modules returns the modules in scan order.
func (l *Lab) Modules() []FoundModule {
	return l.modules
}

// IDs returns the module IDs in scan order.
func (l *Lab) IDs() []int {
	ids := make([]int, len(l.modules))
	for i, m := range l.modules {
		ids[i] = m.ID
	}
	return ids
}

// Module returns the module with the given ID.
func (l *Lab) Module(id int) (FoundModule, bool) {
	for _, m := range l.modules {
		if m.ID == id {
			return m, true
		}
	}
	return FoundModule{}, false
}

// ByType returns all modules of one type.
func (l *Lab) ByType(t ModuleType) []FoundModule {
	var out []FoundModule
	for _, m := range l.modules {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// First returns the lowest-ID module of one type.
func (l *Lab) First(t ModuleType) (FoundModule, bool) {
	mods := l.ByType(t)
	if len(mods) == 0 {
		return FoundModule{}, false
	}
	return mods[0], true
}

// DCG returns the DCG with the given ID.
func (l *Lab) DCG(id int) (*DCG, error) {
	if err := l.expect(id, ModuleDCG); err != nil {
		return nil, err
	}
	return NewDCG(l.bus, id), nil
}

// ADAIO returns the ADA-IO with the given ID.
func (l *Lab) ADAIO(id int) (*ADAIO, error) {
	if err := l.expect(id, ModuleADAIO); err != nil {
		return nil, err
	}
	return NewADAIO(l.bus, id), nil
}

// EDL returns the EDL with the given ID.
func (l *Lab) EDL(id int) (*EDL, error) {
	if err := l.expect(id, ModuleEDL); err != nil {
		return nil, err
	}
	return NewEDL(l.bus, id), nil
}

func (l *Lab) expect(id int, t ModuleType) error {
	m, ok := l.Module(id)
	if !ok {
		return &ModuleError{ID: id, Op: "lookup", Err: fmt.Errorf("%w: not found on bus", ErrInvalidID)}
	}
	if m.Type != t {
		return &ModuleError{ID: id, Op: "lookup", Err: fmt.Errorf("%w: found %s, want %s", ErrUnsupported, m.Type, t)}
	}
	return nil
}
