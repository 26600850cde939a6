package ctlab

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func TestCalibrationValidation(t *testing.T) {
	tests := []struct {
		name    string
		cal     *Calibration
		wantErr bool
	}{
		{
			name: "valid DCG",
			cal:  &Calibration{ID: 1, Type: "DCG", Offsets: map[int]float64{0: 0.01}, Scales: map[int]float64{0: 1}},
		},
		{
			name: "valid EDL empty",
			cal:  NewCalibration(15, ModuleEDL),
		},
		{
			name:    "ID out of range",
			cal:     &Calibration{ID: 16, Type: "DCG"},
			wantErr: true,
		},
		{
			name:    "unknown type",
			cal:     &Calibration{ID: 1, Type: "PSU"},
			wantErr: true,
		},
		{
			name:    "EDL has no constant 0",
			cal:     &Calibration{ID: 3, Type: "EDL", Offsets: map[int]float64{0: 0.1}},
			wantErr: true,
		},
		{
			name:    "ADA-IO has no constants",
			cal:     &Calibration{ID: 2, Type: "ADA-IO", Scales: map[int]float64{10: 1}},
			wantErr: true,
		},
		{
			name:    "NaN scale",
			cal:     &Calibration{ID: 1, Type: "DCG", Scales: map[int]float64{1: math.NaN()}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cal.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidValue) {
					t.Errorf("Validate() error = %v, want ErrInvalidValue", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestCalibrationFileOperations(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "calibration.json")

	dcg := NewCalibration(1, ModuleDCG)
	dcg.Offsets[0] = -0.012
	dcg.Scales[0] = 1.004
	edl := NewCalibration(3, ModuleEDL)
	edl.Offsets[10] = 0.5

	cals := map[int]*Calibration{1: dcg, 3: edl}
	names := map[int]string{1: "supply"}

	if err := SaveCalibrations(filename, cals, names); err != nil {
		t.Fatalf("SaveCalibrations failed: %v", err)
	}

	loaded, err := LoadCalibrations(filename)
	if err != nil {
		t.Fatalf("LoadCalibrations failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d calibrations, want 2", len(loaded))
	}
	if got := loaded[1].Offsets[0]; got != -0.012 {
		t.Errorf("DCG offset 0: got %g, want -0.012", got)
	}
	if got := loaded[1].Scales[0]; got != 1.004 {
		t.Errorf("DCG scale 0: got %g, want 1.004", got)
	}
	if got := loaded[3].Offsets[10]; got != 0.5 {
		t.Errorf("EDL offset 10: got %g, want 0.5", got)
	}
	if typ, err := loaded[3].ModuleType(); err != nil || typ != ModuleEDL {
		t.Errorf("EDL type: got %v, %v", typ, err)
	}

	if _, err := LoadCalibrations(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCalibrationDuplicateID(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "calibration.json")

	cals := map[int]*Calibration{
		1: NewCalibration(1, ModuleDCG),
		2: NewCalibration(1, ModuleDCG),
	}
	if err := SaveCalibrations(filename, cals, nil); err != nil {
		t.Fatalf("SaveCalibrations failed: %v", err)
	}
	if _, err := LoadCalibrations(filename); err == nil {
		t.Error("expected error for duplicate module ID")
	}
}

func TestCalibrationString(t *testing.T) {
	cal := NewCalibration(2, ModuleDCG)
	cal.Offsets[1] = 0
	if got := cal.String(); got != "DCG#2: 1 offsets, 0 scales" {
		t.Errorf("String() = %q", got)
	}
}
