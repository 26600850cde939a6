package transports

import (
	"testing"

	"go.bug.st/serial"
)

func TestSerialConfig_Mode(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SerialConfig
		want    serial.Mode
		wantErr bool
	}{
		{
			name: "defaults",
			cfg:  SerialConfig{},
			want: serial.Mode{BaudRate: 38400, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit},
		},
		{
			name: "7E2",
			cfg:  SerialConfig{BaudRate: 9600, DataBits: 7, Parity: ParityEven, StopBits: 2},
			want: serial.Mode{BaudRate: 9600, DataBits: 7, Parity: serial.EvenParity, StopBits: serial.TwoStopBits},
		},
		{
			name: "1.5 stop bits",
			cfg:  SerialConfig{Parity: ParityMark, StopBits: 1.5},
			want: serial.Mode{BaudRate: 38400, DataBits: 8, Parity: serial.MarkParity, StopBits: serial.OnePointFiveStopBits},
		},
		{name: "9 data bits", cfg: SerialConfig{DataBits: 9}, wantErr: true},
		{name: "3 stop bits", cfg: SerialConfig{StopBits: 3}, wantErr: true},
		{name: "bad parity", cfg: SerialConfig{Parity: "weird"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, err := tt.cfg.Mode()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Mode() = %+v, want error", mode)
				}
				return
			}
			if err != nil {
				t.Fatalf("Mode() failed: %v", err)
			}
			if *mode != tt.want {
				t.Errorf("Mode() = %+v, want %+v", *mode, tt.want)
			}
		})
	}
}

func TestParseParity(t *testing.T) {
	for in, want := range map[string]Parity{"": ParityNone, "None": ParityNone, "ODD": ParityOdd, " even ": ParityEven} {
		got, err := ParseParity(in)
		if err != nil || got != want {
			t.Errorf("ParseParity(%q) = %q, %v, want %q", in, got, err, want)
		}
	}
	if _, err := ParseParity("7"); err == nil {
		t.Error("ParseParity(7) should fail")
	}
}

func TestOpenSerial_NoPort(t *testing.T) {
	if _, err := OpenSerial(SerialConfig{}); err == nil {
		t.Error("expected error for empty port")
	}
}
