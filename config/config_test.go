package config

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/erbth/ctlab-go/ctlab"
	"github.com/erbth/ctlab-go/ctlab/ctlabtest"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lab.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault_Validates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
bus:
  address: ct-lab2:10001
  timeout: 250ms
  min_command_gap: 2ms
log:
  level: debug
  format: json
redis:
  addr: localhost:6379
modules:
  - {name: supply, type: DCG, id: 1}
  - {name: adaio, type: ADA-IO, id: 2}
  - {name: load, type: EDL, id: 3}
limits:
  dcg:
    voltage_max: 20
    current_max: 1
    tolerance: 0.01
transistor:
  dcg: supply
  channel: 3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Bus.Address != "ct-lab2:10001" || cfg.Bus.Timeout != 250*time.Millisecond || cfg.Bus.MinCommandGap != 2*time.Millisecond {
		t.Errorf("bus = %+v", cfg.Bus)
	}
	// Unset keys keep their defaults.
	if cfg.Bus.BaudRate != ctlab.DefaultBaudRate || cfg.Redis.Channel != "ctlab_measurements" || cfg.Transistor.Resistor != 10000 {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if cfg.Transistor.DCG != "supply" || cfg.Transistor.ADAIO != "adaio" || cfg.Transistor.Channel != 3 {
		t.Errorf("transistor = %+v", cfg.Transistor)
	}
	if len(cfg.Modules) != 3 {
		t.Fatalf("got %d modules, want 3", len(cfg.Modules))
	}

	limits, err := cfg.BusLimits()
	if err != nil {
		t.Fatalf("BusLimits failed: %v", err)
	}
	if l := limits[ctlab.ModuleDCG]; l.Voltage.Max != 20 || l.Current.Max != 1 || l.Tolerance != 0.01 {
		t.Errorf("DCG limits = %+v", l)
	}

	if opts := cfg.RedisOptions(); opts == nil || opts.Addr != "localhost:6379" || opts.PoolSize != 10 {
		t.Errorf("RedisOptions() = %+v", opts)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "bus: [")); err == nil {
		t.Error("expected error for malformed YAML")
	}
	if _, err := Load(writeConfig(t, "bus:\n  data_bits: 9\n")); err == nil {
		t.Error("expected error for invalid bus settings")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"no port", func(c *Config) { c.Bus.Port = "" }, "port or address"},
		{"bad parity", func(c *Config) { c.Bus.Parity = "sometimes" }, "parity"},
		{"negative timeout", func(c *Config) { c.Bus.Timeout = -time.Second }, "negative"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "format"},
		{"file without path", func(c *Config) { c.Log.Output = "file" }, "file_path"},
		{"unnamed module", func(c *Config) { c.Modules = []ModuleConfig{{Type: "DCG", ID: 1}} }, "no name"},
		{"duplicate module", func(c *Config) {
			c.Modules = []ModuleConfig{{Name: "a", Type: "DCG", ID: 1}, {Name: "a", Type: "EDL", ID: 2}}
		}, "duplicate"},
		{"unknown type", func(c *Config) { c.Modules = []ModuleConfig{{Name: "a", Type: "PSU", ID: 1}} }, "a:"},
		{"ID out of range", func(c *Config) { c.Modules = []ModuleConfig{{Name: "a", Type: "DCG", ID: 16}} }, "out of range"},
		{"inverted limits", func(c *Config) {
			c.Limits = map[string]LimitsConfig{"EDL": {VoltageMin: 10, VoltageMax: 0}}
		}, "minimum above maximum"},
		{"limits for unknown type", func(c *Config) { c.Limits = map[string]LimitsConfig{"PSU": {}} }, "limits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Bus.Port = ""
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "port or address") || !strings.Contains(err.Error(), "format") {
		t.Errorf("Validate() = %v, want both errors", err)
	}
}

func TestNewLogger(t *testing.T) {
	log, closer, err := NewLogger(LogConfig{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer closer.Close()
	if log.GetLevel() != logrus.WarnLevel {
		t.Errorf("level = %s, want warn", log.GetLevel())
	}
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("formatter = %T, want JSON", log.Formatter)
	}

	if _, _, err := NewLogger(LogConfig{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctlab.log")
	log, closer, err := NewLogger(LogConfig{Output: "file", FilePath: path})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	log.WithField("module", "DCG#1").Info("voltage set")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "voltage set") || !strings.Contains(string(data), "DCG#1") {
		t.Errorf("log file = %q", data)
	}
}

func TestRedis_Unconfigured(t *testing.T) {
	cfg := Default()
	if opts := cfg.RedisOptions(); opts != nil {
		t.Errorf("RedisOptions() = %+v, want nil", opts)
	}
	client, err := cfg.NewRedisClient(context.Background())
	if client != nil || err != nil {
		t.Errorf("NewRedisClient() = %v, %v, want nil, nil", client, err)
	}
	if p := cfg.Publisher(nil, nil); p.Channel() != "ctlab_measurements" {
		t.Errorf("publisher channel = %q", p.Channel())
	}
}

func TestNewMetrics(t *testing.T) {
	cfg := Default()
	if m := cfg.NewMetrics(prometheus.NewRegistry()); m != nil {
		t.Error("metrics created while disabled")
	}
	cfg.Metrics.Enabled = true
	if m := cfg.NewMetrics(prometheus.NewRegistry()); m == nil {
		t.Error("metrics not created while enabled")
	}
}

func TestOpenBus_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		if conn, err := ln.Accept(); err == nil {
			defer conn.Close()
			conn.Read(make([]byte, 1))
		}
	}()

	cfg := Default()
	cfg.Bus.Address = ln.Addr().String()
	cfg.Metrics.Enabled = true

	bus, err := cfg.OpenBus(logrus.New(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("OpenBus failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	cfg.Bus.Address = ""
	cfg.Bus.Port = ""
	if _, err := cfg.OpenBus(logrus.New(), nil); err == nil {
		t.Error("expected error without port or address")
	}
}

func labConfig() *Config {
	cfg := Default()
	cfg.Modules = []ModuleConfig{
		{Name: "dcg", Type: "DCG", ID: 1},
		{Name: "adaio", Type: "ADA-IO", ID: 2},
		{Name: "load", Type: "EDL", ID: 3},
	}
	return cfg
}

func TestModuleLookups(t *testing.T) {
	cfg := labConfig()
	bus := ctlabtest.NewBus(t, ctlabtest.New(nil))

	dcg, err := cfg.DCG(bus, "dcg")
	if err != nil || dcg.ID() != 1 {
		t.Errorf("DCG() = %v, %v", dcg, err)
	}
	if edl, err := cfg.EDL(bus, "load"); err != nil || edl.ID() != 3 {
		t.Errorf("EDL() = %v, %v", edl, err)
	}
	if _, err := cfg.ADAIO(bus, "dcg"); err == nil {
		t.Error("expected type mismatch error")
	}
	if _, err := cfg.DCG(bus, "psu"); err == nil {
		t.Error("expected error for unknown module")
	}
}

func TestBipolarTransistor(t *testing.T) {
	cfg := labConfig()
	cfg.Transistor.Channel = 4
	cfg.Transistor.CurrentLimit = 0.05
	bus := ctlabtest.NewBus(t, ctlabtest.New(nil))

	run, err := cfg.BipolarTransistor(bus, logrus.New())
	if err != nil {
		t.Fatalf("BipolarTransistor failed: %v", err)
	}
	if run.Channel != 4 || run.CurrentLimit != 0.05 || run.Resistor != 10000 || run.MaxSettleReads != 50 {
		t.Errorf("run = %+v", run)
	}
	if got := run.MaxBaseVoltage(); got != 5 {
		t.Errorf("MaxBaseVoltage() = %g, want 5", got)
	}

	cfg.Transistor.Resistor = 0
	if _, err := cfg.BipolarTransistor(bus, nil); err == nil {
		t.Error("expected error for zero resistor")
	}
}
