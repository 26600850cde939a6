// Package config loads the YAML lab configuration and builds the bus,
// logger, metrics and Redis client from it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/erbth/ctlab-go/ctlab"
	"github.com/erbth/ctlab-go/transports"
)

type Config struct {
	Bus        BusConfig               `yaml:"bus"`
	Log        LogConfig               `yaml:"log"`
	Metrics    MetricsConfig           `yaml:"metrics"`
	Redis      RedisConfig             `yaml:"redis"`
	Modules    []ModuleConfig          `yaml:"modules"`
	Limits     map[string]LimitsConfig `yaml:"limits"`
	Transistor TransistorConfig        `yaml:"transistor"`
}

type BusConfig struct {
	Port          string        `yaml:"port"`
	Address       string        `yaml:"address"`
	BaudRate      int           `yaml:"baud"`
	DataBits      int           `yaml:"data_bits"`
	Parity        string        `yaml:"parity"`
	StopBits      float64       `yaml:"stop_bits"`
	Timeout       time.Duration `yaml:"timeout"`
	MinCommandGap time.Duration `yaml:"min_command_gap"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Channel  string `yaml:"channel"`
}

// ModuleConfig names one module on the bus.
type ModuleConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	ID   int    `yaml:"id"`
}

type LimitsConfig struct {
	VoltageMin float64 `yaml:"voltage_min"`
	VoltageMax float64 `yaml:"voltage_max"`
	CurrentMin float64 `yaml:"current_min"`
	CurrentMax float64 `yaml:"current_max"`
	Tolerance  float64 `yaml:"tolerance"`
}

type TransistorConfig struct {
	ADAIO          string  `yaml:"adaio"`
	DCG            string  `yaml:"dcg"`
	Channel        int     `yaml:"channel"`
	Resistor       float64 `yaml:"resistor"`
	MaxBaseCurrent float64 `yaml:"max_base_current"`
	CurrentLimit   float64 `yaml:"ce_current_limit"`
	MaxSettleReads int     `yaml:"max_settle_reads"`
}

// Load reads path and overlays it on Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Port:          "/dev/ttyUSB0",
			BaudRate:      ctlab.DefaultBaudRate,
			DataBits:      8,
			Parity:        string(transports.ParityNone),
			StopBits:      1,
			Timeout:       ctlab.DefaultTimeout,
			MinCommandGap: ctlab.DefaultMinCommandGap,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Namespace: "ctlab",
		},
		Redis: RedisConfig{
			PoolSize: 10,
			Channel:  "ctlab_measurements",
		},
		Transistor: TransistorConfig{
			ADAIO:          "adaio",
			DCG:            "dcg",
			Resistor:       10000,
			MaxBaseCurrent: 0.0005,
			CurrentLimit:   0.1,
			MaxSettleReads: 50,
		},
	}
}

// Validate checks the configuration without touching hardware.
func (c *Config) Validate() error {
	var errs []error

	if c.Bus.Port == "" && c.Bus.Address == "" {
		errs = append(errs, errors.New("bus: port or address is required"))
	}
	if _, err := c.serialConfig(); err != nil {
		errs = append(errs, fmt.Errorf("bus: %w", err))
	}
	if c.Bus.Timeout < 0 || c.Bus.MinCommandGap < 0 {
		errs = append(errs, errors.New("bus: durations must not be negative"))
	}

	if err := c.Log.validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}

	names := make(map[string]bool, len(c.Modules))
	for _, m := range c.Modules {
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("modules: module %d has no name", m.ID))
			continue
		}
		if names[m.Name] {
			errs = append(errs, fmt.Errorf("modules: duplicate name %q", m.Name))
		}
		names[m.Name] = true
		if _, err := ctlab.ParseModuleType(m.Type); err != nil {
			errs = append(errs, fmt.Errorf("modules: %s: %w", m.Name, err))
		}
		if m.ID < ctlab.MinModuleID || m.ID > ctlab.MaxModuleID {
			errs = append(errs, fmt.Errorf("modules: %s: ID %d out of range %d-%d", m.Name, m.ID, ctlab.MinModuleID, ctlab.MaxModuleID))
		}
	}

	if _, err := c.BusLimits(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (l LogConfig) validate() error {
	if _, err := parseLevel(l.Level); err != nil {
		return err
	}
	switch strings.ToLower(l.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown format %q", l.Format)
	}
	switch strings.ToLower(l.Output) {
	case "", "stdout", "stderr":
	case "file":
		if l.FilePath == "" {
			return errors.New("file output needs file_path")
		}
	default:
		return fmt.Errorf("unknown output %q", l.Output)
	}
	return nil
}

// Module returns the module with the given name.
func (c *Config) Module(name string) (ModuleConfig, error) {
	for _, m := range c.Modules {
		if m.Name == name {
			return m, nil
		}
	}
	return ModuleConfig{}, fmt.Errorf("no module named %q in config", name)
}

// Address returns the bus address of the module.
func (m ModuleConfig) Address() (ctlab.Address, error) {
	t, err := ctlab.ParseModuleType(m.Type)
	if err != nil {
		return ctlab.Address{}, err
	}
	return ctlab.Address{Type: t, ID: m.ID}, nil
}

// BusLimits converts the limits section, keyed by module type.
func (c *Config) BusLimits() (map[ctlab.ModuleType]ctlab.Limits, error) {
	limits := make(map[ctlab.ModuleType]ctlab.Limits, len(c.Limits))
	for name, l := range c.Limits {
		t, err := ctlab.ParseModuleType(name)
		if err != nil {
			return nil, fmt.Errorf("limits: %w", err)
		}
		if l.VoltageMin > l.VoltageMax || l.CurrentMin > l.CurrentMax {
			return nil, fmt.Errorf("limits: %s: minimum above maximum", name)
		}
		if l.Tolerance < 0 {
			return nil, fmt.Errorf("limits: %s: negative tolerance", name)
		}
		limits[t] = ctlab.Limits{
			Voltage:   ctlab.Range{Min: l.VoltageMin, Max: l.VoltageMax},
			Current:   ctlab.Range{Min: l.CurrentMin, Max: l.CurrentMax},
			Tolerance: l.Tolerance,
		}
	}
	return limits, nil
}

func (c *Config) serialConfig() (transports.SerialConfig, error) {
	parity, err := transports.ParseParity(c.Bus.Parity)
	if err != nil {
		return transports.SerialConfig{}, err
	}
	sc := transports.SerialConfig{
		Port:     c.Bus.Port,
		BaudRate: c.Bus.BaudRate,
		DataBits: c.Bus.DataBits,
		Parity:   parity,
		StopBits: transports.StopBits(c.Bus.StopBits),
		Timeout:  c.Bus.Timeout,
	}
	if _, err := sc.Mode(); err != nil {
		return transports.SerialConfig{}, err
	}
	return sc, nil
}
