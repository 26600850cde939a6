package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/erbth/ctlab-go/characterize"
	"github.com/erbth/ctlab-go/ctlab"
)

const timestampFormat = "2006-01-02 15:04:05"

// NewLogger builds a logger from the log section. The returned closer
// releases the log file, if any.
func NewLogger(cfg LogConfig) (*logrus.Logger, io.Closer, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	log := logrus.New()

	level, _ := parseLevel(cfg.Level)
	log.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	}

	var closer io.Closer = nopCloser{}
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		log.SetOutput(os.Stderr)
	case "file":
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		log.SetOutput(f)
		closer = f
	default:
		log.SetOutput(os.Stdout)
	}

	return log, closer, nil
}

func parseLevel(s string) (logrus.Level, error) {
	if s == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(s)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewMetrics creates the bus metrics if they are enabled.
func (c *Config) NewMetrics(reg prometheus.Registerer) *ctlab.Metrics {
	if !c.Metrics.Enabled {
		return nil
	}
	return ctlab.NewMetrics(c.Metrics.Namespace, reg)
}

// BusConfig returns the ctlab bus configuration.
func (c *Config) BusConfig(log logrus.FieldLogger, metrics *ctlab.Metrics) (ctlab.BusConfig, error) {
	sc, err := c.serialConfig()
	if err != nil {
		return ctlab.BusConfig{}, err
	}
	limits, err := c.BusLimits()
	if err != nil {
		return ctlab.BusConfig{}, err
	}
	return ctlab.BusConfig{
		Address:       c.Bus.Address,
		Port:          sc.Port,
		BaudRate:      sc.BaudRate,
		DataBits:      sc.DataBits,
		Parity:        sc.Parity,
		StopBits:      sc.StopBits,
		Timeout:       c.Bus.Timeout,
		MinCommandGap: c.Bus.MinCommandGap,
		Logger:        log,
		Metrics:       metrics,
		Limits:        limits,
	}, nil
}

// OpenBus opens the configured bus. Metrics are registered with reg when
// enabled.
func (c *Config) OpenBus(log logrus.FieldLogger, reg prometheus.Registerer) (*ctlab.Bus, error) {
	bc, err := c.BusConfig(log, c.NewMetrics(reg))
	if err != nil {
		return nil, err
	}
	return ctlab.NewBus(bc)
}

// RedisOptions returns the client options, or nil when Redis is not
// configured.
func (c *Config) RedisOptions() *redis.Options {
	if c.Redis.Addr == "" {
		return nil
	}
	return &redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		PoolSize: c.Redis.PoolSize,
	}
}

// NewRedisClient connects to Redis and checks the connection. It returns
// nil without error when Redis is not configured.
func (c *Config) NewRedisClient(ctx context.Context) (*redis.Client, error) {
	opts := c.RedisOptions()
	if opts == nil {
		return nil, nil
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}

// Publisher wraps client for the configured channel.
func (c *Config) Publisher(client characterize.RedisClient, log logrus.FieldLogger) *characterize.Publisher {
	return characterize.NewPublisher(client, c.Redis.Channel, log)
}

// Module lookups

func (c *Config) address(name string, want ctlab.ModuleType) (ctlab.Address, error) {
	m, err := c.Module(name)
	if err != nil {
		return ctlab.Address{}, err
	}
	addr, err := m.Address()
	if err != nil {
		return ctlab.Address{}, err
	}
	if addr.Type != want {
		return ctlab.Address{}, fmt.Errorf("module %q is %s, not %s", name, addr.Type, want)
	}
	return addr, nil
}

// DCG returns the configured DCG called name.
func (c *Config) DCG(bus *ctlab.Bus, name string) (*ctlab.DCG, error) {
	addr, err := c.address(name, ctlab.ModuleDCG)
	if err != nil {
		return nil, err
	}
	return ctlab.NewDCG(bus, addr.ID), nil
}

// ADAIO returns the configured ADA-IO called name.
func (c *Config) ADAIO(bus *ctlab.Bus, name string) (*ctlab.ADAIO, error) {
	addr, err := c.address(name, ctlab.ModuleADAIO)
	if err != nil {
		return nil, err
	}
	return ctlab.NewADAIO(bus, addr.ID), nil
}

// EDL returns the configured EDL called name.
func (c *Config) EDL(bus *ctlab.Bus, name string) (*ctlab.EDL, error) {
	addr, err := c.address(name, ctlab.ModuleEDL)
	if err != nil {
		return nil, err
	}
	return ctlab.NewEDL(bus, addr.ID), nil
}

// BipolarTransistor builds the transistor run from the transistor section.
func (c *Config) BipolarTransistor(bus *ctlab.Bus, log logrus.FieldLogger) (*characterize.BipolarTransistor, error) {
	t := c.Transistor
	adaio, err := c.ADAIO(bus, t.ADAIO)
	if err != nil {
		return nil, err
	}
	dcg, err := c.DCG(bus, t.DCG)
	if err != nil {
		return nil, err
	}

	run, err := characterize.NewBipolarTransistor(adaio, dcg, t.Resistor, t.MaxBaseCurrent)
	if err != nil {
		return nil, err
	}
	run.Channel = t.Channel
	run.CurrentLimit = t.CurrentLimit
	if t.MaxSettleReads > 0 {
		run.MaxSettleReads = t.MaxSettleReads
	}
	run.Logger = log
	return run, nil
}
