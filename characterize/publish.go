package characterize

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// historyLength is how many messages the history list keeps.
const historyLength = 1000

// RedisClient is the subset of *redis.Client the Publisher uses.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
}

// Publisher streams completed results as JSON to a Redis channel and keeps
// a bounded history list next to it.
type Publisher struct {
	client  RedisClient
	channel string
	log     logrus.FieldLogger
}

// NewPublisher creates a publisher for channel.
func NewPublisher(client RedisClient, channel string, log logrus.FieldLogger) *Publisher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Publisher{
		client:  client,
		channel: channel,
		log:     log,
	}
}

// Channel returns the pub/sub channel name.
func (p *Publisher) Channel() string {
	return p.channel
}

// HistoryKey returns the list the history of one kind is stored in.
func (p *Publisher) HistoryKey(kind string) string {
	return fmt.Sprintf("%s:%s:history", p.channel, kind)
}

// Message is the envelope of every published result.
type Message struct {
	Kind      string          `json:"kind"`
	Published time.Time       `json:"published"`
	Data      json.RawMessage `json:"data"`
}

// PublishCharacteristic publishes a transistor characteristic.
func (p *Publisher) PublishCharacteristic(ctx context.Context, c *Characteristic) error {
	if c.Len() == 0 {
		return ErrNoData
	}
	return p.publish(ctx, "transistor", c)
}

// PublishResult publishes a sweep result.
func (p *Publisher) PublishResult(ctx context.Context, r *Result) error {
	if r.Len() == 0 {
		return ErrNoData
	}
	return p.publish(ctx, "sweep", newSweepMessage(r))
}

func (p *Publisher) publish(ctx context.Context, kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s result: %w", kind, err)
	}
	msg, err := json.Marshal(Message{Kind: kind, Published: time.Now(), Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", kind, err)
	}

	if err := p.client.Publish(ctx, p.channel, msg).Err(); err != nil {
		return fmt.Errorf("failed to publish %s result: %w", kind, err)
	}

	key := p.HistoryKey(kind)
	if err := p.client.LPush(ctx, key, msg).Err(); err != nil {
		p.log.WithError(err).WithField("key", key).Warn("failed to store result history")
		return nil
	}
	p.client.LTrim(ctx, key, 0, historyLength-1)

	p.log.WithFields(logrus.Fields{"channel": p.channel, "kind": kind}).Debug("published result")
	return nil
}

// sweepMessage is the JSON form of a Result; missing currents are null.
type sweepMessage struct {
	Start        float64            `json:"start"`
	Stop         float64            `json:"stop"`
	Step         float64            `json:"step"`
	Started      time.Time          `json:"started"`
	Finished     time.Time          `json:"finished"`
	Measurements []measurementEntry `json:"measurements"`
}

type measurementEntry struct {
	Address  string    `json:"address"`
	Setpoint float64   `json:"setpoint"`
	Voltage  float64   `json:"voltage"`
	Current  *float64  `json:"current"`
	Time     time.Time `json:"time"`
}

func newSweepMessage(r *Result) sweepMessage {
	msg := sweepMessage{
		Start:        r.Range.Start,
		Stop:         r.Range.Stop,
		Step:         r.Range.Step,
		Started:      r.Started,
		Finished:     r.Finished,
		Measurements: make([]measurementEntry, len(r.Measurements)),
	}
	for i, m := range r.Measurements {
		e := measurementEntry{
			Address:  m.Address.String(),
			Setpoint: m.Setpoint,
			Voltage:  m.Voltage,
			Time:     m.Time,
		}
		if m.HasCurrent() {
			c := m.Current
			e.Current = &c
		}
		msg.Measurements[i] = e
	}
	return msg
}
