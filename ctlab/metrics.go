package ctlab

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects bus traffic statistics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Requests  *prometheus.CounterVec
	Errors    *prometheus.CounterVec
	RoundTrip *prometheus.HistogramVec
	Discarded prometheus.Counter
}

// NewMetrics creates the bus metrics and registers them with reg if it is
// not nil. Registration panics on duplicate names, like prometheus.MustRegister.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests sent to lab modules.",
		}, []string{"op"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_errors_total",
			Help:      "Failed requests by failure class.",
		}, []string{"op", "reason"}),
		RoundTrip: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_trip_seconds",
			Help:      "Time from sending a request to its response.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"op"}),
		Discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discarded_frames_total",
			Help:      "Frames received that did not answer the pending request.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Requests, m.Errors, m.RoundTrip, m.Discarded)
	}

	return m
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(op).Inc()
	if err != nil {
		m.Errors.WithLabelValues(op, errorReason(err)).Inc()
		return
	}
	m.RoundTrip.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) discarded() {
	if m == nil {
		return
	}
	m.Discarded.Inc()
}

func errorReason(err error) string {
	switch {
	case IsTimeout(err):
		return "timeout"
	case IsProtocol(err):
		return "protocol"
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrBusClosed):
		return "closed"
	default:
		return "other"
	}
}
