package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ragflow/ragflow/api/terrors"
)

// Metrics holds the Prometheus collectors of one pipeline worker.
type Metrics struct {
	worker string

	messagesTotal   *prometheus.CounterVec
	messageErrors   *prometheus.CounterVec
	messageDuration *prometheus.HistogramVec
	eventsTotal     *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the collectors for worker on a private registry.
func New(worker string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		worker: worker,

		messagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragflow_messages_total",
				Help: "Messages handled, by settlement outcome",
			},
			[]string{"worker", "outcome"},
		),

		messageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragflow_message_errors_total",
				Help: "Message handling failures, by error code",
			},
			[]string{"worker", "code"},
		),

		messageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ragflow_message_duration_seconds",
				Help:    "Time spent handling one message or object",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"worker"},
		),

		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragflow_events_total",
				Help: "Worker specific events such as chunks published or rows upserted",
			},
			[]string{"worker", "event"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.messagesTotal,
		m.messageErrors,
		m.messageDuration,
		m.eventsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Observe records one handled message.
func (m *Metrics) Observe(outcome string, err error, started time.Time) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(m.worker, outcome).Inc()
	m.messageDuration.WithLabelValues(m.worker).Observe(time.Since(started).Seconds())
	if err != nil {
		m.messageErrors.WithLabelValues(m.worker, terrors.Code(err).String()).Inc()
	}
}

// Add increments a named event counter by n.
func (m *Metrics) Add(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.eventsTotal.WithLabelValues(m.worker, event).Add(float64(n))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
