package poller

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's prometheus instrumentation. A nil *Metrics is
// valid and records nothing, so instrumentation stays optional.
type Metrics struct {
	registry *prometheus.Registry

	cycles         *prometheus.CounterVec
	messages       prometheus.Counter
	events         prometheus.Counter
	decodeFailures prometheus.Counter
	backoffSeconds prometheus.Counter
	lastReceived   prometheus.Gauge
}

// NewMetrics builds a registry with all engine metrics plus the standard Go
// and process collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingestor_fetch_cycles_total",
				Help: "Fetch cycles by outcome",
			},
			[]string{"status"}, // ok, error, fatal
		),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_messages_received_total",
			Help: "Raw messages received from the queue",
		}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_events_emitted_total",
			Help: "Structured events emitted downstream",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_decode_failures_total",
			Help: "Messages whose body failed to decode",
		}),
		backoffSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestor_backoff_seconds_total",
			Help: "Total time spent sleeping between failed fetches",
		}),
		lastReceived: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingestor_last_received_timestamp_seconds",
			Help: "Unix time a message was last received",
		}),
	}

	registry.MustRegister(
		m.cycles,
		m.messages,
		m.events,
		m.decodeFailures,
		m.backoffSeconds,
		m.lastReceived,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) recordCycle(status string, received int) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(status).Inc()
	if received > 0 {
		m.messages.Add(float64(received))
		m.lastReceived.SetToCurrentTime()
	}
}

func (m *Metrics) recordEvents(n int64) {
	if m == nil || n == 0 {
		return
	}
	m.events.Add(float64(n))
}

func (m *Metrics) recordDecodeFailure() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}

func (m *Metrics) recordBackoff(d time.Duration) {
	if m == nil {
		return
	}
	m.backoffSeconds.Add(d.Seconds())
}
