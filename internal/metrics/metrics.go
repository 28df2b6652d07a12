package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "platform"

// Metrics holds the Prometheus collectors of the service. Each instance owns
// its registry so that several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	EventsPublished     *prometheus.CounterVec
	HandlerFailures     *prometheus.CounterVec
	DispatchQueueDepth  prometheus.Gauge
	EventsStored        *prometheus.CounterVec
	EventsReplayed      prometheus.Counter
	ReplayRuns          *prometheus.CounterVec
	SagaSteps           *prometheus.CounterVec
	SagaInstances       *prometheus.CounterVec
	MessagesProcessed   *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request latency",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "path"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events delivered on the event bus",
		}, []string{"event_type", "replay"}),
		HandlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_failures_total",
			Help:      "Event handler errors reported by the bus",
		}, []string{"event_type"}),
		DispatchQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_dispatch_queue_depth",
			Help:      "Events waiting in the async dispatcher",
		}),
		EventsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_stored_total",
			Help:      "Event records appended to the event store",
		}, []string{"aggregate_type"}),
		EventsReplayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_replayed_total",
			Help:      "Events re-published by the replay engine",
		}),
		ReplayRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_runs_total",
			Help:      "Replay invocations by outcome",
		}, []string{"outcome"}),
		SagaSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_step_transitions_total",
			Help:      "Saga step status transitions",
		}, []string{"status"}),
		SagaInstances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_instance_transitions_total",
			Help:      "Saga instance status transitions",
		}, []string{"status"}),
		MessagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_processed_total",
			Help:      "Service Bus messages by direction and outcome",
		}, []string{"direction", "outcome"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EventsPublished,
		m.HandlerFailures,
		m.DispatchQueueDepth,
		m.EventsStored,
		m.EventsReplayed,
		m.ReplayRuns,
		m.SagaSteps,
		m.SagaInstances,
		m.MessagesProcessed,
	)

	return m
}

// Handler returns the /metrics endpoint handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHTTPRequest records one served request
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// EventPublished records a bus delivery
func (m *Metrics) EventPublished(eventType string, replay bool) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType, strconv.FormatBool(replay)).Inc()
}

// HandlerFailed records a failed subscriber
func (m *Metrics) HandlerFailed(eventType string) {
	if m == nil {
		return
	}
	m.HandlerFailures.WithLabelValues(eventType).Inc()
}

// QueueDepth records the async dispatcher backlog
func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.DispatchQueueDepth.Set(float64(n))
}

// EventStored records an appended event record
func (m *Metrics) EventStored(aggregateType string) {
	if m == nil {
		return
	}
	m.EventsStored.WithLabelValues(aggregateType).Inc()
}

// ReplayFinished records a replay run and the number of events it re-published
func (m *Metrics) ReplayFinished(replayed int, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.ReplayRuns.WithLabelValues(outcome).Inc()
	m.EventsReplayed.Add(float64(replayed))
}

// SagaStepTransition records a step entering status
func (m *Metrics) SagaStepTransition(status string) {
	if m == nil {
		return
	}
	m.SagaSteps.WithLabelValues(status).Inc()
}

// SagaInstanceTransition records an instance entering status
func (m *Metrics) SagaInstanceTransition(status string) {
	if m == nil {
		return
	}
	m.SagaInstances.WithLabelValues(status).Inc()
}

// MessageProcessed records a Service Bus message
func (m *Metrics) MessageProcessed(direction, outcome string) {
	if m == nil {
		return
	}
	m.MessagesProcessed.WithLabelValues(direction, outcome).Inc()
}
