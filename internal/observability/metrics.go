package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Handler results recorded by RecordHandled.
const (
	ResultApplied   = "applied"
	ResultDuplicate = "duplicate"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
)

// Metrics exposes the Prometheus collectors of the sync service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorCount      *prometheus.CounterVec
	published       *prometheus.CounterVec
	handled         *prometheus.CounterVec
	handleDuration  *prometheus.HistogramVec
	pollerCases     prometheus.Counter
}

// NewMetrics registers collectors on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by path, method and status.",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "HTTP errors by path, method and error code.",
		}, []string{"path", "method", "code"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_events_published_total",
			Help: "Events published on the bus by source and type.",
		}, []string{"source", "type"}),
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_events_handled_total",
			Help: "Events handled by consumer, type and result.",
		}, []string{"consumer", "type", "result"}),
		handleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sync_handler_duration_seconds",
			Help:    "Time spent applying an event.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 15},
		}, []string{"consumer"}),
		pollerCases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_poller_cases_scanned_total",
			Help: "Cases inspected by the case poller.",
		}),
	}
	m.registry.MustRegister(
		m.requestCount,
		m.requestDuration,
		m.errorCount,
		m.published,
		m.handled,
		m.handleDuration,
		m.pollerCases,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(path, method, code).Inc()
}

// RecordPublished counts an event put on the bus.
func (m *Metrics) RecordPublished(source, eventType string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(source, eventType).Inc()
}

// RecordHandled counts a handled event and its latency.
func (m *Metrics) RecordHandled(consumer, eventType, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.handled.WithLabelValues(consumer, eventType, result).Inc()
	m.handleDuration.WithLabelValues(consumer).Observe(duration.Seconds())
}

// RecordCasesScanned counts cases inspected by a poll.
func (m *Metrics) RecordCasesScanned(n int) {
	if m == nil {
		return
	}
	m.pollerCases.Add(float64(n))
}
