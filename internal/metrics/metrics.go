// Package metrics holds the prometheus collectors for ingest and fan-out.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingest outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeInvalidInput = "invalid_input"
	OutcomeStorageError = "storage_error"
)

// Metrics is the set of roadwatch collectors bound to one registry.
type Metrics struct {
	registry *prometheus.Registry

	recordsIngested  *prometheus.CounterVec
	ingestDuration   prometheus.Histogram
	dispatches       prometheus.Counter
	deliveries       prometheus.Counter
	deliveryFailures *prometheus.CounterVec
	subscribers      prometheus.Gauge
	connections      *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		recordsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roadwatch_records_ingested_total",
			Help: "Ingest attempts by outcome",
		}, []string{"outcome"}),
		ingestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "roadwatch_ingest_duration_seconds",
			Help:    "Time from ingest request to dispatch, including the store commit",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		dispatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "roadwatch_dispatch_total",
			Help: "Committed records handed to the dispatcher",
		}),
		deliveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "roadwatch_deliveries_total",
			Help: "Record frames written to subscriber connections",
		}),
		deliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roadwatch_delivery_failures_total",
			Help: "Subscribers dropped because a delivery failed",
		}, []string{"reason"}),
		subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "roadwatch_subscribers",
			Help: "Currently connected subscribers",
		}),
		connections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roadwatch_connections_total",
			Help: "Subscription connections accepted by transport",
		}, []string{"transport"}),
	}
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveIngest(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.recordsIngested.WithLabelValues(outcome).Inc()
	m.ingestDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) Dispatched() {
	if m == nil {
		return
	}
	m.dispatches.Inc()
}

func (m *Metrics) Delivered() {
	if m == nil {
		return
	}
	m.deliveries.Inc()
}

func (m *Metrics) DeliveryFailed(reason string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) SubscriberOpened(transport string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(transport).Inc()
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberClosed() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}
