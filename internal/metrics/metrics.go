// Package metrics holds the Prometheus collectors shared by both binaries.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orderboard"

type Metrics struct {
	registry *prometheus.Registry

	refreshes       *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	transitions     *prometheus.CounterVec
	ordersByStatus  *prometheus.GaugeVec
	ingested        *prometheus.CounterVec
	relayed         *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Full order refreshes by result.",
		}, []string{"result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Time spent fetching the full order collection.",
			Buckets:   prometheus.DefBuckets,
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Order status transitions by operation and result.",
		}, []string{"operation", "result"}),
		ordersByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orders",
			Help:      "Orders in the latest snapshot by status.",
		}, []string{"status"}),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_orders_total",
			Help:      "Orders received by the ingestion endpoint by result.",
		}, []string{"result"}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_relays_total",
			Help:      "Webhook relay attempts by result.",
		}, []string{"result"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}, []string{"name"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.refreshes,
		m.refreshDuration,
		m.transitions,
		m.ordersByStatus,
		m.ingested,
		m.relayed,
		m.breakerState,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRefresh(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
	m.refreshDuration.Observe(took.Seconds())
}

func (m *Metrics) ObserveTransition(operation, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) SetOrderCount(status string, n int) {
	if m == nil {
		return
	}
	m.ordersByStatus.WithLabelValues(status).Set(float64(n))
}

func (m *Metrics) ObserveIngest(result string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRelay(result string) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(result).Inc()
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

// RelayCounter, IngestCounter and TransitionCounter expose single series
// for assertions.
func (m *Metrics) RelayCounter(result string) prometheus.Counter {
	return m.relayed.WithLabelValues(result)
}

func (m *Metrics) IngestCounter(result string) prometheus.Counter {
	return m.ingested.WithLabelValues(result)
}

func (m *Metrics) TransitionCounter(operation, result string) prometheus.Counter {
	return m.transitions.WithLabelValues(operation, result)
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
