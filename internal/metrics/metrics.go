// Package metrics provides Prometheus collectors for the shop assistant.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Chat turns
	TurnsTotal   *prometheus.CounterVec
	TurnDuration prometheus.Histogram

	// Generative provider
	ProviderCallsTotal    *prometheus.CounterVec
	ProviderCallDuration  *prometheus.HistogramVec
	ProviderFallbackTotal prometheus.Counter

	// Stores
	StoreOperationsTotal *prometheus.CounterVec

	// HTTP surface
	HTTPRequestsTotal *prometheus.CounterVec
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.TurnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shop_chat_turns_total",
			Help: "Total number of chat turns by outcome",
		},
		[]string{"outcome"},
	)

	m.TurnDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shop_chat_turn_duration_seconds",
			Help:    "Duration of complete chat turns in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.ProviderCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shop_provider_calls_total",
			Help: "Total number of generative provider calls",
		},
		[]string{"model", "status"},
	)

	m.ProviderCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shop_provider_call_duration_seconds",
			Help:    "Duration of generative provider calls in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"model"},
	)

	m.ProviderFallbackTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "shop_provider_fallbacks_total",
			Help: "Number of times the active model was downgraded to the fallback model",
		},
	)

	m.StoreOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shop_store_operations_total",
			Help: "Total number of store operations",
		},
		[]string{"store", "operation", "status"},
	)

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shop_http_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"route", "status"},
	)

	return m
}

// Registry exposes the underlying registry for handlers and tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTurn records a finished chat turn.
func (m *Metrics) RecordTurn(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(duration.Seconds())
}

// RecordProviderCall records one completion attempt.
func (m *Metrics) RecordProviderCall(model, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCallsTotal.WithLabelValues(model, status).Inc()
	m.ProviderCallDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordFallback records a sticky model downgrade.
func (m *Metrics) RecordFallback() {
	if m == nil {
		return
	}
	m.ProviderFallbackTotal.Inc()
}

// RecordStoreOperation records a store call.
func (m *Metrics) RecordStoreOperation(store, operation string, err error) {
	if m == nil {
		return
	}
	m.StoreOperationsTotal.WithLabelValues(store, operation, status(err)).Inc()
}

// RecordHTTPRequest records an API response.
func (m *Metrics) RecordHTTPRequest(route string, statusCode int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, http.StatusText(statusCode)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
