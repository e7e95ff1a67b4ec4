// Package observability exposes the Prometheus surface of the service:
// HTTP request metrics labeled by chi route pattern plus the domain
// counters the ledger services feed.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	movementsTotal      *prometheus.CounterVec
	requestTransitions  *prometheus.CounterVec
	purchaseTransitions *prometheus.CounterVec
	dispatchesTotal     prometheus.Counter
	deliveriesTotal     prometheus.Counter
	reconcileDiscrep    prometheus.Gauge
}

// NewMetrics initialises the registry and all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supplyart_http_requests_total",
		Help: "HTTP requests by route pattern and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "supplyart_http_request_duration_seconds",
		Help:    "HTTP request duration per route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supplyart_movements_total",
		Help: "Movement log entries by type.",
	}, []string{"type"})
	reqTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supplyart_request_transitions_total",
		Help: "Request status transitions by target status.",
	}, []string{"to"})
	purTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supplyart_purchase_transitions_total",
		Help: "Purchase status transitions by target status.",
	}, []string{"to"})
	dispatches := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "supplyart_transit_dispatches_total",
		Help: "Transit records created.",
	})
	deliveries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "supplyart_transit_deliveries_total",
		Help: "Transit records delivered.",
	})
	discrepancies := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "supplyart_reconcile_discrepancies",
		Help: "Ledger rows whose quantity disagrees with the movement replay.",
	})
	registry.MustRegister(requests, duration, movements, reqTransitions,
		purTransitions, dispatches, deliveries, discrepancies)
	return &Metrics{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:       requests,
		requestDuration:     duration,
		movementsTotal:      movements,
		requestTransitions:  reqTransitions,
		purchaseTransitions: purTransitions,
		dispatchesTotal:     dispatches,
		deliveriesTotal:     deliveries,
		reconcileDiscrep:    discrepancies,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and duration for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for extra collectors (job metrics).
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// MovementRecorded counts one movement log entry.
func (m *Metrics) MovementRecorded(movType string) {
	if m == nil {
		return
	}
	m.movementsTotal.WithLabelValues(movType).Inc()
}

// RequestTransition counts one request status transition.
func (m *Metrics) RequestTransition(to string) {
	if m == nil {
		return
	}
	m.requestTransitions.WithLabelValues(to).Inc()
}

// PurchaseTransition counts one purchase status transition.
func (m *Metrics) PurchaseTransition(to string) {
	if m == nil {
		return
	}
	m.purchaseTransitions.WithLabelValues(to).Inc()
}

// TransitDispatched counts one transit creation.
func (m *Metrics) TransitDispatched() {
	if m == nil {
		return
	}
	m.dispatchesTotal.Inc()
}

// TransitDelivered counts one delivery.
func (m *Metrics) TransitDelivered() {
	if m == nil {
		return
	}
	m.deliveriesTotal.Inc()
}

// SetReconcileDiscrepancies publishes the latest reconciliation result.
func (m *Metrics) SetReconcileDiscrepancies(n int) {
	if m == nil {
		return
	}
	m.reconcileDiscrep.Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
