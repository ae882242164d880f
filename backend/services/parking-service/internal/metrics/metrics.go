// Package metrics exposes Prometheus collectors for the parking service.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"parkline/backend/services/parking-service/internal/models"
)

// Metrics groups the service collectors.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	transitions   *prometheus.CounterVec
	capacity      *prometheus.GaugeVec
	rejections    *prometheus.CounterVec
	bulkSpotsUsed *prometheus.GaugeVec
}

// New registers collectors on a dedicated registry.
func New(service string) *Metrics {
	labels := prometheus.Labels{"service": service}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "HTTP requests by route, method and status.",
			ConstLabels: labels,
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"route", "method"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "parking_session_transitions_total",
			Help:        "Session state transitions.",
			ConstLabels: labels,
		}, []string{"kind", "from", "to"}),
		capacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "parking_capacity_available",
			Help:        "Free slots per facility, vehicle type and quota.",
			ConstLabels: labels,
		}, []string{"facility", "vehicle_type", "quota"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "parking_rejections_total",
			Help:        "Business rejections by code.",
			ConstLabels: labels,
		}, []string{"code"}),
		bulkSpotsUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "parking_bulk_spots_used",
			Help:        "Used spots per bulk chunk.",
			ConstLabels: labels,
		}, []string{"chunk"}),
	}
	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.transitions,
		m.capacity,
		m.rejections,
		m.bulkSpotsUsed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Transition counts a session state change.
func (m *Metrics) Transition(kind models.SessionKind, from, to models.SessionState) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(kind), string(from), string(to)).Inc()
}

// Rejection counts a business rejection.
func (m *Metrics) Rejection(code string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(code).Inc()
}

// Capacity records both free counters of a capacity row.
func (m *Metrics) Capacity(c models.Capacity) {
	if m == nil {
		return
	}
	facility := strconv.FormatInt(c.FacilityID, 10)
	m.capacity.WithLabelValues(facility, string(c.VehicleType), string(models.QuotaReservation)).Set(float64(c.ReservationAvailable))
	m.capacity.WithLabelValues(facility, string(c.VehicleType), string(models.QuotaWalkIn)).Set(float64(c.WalkInAvailable))
}

// BulkChunk records a chunk's used spots.
func (m *Metrics) BulkChunk(c models.BulkChunk) {
	if m == nil {
		return
	}
	m.bulkSpotsUsed.WithLabelValues(strconv.FormatInt(c.ID, 10)).Set(float64(c.UsedSpots))
}

// Middleware records count and latency per route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes through so the capacity feed can upgrade to websocket.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
