package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkline/backend/services/parking-service/internal/models"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Transition(models.KindBooking, models.StateActive, models.StateOngoing)
	m.Rejection("EXPIRED")
	m.Capacity(models.Capacity{})

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestCountersAndGauges(t *testing.T) {
	m := New("parking-service")
	m.Transition(models.KindBilling, models.StatePending, models.StateCompleted)
	m.Transition(models.KindBilling, models.StatePending, models.StateCompleted)
	m.Capacity(models.Capacity{FacilityID: 3, VehicleType: models.VehicleCar, ReservationAvailable: 4, WalkInAvailable: 1})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("billing", "pending", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.capacity.WithLabelValues("3", "car", "walk_in")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.capacity.WithLabelValues("3", "car", "reservation")))
}

func TestMiddlewareLabelsByPattern(t *testing.T) {
	m := New("parking-service")
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/sessions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := m.Middleware(mux)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/9", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET /api/v1/sessions/{id}", "GET", "404")))

	out := httptest.NewRecorder()
	m.Handler().ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(out.Body.String(), "http_requests_total"))
}
