package clients

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkline/backend/services/parking-service/internal/models"
)

func TestCatalogClientDecodesPricing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/facilities/4/pricing/car", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price_per_30min":"100","price_per_day":"1500.50","fixed_booking_fee":"100","total_slots":20}`))
	}))
	defer srv.Close()

	c := NewCatalogClient(srv.URL+"/", NewDefaultHTTPClient(time.Second))
	p, err := c.GetPricing(context.Background(), 4, models.VehicleCar)
	require.NoError(t, err)
	assert.True(t, p.PricePer30Min.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "1500.5", p.PricePerDay.String())
	assert.Equal(t, 20, p.TotalSlots)
	assert.Equal(t, models.VehicleCar, p.VehicleType)
}

func TestCatalogClientStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/facilities/1/pricing/truck" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewCatalogClient(srv.URL, NewDefaultHTTPClient(time.Second))
	_, err := c.GetPricing(context.Background(), 1, models.VehicleTruck)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.GetPricing(context.Background(), 2, models.VehicleTruck)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Status)
}

func TestCatalogClientRejectsMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"total_slots":`))
	}))
	defer srv.Close()

	_, err := NewCatalogClient(srv.URL, NewDefaultHTTPClient(time.Second)).GetPricing(context.Background(), 3, models.VehicleCar)
	require.Error(t, err)
	var statusErr *StatusError
	assert.False(t, errors.As(err, &statusErr))
}
