package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"parkline/backend/services/parking-service/internal/models"
)

// ErrNotFound is returned when the catalog has no pricing for the facility and vehicle type.
var ErrNotFound = errors.New("catalog: pricing not found")

// CatalogClient reads pricing from the facility catalog service.
type CatalogClient struct {
	api *JSONClient
}

type pricingResponse struct {
	FacilityID      int64           `json:"facility_id"`
	VehicleType     string          `json:"vehicle_type"`
	PricePer30Min   decimal.Decimal `json:"price_per_30min"`
	PricePerDay     decimal.Decimal `json:"price_per_day"`
	FixedBookingFee decimal.Decimal `json:"fixed_booking_fee"`
	TotalSlots      int             `json:"total_slots"`
}

// NewCatalogClient returns client instance.
func NewCatalogClient(baseURL string, httpClient HTTPDoer) *CatalogClient {
	return &CatalogClient{api: NewJSONClient(baseURL, httpClient)}
}

// GetPricing fetches /facilities/{id}/pricing/{vehicleType}.
func (c *CatalogClient) GetPricing(ctx context.Context, facilityID int64, vt models.VehicleType) (*models.Pricing, error) {
	path := fmt.Sprintf("/facilities/%d/pricing/%s", facilityID, vt)
	var resp pricingResponse
	if err := c.api.GetJSON(ctx, path, &resp); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return &models.Pricing{
		FacilityID:      facilityID,
		VehicleType:     vt,
		PricePer30Min:   resp.PricePer30Min,
		PricePerDay:     resp.PricePerDay,
		FixedBookingFee: resp.FixedBookingFee,
		TotalSlots:      resp.TotalSlots,
	}, nil
}
