package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"parkline/backend/services/parking-service/internal/clients"
	"parkline/backend/services/parking-service/internal/models"
	"parkline/backend/services/parking-service/internal/repository"
)

// CatalogService provides pricing lookups with an optional fallback source.
type CatalogService struct {
	primary  PricingSource
	fallback PricingSource
	logger   *zap.Logger
}

// NewCatalogService returns service instance. fallback may be nil.
func NewCatalogService(primary, fallback PricingSource, logger *zap.Logger) *CatalogService {
	return &CatalogService{primary: primary, fallback: fallback, logger: logger}
}

// Pricing returns the facility's pricing for vt. An unknown facility or vehicle type is
// ErrOutOfRange; an unreachable catalog is ErrDependencyUnavailable.
func (s *CatalogService) Pricing(ctx context.Context, facilityID int64, vt models.VehicleType) (*models.Pricing, error) {
	if !vt.Valid() {
		return nil, fmt.Errorf("%w: unsupported vehicle type %q", ErrOutOfRange, vt)
	}

	p, err := s.lookup(ctx, s.primary, facilityID, vt)
	if err == nil || errors.Is(err, ErrOutOfRange) || s.fallback == nil {
		return p, err
	}

	s.logger.Warn("facility catalog unavailable, using fallback",
		zap.Int64("facility_id", facilityID),
		zap.String("vehicle_type", string(vt)),
		zap.Error(err),
	)
	return s.lookup(ctx, s.fallback, facilityID, vt)
}

func (s *CatalogService) lookup(ctx context.Context, src PricingSource, facilityID int64, vt models.VehicleType) (*models.Pricing, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: no facility catalog configured", ErrDependencyUnavailable)
	}
	p, err := src.GetPricing(ctx, facilityID, vt)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, clients.ErrNotFound) {
			return nil, fmt.Errorf("%w: facility %d has no %s pricing", ErrOutOfRange, facilityID, vt)
		}
		return nil, fmt.Errorf("%w: facility catalog: %v", ErrDependencyUnavailable, err)
	}
	if p.PricePer30Min.IsNegative() || p.TotalSlots < 0 {
		return nil, fmt.Errorf("%w: facility catalog returned invalid pricing for facility %d", ErrDependencyUnavailable, facilityID)
	}
	return p, nil
}
