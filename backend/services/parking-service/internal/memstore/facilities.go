package memstore

import (
	"context"
	"sync"

	"parkline/backend/services/parking-service/internal/models"
	"parkline/backend/services/parking-service/internal/repository"
)

// Facilities is a static pricing catalog.
type Facilities struct {
	mu      sync.RWMutex
	pricing map[capacityKey]models.Pricing
}

// NewFacilities returns a catalog seeded with the given rows.
func NewFacilities(rows ...models.Pricing) *Facilities {
	f := &Facilities{pricing: make(map[capacityKey]models.Pricing)}
	for _, p := range rows {
		f.pricing[capacityKey{p.FacilityID, p.VehicleType}] = p
	}
	return f
}

// GetPricing returns the row for facility and vehicle type.
func (f *Facilities) GetPricing(_ context.Context, facilityID int64, vt models.VehicleType) (*models.Pricing, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.pricing[capacityKey{facilityID, vt}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

// UpsertPricing replaces the row.
func (f *Facilities) UpsertPricing(_ context.Context, p models.Pricing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pricing[capacityKey{p.FacilityID, p.VehicleType}] = p
	return nil
}
