package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"parkline/backend/services/parking-service/internal/metrics"
	"parkline/backend/services/parking-service/internal/models"
	"parkline/backend/services/parking-service/internal/repository"
)

// DefaultReservationShare is the part of a facility's slots reserved for bookings
// when nothing else is configured.
const DefaultReservationShare = 0.5

// CapacityService is the capacity ledger. Counter rows are provisioned from the catalog
// on first use; every change goes through an atomic store operation.
type CapacityService struct {
	store            CapacityStore
	catalog          *CatalogService
	reservationShare float64
	broadcaster      Broadcaster
	metrics          *metrics.Metrics
	logger           *zap.Logger
}

// NewCapacityService builds service. broadcaster and m may be nil.
func NewCapacityService(store CapacityStore, catalog *CatalogService, reservationShare float64, broadcaster Broadcaster, m *metrics.Metrics, logger *zap.Logger) *CapacityService {
	if reservationShare < 0 || reservationShare > 1 {
		reservationShare = DefaultReservationShare
	}
	return &CapacityService{
		store:            store,
		catalog:          catalog,
		reservationShare: reservationShare,
		broadcaster:      broadcaster,
		metrics:          m,
		logger:           logger,
	}
}

// Provision makes sure the counter row exists and returns it.
func (s *CapacityService) Provision(ctx context.Context, facilityID int64, vt models.VehicleType) (*models.Capacity, error) {
	c, err := s.store.Get(ctx, facilityID, vt)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, internalErr("get capacity", err)
	}

	pricing, err := s.catalog.Pricing(ctx, facilityID, vt)
	if err != nil {
		return nil, err
	}
	reservation := int(float64(pricing.TotalSlots) * s.reservationShare)
	c, err = s.store.Provision(ctx, models.Capacity{
		FacilityID:       facilityID,
		VehicleType:      vt,
		TotalSlots:       pricing.TotalSlots,
		ReservationQuota: reservation,
		WalkInQuota:      pricing.TotalSlots - reservation,
	})
	if err != nil {
		return nil, internalErr("provision capacity", err)
	}
	s.logger.Info("capacity provisioned",
		zap.Int64("facility_id", facilityID),
		zap.String("vehicle_type", string(vt)),
		zap.Int("reservation_quota", c.ReservationQuota),
		zap.Int("walk_in_quota", c.WalkInQuota),
	)
	s.publish(*c)
	return c, nil
}

// Adjust moves the quota counter by delta: negative takes slots, positive frees them.
// Taking never drives the counter below zero; freeing is clamped to the quota.
func (s *CapacityService) Adjust(ctx context.Context, facilityID int64, vt models.VehicleType, q models.Quota, delta int) (*models.Capacity, error) {
	switch {
	case delta < 0:
		return s.Take(ctx, facilityID, vt, q, -delta)
	case delta > 0:
		return s.Release(ctx, facilityID, vt, q, delta)
	default:
		return s.Provision(ctx, facilityID, vt)
	}
}

// Take reserves n slots of quota q or fails with ErrInsufficientCapacity.
func (s *CapacityService) Take(ctx context.Context, facilityID int64, vt models.VehicleType, q models.Quota, n int) (*models.Capacity, error) {
	if !q.Valid() || n <= 0 {
		return nil, fmt.Errorf("%w: bad capacity request", ErrInvalidInput)
	}
	if _, err := s.Provision(ctx, facilityID, vt); err != nil {
		return nil, err
	}
	c, err := s.store.Take(ctx, facilityID, vt, q, n)
	if err != nil {
		if errors.Is(err, repository.ErrCapacityExhausted) {
			return nil, fmt.Errorf("%w: no %s slots left for %s at facility %d", ErrInsufficientCapacity, q, vt, facilityID)
		}
		return nil, internalErr("take capacity", err)
	}
	s.publish(*c)
	return c, nil
}

// Release frees n slots of quota q.
func (s *CapacityService) Release(ctx context.Context, facilityID int64, vt models.VehicleType, q models.Quota, n int) (*models.Capacity, error) {
	if !q.Valid() || n <= 0 {
		return nil, fmt.Errorf("%w: bad capacity request", ErrInvalidInput)
	}
	c, err := s.store.Release(ctx, facilityID, vt, q, n)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: no capacity row for facility %d", ErrNotFound, facilityID)
		}
		return nil, internalErr("release capacity", err)
	}
	s.publish(*c)
	return c, nil
}

// Snapshot returns every counter row of a facility.
func (s *CapacityService) Snapshot(ctx context.Context, facilityID int64) ([]models.Capacity, error) {
	rows, err := s.store.ListByFacility(ctx, facilityID)
	if err != nil {
		return nil, internalErr("list capacity", err)
	}
	return rows, nil
}

func (s *CapacityService) publish(c models.Capacity) {
	s.metrics.Capacity(c)
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(c)
	}
}
