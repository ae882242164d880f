package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"parkline/backend/services/parking-service/internal/models"
	"parkline/backend/services/parking-service/internal/repository"
)

type capacityKey struct {
	facilityID int64
	vehicle    models.VehicleType
}

// Capacity keeps slot counters per facility and vehicle type.
type Capacity struct {
	mu   sync.Mutex
	now  func() time.Time
	rows map[capacityKey]*models.Capacity
}

// NewCapacity returns initialized store.
func NewCapacity() *Capacity {
	return &Capacity{
		now:  time.Now,
		rows: make(map[capacityKey]*models.Capacity),
	}
}

// Get returns a copy of the counter row.
func (m *Capacity) Get(_ context.Context, facilityID int64, vt models.VehicleType) (*models.Capacity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[capacityKey{facilityID, vt}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// Provision creates the row with all slots free unless it already exists.
func (m *Capacity) Provision(_ context.Context, c models.Capacity) (*models.Capacity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := capacityKey{c.FacilityID, c.VehicleType}
	if existing, ok := m.rows[key]; ok {
		cp := *existing
		return &cp, nil
	}
	c.ReservationAvailable = c.ReservationQuota
	c.WalkInAvailable = c.WalkInQuota
	c.UpdatedAt = m.now().UTC()
	m.rows[key] = &c
	cp := c
	return &cp, nil
}

// Take decrements the quota counter by n or fails with ErrCapacityExhausted.
func (m *Capacity) Take(_ context.Context, facilityID int64, vt models.VehicleType, q models.Quota, n int) (*models.Capacity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[capacityKey{facilityID, vt}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	avail := counter(c, q)
	if *avail < n {
		return nil, repository.ErrCapacityExhausted
	}
	*avail -= n
	c.UpdatedAt = m.now().UTC()
	cp := *c
	return &cp, nil
}

// Release increments the quota counter by n, clamped to the quota.
func (m *Capacity) Release(_ context.Context, facilityID int64, vt models.VehicleType, q models.Quota, n int) (*models.Capacity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[capacityKey{facilityID, vt}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	avail := counter(c, q)
	*avail += n
	if limit := c.Limit(q); *avail > limit {
		*avail = limit
	}
	c.UpdatedAt = m.now().UTC()
	cp := *c
	return &cp, nil
}

// ListByFacility returns all counters of a facility ordered by vehicle type.
func (m *Capacity) ListByFacility(_ context.Context, facilityID int64) ([]models.Capacity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Capacity
	for key, c := range m.rows {
		if key.facilityID == facilityID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleType < out[j].VehicleType })
	return out, nil
}

func counter(c *models.Capacity, q models.Quota) *int {
	if q == models.QuotaReservation {
		return &c.ReservationAvailable
	}
	return &c.WalkInAvailable
}
