package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"parkline/backend/services/parking-service/internal/models"
)

const capacitySelect = `facility_id, vehicle_type, total_slots, reservation_quota, reservation_available,
	walk_in_quota, walk_in_available, updated_at`

// CapacityRepository keeps the per-facility slot counters. Every mutation is a single
// conditional UPDATE so concurrent callers never lose updates.
type CapacityRepository struct {
	db *sql.DB
}

// NewCapacityRepository returns repository.
func NewCapacityRepository(db *sql.DB) *CapacityRepository {
	return &CapacityRepository{db: db}
}

// Get returns the counter row for facility and vehicle type.
func (r *CapacityRepository) Get(ctx context.Context, facilityID int64, vt models.VehicleType) (*models.Capacity, error) {
	query := "SELECT " + capacitySelect + " FROM facility_capacity WHERE facility_id = $1 AND vehicle_type = $2"
	c, err := scanCapacity(r.db.QueryRowContext(ctx, query, facilityID, string(vt)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// Provision creates the counter row with every slot free. An existing row is left alone
// and returned as is.
func (r *CapacityRepository) Provision(ctx context.Context, c models.Capacity) (*models.Capacity, error) {
	const query = `
		INSERT INTO facility_capacity (
			facility_id, vehicle_type, total_slots, reservation_quota, reservation_available,
			walk_in_quota, walk_in_available, updated_at
		) VALUES ($1, $2, $3, $4, $4, $5, $5, NOW())
		ON CONFLICT (facility_id, vehicle_type) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query,
		c.FacilityID,
		string(c.VehicleType),
		c.TotalSlots,
		c.ReservationQuota,
		c.WalkInQuota,
	); err != nil {
		return nil, fmt.Errorf("provision capacity: %w", err)
	}
	return r.Get(ctx, c.FacilityID, c.VehicleType)
}

// Take decrements the quota's free counter by n. It fails with ErrCapacityExhausted
// rather than going negative.
func (r *CapacityRepository) Take(ctx context.Context, facilityID int64, vt models.VehicleType, q models.Quota, n int) (*models.Capacity, error) {
	avail := availableColumn(q)
	query := fmt.Sprintf(`
		UPDATE facility_capacity
		SET %[1]s = %[1]s - $3, updated_at = NOW()
		WHERE facility_id = $1 AND vehicle_type = $2 AND %[1]s >= $3
		RETURNING %[2]s
	`, avail, capacitySelect)

	c, err := scanCapacity(r.db.QueryRowContext(ctx, query, facilityID, string(vt), n))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("take capacity: %w", err)
	}
	// Distinguish a missing row from an exhausted one.
	if _, getErr := r.Get(ctx, facilityID, vt); getErr != nil {
		return nil, getErr
	}
	return nil, ErrCapacityExhausted
}

// Release increments the quota's free counter by n, clamped to the quota.
func (r *CapacityRepository) Release(ctx context.Context, facilityID int64, vt models.VehicleType, q models.Quota, n int) (*models.Capacity, error) {
	avail, limit := availableColumn(q), quotaColumn(q)
	query := fmt.Sprintf(`
		UPDATE facility_capacity
		SET %[1]s = LEAST(%[1]s + $3, %[2]s), updated_at = NOW()
		WHERE facility_id = $1 AND vehicle_type = $2
		RETURNING %[3]s
	`, avail, limit, capacitySelect)

	c, err := scanCapacity(r.db.QueryRowContext(ctx, query, facilityID, string(vt), n))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("release capacity: %w", err)
	}
	return c, nil
}

// ListByFacility returns all vehicle-type counters of a facility.
func (r *CapacityRepository) ListByFacility(ctx context.Context, facilityID int64) ([]models.Capacity, error) {
	query := "SELECT " + capacitySelect + " FROM facility_capacity WHERE facility_id = $1 ORDER BY vehicle_type"
	rows, err := r.db.QueryContext(ctx, query, facilityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Capacity
	for rows.Next() {
		c, err := scanCapacity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func availableColumn(q models.Quota) string {
	if q == models.QuotaReservation {
		return "reservation_available"
	}
	return "walk_in_available"
}

func quotaColumn(q models.Quota) string {
	if q == models.QuotaReservation {
		return "reservation_quota"
	}
	return "walk_in_quota"
}

func scanCapacity(row rowScanner) (*models.Capacity, error) {
	var (
		c  models.Capacity
		vt string
	)
	if err := row.Scan(
		&c.FacilityID,
		&vt,
		&c.TotalSlots,
		&c.ReservationQuota,
		&c.ReservationAvailable,
		&c.WalkInQuota,
		&c.WalkInAvailable,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.VehicleType = models.VehicleType(vt)
	return &c, nil
}
