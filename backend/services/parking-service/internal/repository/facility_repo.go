package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"parkline/backend/services/parking-service/internal/models"
)

// FacilityRepository reads the local copy of the facility catalog.
type FacilityRepository struct {
	db *sql.DB
}

// NewFacilityRepository returns repository.
func NewFacilityRepository(db *sql.DB) *FacilityRepository {
	return &FacilityRepository{db: db}
}

// GetPricing returns pricing and raw slot count for facility and vehicle type.
func (r *FacilityRepository) GetPricing(ctx context.Context, facilityID int64, vehicle models.VehicleType) (*models.Pricing, error) {
	const query = `
		SELECT facility_id, vehicle_type, price_per_30min, price_per_day, fixed_booking_fee, total_slots
		FROM facility_pricing
		WHERE facility_id = $1 AND vehicle_type = $2
	`
	var (
		p  models.Pricing
		vt string
	)
	err := r.db.QueryRowContext(ctx, query, facilityID, string(vehicle)).Scan(
		&p.FacilityID,
		&vt,
		&p.PricePer30Min,
		&p.PricePerDay,
		&p.FixedBookingFee,
		&p.TotalSlots,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.VehicleType = models.VehicleType(vt)
	return &p, nil
}

// UpsertPricing inserts or updates a catalog row.
func (r *FacilityRepository) UpsertPricing(ctx context.Context, p models.Pricing) error {
	const query = `
		INSERT INTO facility_pricing (facility_id, vehicle_type, price_per_30min, price_per_day, fixed_booking_fee, total_slots, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (facility_id, vehicle_type) DO UPDATE
		SET price_per_30min = EXCLUDED.price_per_30min,
			price_per_day = EXCLUDED.price_per_day,
			fixed_booking_fee = EXCLUDED.fixed_booking_fee,
			total_slots = EXCLUDED.total_slots,
			updated_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query,
		p.FacilityID,
		string(p.VehicleType),
		p.PricePer30Min,
		p.PricePerDay,
		p.FixedBookingFee,
		p.TotalSlots,
	); err != nil {
		return fmt.Errorf("upsert pricing: %w", err)
	}
	return nil
}
