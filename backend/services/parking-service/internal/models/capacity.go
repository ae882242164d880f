package models

import "time"

// Quota is the reservation vs walk-in partition of a facility's capacity.
type Quota string

const (
	QuotaReservation Quota = "reservation"
	QuotaWalkIn      Quota = "walk_in"
)

// Valid reports whether q names a known quota.
func (q Quota) Valid() bool {
	return q == QuotaReservation || q == QuotaWalkIn
}

// Capacity is the aggregate slot counter for one facility and vehicle type.
type Capacity struct {
	FacilityID           int64       `db:"facility_id" json:"facility_id"`
	VehicleType          VehicleType `db:"vehicle_type" json:"vehicle_type"`
	TotalSlots           int         `db:"total_slots" json:"total_slots"`
	ReservationQuota     int         `db:"reservation_quota" json:"reservation_quota"`
	ReservationAvailable int         `db:"reservation_available" json:"reservation_slots_available"`
	WalkInQuota          int         `db:"walk_in_quota" json:"walk_in_quota"`
	WalkInAvailable      int         `db:"walk_in_available" json:"walk_in_slots_available"`
	UpdatedAt            time.Time   `db:"updated_at" json:"updated_at"`
}

// ReservationInUse is the number of reservation slots currently held.
func (c *Capacity) ReservationInUse() int { return c.ReservationQuota - c.ReservationAvailable }

// WalkInInUse is the number of walk-in slots currently held.
func (c *Capacity) WalkInInUse() int { return c.WalkInQuota - c.WalkInAvailable }

// Available returns the free counter for the quota.
func (c *Capacity) Available(q Quota) int {
	if q == QuotaReservation {
		return c.ReservationAvailable
	}
	return c.WalkInAvailable
}

// Limit returns the upper bound for the quota's free counter.
func (c *Capacity) Limit(q Quota) int {
	if q == QuotaReservation {
		return c.ReservationQuota
	}
	return c.WalkInQuota
}
