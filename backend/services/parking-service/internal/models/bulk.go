package models

import "time"

// ChunkStatus is derived from usage and the validity window.
type ChunkStatus string

const (
	ChunkActive  ChunkStatus = "Active"
	ChunkFull    ChunkStatus = "Full"
	ChunkExpired ChunkStatus = "Expired"
)

// AssignmentStatus tracks whether a sub-assignment still holds spots.
type AssignmentStatus string

const (
	AssignmentActive   AssignmentStatus = "active"
	AssignmentReleased AssignmentStatus = "released"
)

// BulkChunk is a block of capacity purchased by an organization.
type BulkChunk struct {
	ID             int64       `db:"id" json:"id"`
	Token          string      `db:"token" json:"token"`
	PurchaserID    int64       `db:"purchaser_id" json:"purchaser_id"`
	FacilityID     int64       `db:"facility_id" json:"facility_id"`
	VehicleType    VehicleType `db:"vehicle_type" json:"vehicle_type"`
	TotalSpots     int         `db:"total_spots" json:"total_spots"`
	UsedSpots      int         `db:"used_spots" json:"used_spots"`
	AvailableSpots int         `db:"available_spots" json:"available_spots"`
	ValidFrom      time.Time   `db:"valid_from" json:"valid_from"`
	ValidTo        time.Time   `db:"valid_to" json:"valid_to"`
	Status         ChunkStatus `db:"status" json:"status"`
	TransactionID  *int64      `db:"transaction_id" json:"transaction_id,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`

	// CapacityReleased is set once the expired chunk's spots went back to the facility.
	CapacityReleased bool `db:"capacity_released" json:"capacity_released"`
}

// Covers reports whether [from, to] lies inside the chunk window.
func (c *BulkChunk) Covers(from, to time.Time) bool {
	return !from.Before(c.ValidFrom) && !to.After(c.ValidTo) && !to.Before(from)
}

// DeriveStatus recomputes status from the counters and the window.
func (c *BulkChunk) DeriveStatus(now time.Time) ChunkStatus {
	switch {
	case c.UsedSpots >= c.TotalSpots:
		return ChunkFull
	case now.After(c.ValidTo):
		return ChunkExpired
	default:
		return ChunkActive
	}
}

// Ended reports whether the validity window is over at now.
func (c *BulkChunk) Ended(now time.Time) bool {
	return now.After(c.ValidTo)
}

// Reconcile forces AvailableSpots back onto the total-minus-used formula and refreshes Status.
func (c *BulkChunk) Reconcile(now time.Time) {
	if c.UsedSpots < 0 {
		c.UsedSpots = 0
	}
	c.AvailableSpots = c.TotalSpots - c.UsedSpots
	if c.AvailableSpots < 0 {
		c.AvailableSpots = 0
	}
	c.Status = c.DeriveStatus(now)
}

// SubAssignment hands part of a chunk to an individual guest.
type SubAssignment struct {
	ID            int64            `db:"id" json:"id"`
	ChunkID       int64            `db:"chunk_id" json:"chunk_id"`
	Token         string           `db:"token" json:"token"`
	AssigneeID    int64            `db:"assignee_id" json:"assignee_id"`
	AssignedSpots int              `db:"assigned_spots" json:"assigned_spots"`
	ValidFrom     time.Time        `db:"valid_from" json:"valid_from"`
	ValidTo       time.Time        `db:"valid_to" json:"valid_to"`
	Status        AssignmentStatus `db:"status" json:"status"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}
