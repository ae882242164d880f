package models

import (
	"time"

	"github.com/shopspring/decimal"

	"parkline/backend/services/parking-service/internal/fee"
)

// VehicleType partitions facility capacity and pricing.
type VehicleType string

const (
	VehicleCar     VehicleType = "car"
	VehicleBicycle VehicleType = "bicycle"
	VehicleTruck   VehicleType = "truck"
)

// Valid reports whether v is a supported vehicle type.
func (v VehicleType) Valid() bool {
	switch v {
	case VehicleCar, VehicleBicycle, VehicleTruck:
		return true
	}
	return false
}

// SessionKind discriminates reservations from walk-ins.
type SessionKind string

const (
	KindBooking SessionKind = "booking"
	KindBilling SessionKind = "billing"
)

// SessionState is the lifecycle state. Bookings use active/ongoing/completed/cancelled,
// billings use pending/completed.
type SessionState string

const (
	StateActive    SessionState = "active"
	StateOngoing   SessionState = "ongoing"
	StatePending   SessionState = "pending"
	StateCompleted SessionState = "completed"
	StateCancelled SessionState = "cancelled"
)

// Terminal reports whether no transition can leave the state.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// PaymentStatus mirrors whether the session has been settled.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
)

// Session is a parking occupancy record: a Booking (reservation) or a Billing (walk-in).
type Session struct {
	ID             int64           `db:"id" json:"id"`
	Kind           SessionKind     `db:"kind" json:"kind"`
	Token          string          `db:"token" json:"token"`
	FacilityID     int64           `db:"facility_id" json:"facility_id"`
	UserID         int64           `db:"user_id" json:"user_id"`
	VehicleType    VehicleType     `db:"vehicle_type" json:"vehicle_type"`
	State          SessionState    `db:"state" json:"state"`
	PaymentStatus  PaymentStatus   `db:"payment_status" json:"payment_status"`
	ScheduledEntry *time.Time      `db:"scheduled_entry" json:"scheduled_entry,omitempty"`
	ScheduledExit  *time.Time      `db:"scheduled_exit" json:"scheduled_exit,omitempty"`
	EntryTime      *time.Time      `db:"entry_time" json:"entry_time,omitempty"`
	ExitTime       *time.Time      `db:"exit_time" json:"exit_time,omitempty"`
	PricePer30Min  decimal.Decimal `db:"price_per_30min" json:"price_per_30min"`
	Fees           fee.Breakdown   `json:"fees"`
	CancelReason   string          `db:"cancel_reason" json:"cancel_reason,omitempty"`
	TransactionID  *int64          `db:"transaction_id" json:"transaction_id,omitempty"`
	Version        int64           `db:"version" json:"-"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// IsBooking reports whether the session is a reservation.
func (s *Session) IsBooking() bool { return s.Kind == KindBooking }

// Clone returns a deep copy so callers can't mutate stored state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.ScheduledEntry = cloneTime(s.ScheduledEntry)
	c.ScheduledExit = cloneTime(s.ScheduledExit)
	c.EntryTime = cloneTime(s.EntryTime)
	c.ExitTime = cloneTime(s.ExitTime)
	if s.TransactionID != nil {
		id := *s.TransactionID
		c.TransactionID = &id
	}
	return &c
}

// SessionUpdate carries the fields written together with a state transition.
// Nil pointers leave the stored value untouched.
type SessionUpdate struct {
	State         SessionState
	PaymentStatus *PaymentStatus
	EntryTime     *time.Time
	ExitTime      *time.Time
	Fees          *fee.Breakdown
	CancelReason  *string
}

// Apply writes the update onto s. Storage implementations share it.
func (u SessionUpdate) Apply(s *Session, now time.Time) {
	s.State = u.State
	if u.PaymentStatus != nil {
		s.PaymentStatus = *u.PaymentStatus
	}
	if u.EntryTime != nil {
		s.EntryTime = cloneTime(u.EntryTime)
	}
	if u.ExitTime != nil {
		s.ExitTime = cloneTime(u.ExitTime)
	}
	if u.Fees != nil {
		s.Fees = *u.Fees
	}
	if u.CancelReason != nil {
		s.CancelReason = *u.CancelReason
	}
	s.Version++
	s.UpdatedAt = now
}

// SessionFilter narrows session listings. Zero fields are ignored.
type SessionFilter struct {
	UserID     int64
	FacilityID int64
	Kind       SessionKind
	States     []SessionState
	Limit      int
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
