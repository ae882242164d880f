package models

import "github.com/shopspring/decimal"

// Pricing is what the facility catalog knows about one facility and vehicle type.
type Pricing struct {
	FacilityID      int64           `db:"facility_id" json:"facility_id"`
	VehicleType     VehicleType     `db:"vehicle_type" json:"vehicle_type"`
	PricePer30Min   decimal.Decimal `db:"price_per_30min" json:"price_per_30min"`
	PricePerDay     decimal.Decimal `db:"price_per_day" json:"price_per_day"`
	FixedBookingFee decimal.Decimal `db:"fixed_booking_fee" json:"fixed_booking_fee"`
	TotalSlots      int             `db:"total_slots" json:"total_slots"`
}
