// Package fee computes parking charges. Every partial minute and every partial
// 30-minute period is rounded up.
package fee

import (
	"time"

	"github.com/shopspring/decimal"
)

// PeriodMinutes is the billing granularity.
const PeriodMinutes = 30

// Breakdown is the itemised charge for a session. TotalFee is always
// UsageFee + BookingFee + ExtraTimeFee.
type Breakdown struct {
	UsageFee        decimal.Decimal `json:"usage_fee"`
	BookingFee      decimal.Decimal `json:"booking_fee"`
	ExtraTimeFee    decimal.Decimal `json:"extra_time_fee"`
	TotalFee        decimal.Decimal `json:"total_fee"`
	DurationMinutes int             `json:"duration_minutes"`
	ExtraMinutes    int             `json:"extra_minutes"`
}

// Input is the full calculator contract. A zero ScheduledExit disables extra-time.
type Input struct {
	Entry         time.Time
	ScheduledExit time.Time
	ActualExit    time.Time
	PricePer30Min decimal.Decimal
	BookingFee    decimal.Decimal
}

// Calculate charges usage for the whole stay, extra-time past the scheduled exit
// and the fixed booking fee.
func Calculate(in Input) Breakdown {
	b := Breakdown{
		DurationMinutes: CeilMinutes(in.ActualExit.Sub(in.Entry)),
		BookingFee:      in.BookingFee,
	}
	b.UsageFee = charge(b.DurationMinutes, in.PricePer30Min)
	if !in.ScheduledExit.IsZero() && in.ActualExit.After(in.ScheduledExit) {
		b.ExtraMinutes = CeilMinutes(in.ActualExit.Sub(in.ScheduledExit))
		b.ExtraTimeFee = charge(b.ExtraMinutes, in.PricePer30Min)
	}
	b.TotalFee = b.UsageFee.Add(b.BookingFee).Add(b.ExtraTimeFee)
	return b
}

// Reservation prices a booked window at confirmation time.
func Reservation(start, end time.Time, price, bookingFee decimal.Decimal) Breakdown {
	return Calculate(Input{
		Entry:         start,
		ScheduledExit: end,
		ActualExit:    end,
		PricePer30Min: price,
		BookingFee:    bookingFee,
	})
}

// Settle finalises a reservation: the reserved usage and booking fee are kept and
// extra-time is charged only for the part of the stay past scheduledExit.
func Settle(reserved Breakdown, entry, scheduledExit, actualExit time.Time, price decimal.Decimal) Breakdown {
	b := Breakdown{
		UsageFee:        reserved.UsageFee,
		BookingFee:      reserved.BookingFee,
		DurationMinutes: CeilMinutes(actualExit.Sub(entry)),
	}
	if actualExit.After(scheduledExit) {
		b.ExtraMinutes = CeilMinutes(actualExit.Sub(scheduledExit))
		b.ExtraTimeFee = charge(b.ExtraMinutes, price)
	}
	b.TotalFee = b.UsageFee.Add(b.BookingFee).Add(b.ExtraTimeFee)
	return b
}

// WalkIn prices an unplanned stay: usage only, no booking fee, no extra-time.
func WalkIn(entry, exit time.Time, price decimal.Decimal) Breakdown {
	return Calculate(Input{
		Entry:         entry,
		ActualExit:    exit,
		PricePer30Min: price,
	})
}

// Days is the number of started 24h days covered by [from, to].
func Days(from, to time.Time) int {
	minutes := CeilMinutes(to.Sub(from))
	const perDay = 24 * 60
	return (minutes + perDay - 1) / perDay
}

// CeilMinutes rounds d up to whole minutes. Negative durations count as zero.
func CeilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	m := d / time.Minute
	if d%time.Minute != 0 {
		m++
	}
	return int(m)
}

// Periods rounds minutes up to whole billing periods.
func Periods(minutes int) int {
	if minutes <= 0 {
		return 0
	}
	return (minutes + PeriodMinutes - 1) / PeriodMinutes
}

func charge(minutes int, price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(Periods(minutes))))
}
