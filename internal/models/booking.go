package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	StatusCreated   BookingStatus = "CREATED"
	StatusPaid      BookingStatus = "PAID"
	StatusCancelled BookingStatus = "CANCELLED"
)

// ActiveStatuses hold a unit for their date range.
var ActiveStatuses = []BookingStatus{StatusCreated, StatusPaid}

func (s BookingStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusPaid, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
// Only CREATED has outgoing edges.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	return s == StatusCreated && (next == StatusPaid || next == StatusCancelled)
}

type Booking struct {
	ID        uuid.UUID       `json:"id"`
	UnitID    uuid.UUID       `json:"unit_id"`
	UserID    uuid.UUID       `json:"user_id,omitempty"`
	StartDate time.Time       `json:"start_date"`
	EndDate   time.Time       `json:"end_date"`
	TotalCost decimal.Decimal `json:"total_cost"`
	Status    BookingStatus   `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Nights counts the stay with both ends included, so [d, d] is one night.
func (b *Booking) Nights() int64 {
	return Nights(b.StartDate, b.EndDate)
}

// Overlaps reports whether [start, end] shares at least one day with the booking.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return RangesOverlap(b.StartDate, b.EndDate, start, end)
}

// AmountMinor converts the total to minor currency units, truncating any
// fraction below one cent.
func (b *Booking) AmountMinor() int64 {
	return AmountMinor(b.TotalCost)
}

// AmountMinor is the charged amount of one total: sub-cent digits are dropped.
func AmountMinor(total decimal.Decimal) int64 {
	return total.Mul(decimal.NewFromInt(100)).IntPart()
}
