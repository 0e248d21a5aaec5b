package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const DateLayout = "2006-01-02"

// DateOnly drops the clock part and pins the date to UTC so that calendar
// dates compare and subtract cleanly.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return DateOnly(t), nil
}

// Nights returns the inclusive number of nights between two calendar dates.
func Nights(start, end time.Time) int64 {
	days := DateOnly(end).Sub(DateOnly(start)).Hours() / 24
	return int64(days) + 1
}

// RangesOverlap treats both ranges as inclusive: they overlap unless one ends
// strictly before the other starts.
func RangesOverlap(s1, e1, s2, e2 time.Time) bool {
	s1, e1, s2, e2 = DateOnly(s1), DateOnly(e1), DateOnly(s2), DateOnly(e2)
	return !(e2.Before(s1) || s2.After(e1))
}

type Stats struct {
	Bookings int64           `json:"bookings"`
	Revenue  decimal.Decimal `json:"revenue"`
}
