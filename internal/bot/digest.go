package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wtbooking/internal/models"
)

// SendDigest sends the list of stays that start tomorrow. Nothing is sent
// when there are none.
func (n *Notifier) SendDigest(ctx context.Context) {
	tomorrow := models.DateOnly(n.now()).AddDate(0, 0, 1)

	bookings, err := n.bookings.GetBookingsByDateRange(ctx, tomorrow, tomorrow)
	if err != nil {
		n.logger.Error().Err(err).Time("date", tomorrow).Msg("digest: get bookings error")
		return
	}

	var arrivals []*models.Booking
	for _, b := range bookings {
		if b.StartDate.Equal(tomorrow) && b.Status != models.StatusCancelled {
			arrivals = append(arrivals, b)
		}
	}
	if len(arrivals) == 0 {
		return
	}
	n.broadcast(formatDigest(tomorrow, arrivals))
}

func formatDigest(date time.Time, arrivals []*models.Booking) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Заезды на %s: %d", date.Format("02.01.2006"), len(arrivals))
	for _, b := range arrivals {
		status := "ожидает оплаты"
		if b.Status == models.StatusPaid {
			status = "оплачена"
		}
		fmt.Fprintf(&sb, "\n• %s, объект %s, до %s, %s",
			shortID(b.ID.String()), shortID(b.UnitID.String()), b.EndDate.Format("02.01.2006"), status)
	}
	return sb.String()
}

func timeUntilClock(now time.Time, hour, minute int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
