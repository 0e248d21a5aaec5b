package worker

import (
	"context"
	"errors"
	"time"

	"wtbooking/internal/domain"
	"wtbooking/internal/metrics"
	"wtbooking/internal/models"

	"github.com/rs/zerolog"
)

// StaleBookingSource lists bookings in a status created before a moment.
type StaleBookingSource interface {
	GetStaleBookings(ctx context.Context, status models.BookingStatus, createdBefore time.Time) ([]*models.Booking, error)
}

// ExpirySweeper cancels CREATED bookings that stayed unpaid longer than the
// expiry window. It changes bookings only through the canceller.
type ExpirySweeper struct {
	source    StaleBookingSource
	canceller domain.BookingCanceller
	window    time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *zerolog.Logger
}

func NewExpirySweeper(source StaleBookingSource, canceller domain.BookingCanceller, window, interval time.Duration, logger *zerolog.Logger) *ExpirySweeper {
	if window <= 0 {
		window = models.DefaultExpiryWindow
	}
	if interval <= 0 {
		interval = models.DefaultSweepInterval
	}
	return &ExpirySweeper{
		source:    source,
		canceller: canceller,
		window:    window,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// Start runs a sweep every interval until ctx is cancelled.
func (s *ExpirySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Dur("window", s.window).Msg("Expiry sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Expiry sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Expiry sweep failed")
			}
		}
	}
}

// SweepOnce cancels every expired booking it finds and returns how many it
// cancelled. Losing a race to a payment or a manual cancel is not an error.
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (int, error) {
	threshold := s.now().Add(-s.window)

	stale, err := s.source.GetStaleBookings(ctx, models.StatusCreated, threshold)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	cancelled := 0
	for _, booking := range stale {
		if ctx.Err() != nil {
			break
		}

		_, err := s.canceller.CancelBooking(ctx, booking.ID)
		switch {
		case err == nil:
			cancelled++
			s.logger.Info().Str("booking_id", booking.ID.String()).Time("created_at", booking.CreatedAt).Msg("Expired booking cancelled")
		case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotFound):
			s.logger.Debug().Err(err).Str("booking_id", booking.ID.String()).Msg("Booking changed before expiry")
		default:
			s.logger.Error().Err(err).Str("booking_id", booking.ID.String()).Msg("Failed to cancel expired booking")
		}
	}

	metrics.AddSweeperCancellations(cancelled)
	if cancelled > 0 {
		s.logger.Info().Int("cancelled", cancelled).Int("candidates", len(stale)).Msg("Expiry sweep finished")
	}
	return cancelled, nil
}
