package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wtbooking/internal/cache"
	"wtbooking/internal/domain"
	"wtbooking/internal/events"
	"wtbooking/internal/metrics"
	"wtbooking/internal/models"
	"wtbooking/internal/payment"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// BookingService owns the booking state machine: creation with overlap and
// availability checks, payment and cancellation.
type BookingService struct {
	store          domain.Store
	available      *cache.Counter
	payments       domain.PaymentGateway
	eventBus       domain.EventPublisher
	paymentTimeout time.Duration
	now            func() time.Time
	logger         *zerolog.Logger
}

var _ domain.BookingService = (*BookingService)(nil)

func NewBookingService(
	store domain.Store,
	available *cache.Counter,
	payments domain.PaymentGateway,
	eventBus domain.EventPublisher,
	paymentTimeout time.Duration,
	logger *zerolog.Logger,
) *BookingService {
	if paymentTimeout <= 0 {
		paymentTimeout = models.DefaultPaymentTimeout
	}
	return &BookingService{
		store:          store,
		available:      available,
		payments:       payments,
		eventBus:       eventBus,
		paymentTimeout: paymentTimeout,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         logger,
	}
}

// CalculateTotal prices a stay: cost per night times nights, plus the markup
// rate rounded half-up to two places.
func CalculateTotal(cost, markupPercent decimal.Decimal, nights int64) decimal.Decimal {
	base := cost.Mul(decimal.NewFromInt(nights))
	rate := markupPercent.Div(hundred).Round(2)
	return base.Add(base.Mul(rate))
}

func (s *BookingService) CreateBooking(ctx context.Context, unitID uuid.UUID, start, end time.Time, userID uuid.UUID) (booking *models.Booking, err error) {
	defer s.observe("create", time.Now(), &err)

	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("%w: start and end dates are required", domain.ErrValidation)
	}
	start, end = models.DateOnly(start), models.DateOnly(end)
	if end.Before(start) {
		return nil, domain.ErrInvalidDateRange
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	unit, err := tx.GetUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if !unit.IsAvailable {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnitUnavailable, unitID)
	}

	if userID != uuid.Nil {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	active, err := tx.GetUnitBookings(ctx, unitID, models.ActiveStatuses, models.DateOnly(now))
	if err != nil {
		return nil, err
	}
	for _, other := range active {
		if other.Overlaps(start, end) {
			return nil, fmt.Errorf("%w: %s overlaps booking %s", domain.ErrDatesOverlap, unitID, other.ID)
		}
	}

	booking = &models.Booking{
		ID:        uuid.New(),
		UnitID:    unitID,
		UserID:    userID,
		StartDate: start,
		EndDate:   end,
		TotalCost: CalculateTotal(unit.Cost, unit.MarkupPercent, models.Nights(start, end)),
		Status:    models.StatusCreated,
		CreatedAt: now,
	}
	if err := tx.CreateBooking(ctx, booking); err != nil {
		return nil, err
	}
	if err := tx.SetUnitAvailability(ctx, unitID, false); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.adjustAvailable(ctx, -1)

	s.logger.Info().
		Str("booking_id", booking.ID.String()).
		Str("unit_id", unitID.String()).
		Str("total", booking.TotalCost.String()).
		Msg("Booking created")

	s.publishEvent(events.EventBookingCreated, booking, "")
	return booking, nil
}

// PayBooking charges the booking total and marks it PAID. The gateway call
// happens outside any transaction; the status change is conditional on the
// booking still being CREATED.
func (s *BookingService) PayBooking(ctx context.Context, bookingID uuid.UUID) (booking *models.Booking, err error) {
	defer s.observe("pay", time.Now(), &err)

	booking, err = s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.Status.CanTransitionTo(models.StatusPaid) {
		return nil, fmt.Errorf("%w: cannot pay booking in status %s", domain.ErrIllegalTransition, booking.Status)
	}

	key := payment.IdempotencyKey(bookingID)
	amount := booking.AmountMinor()

	payCtx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	approved, err := s.payments.Charge(payCtx, key, amount)
	cancel()
	if err != nil {
		s.logger.Warn().Err(err).Str("booking_id", bookingID.String()).Str("idempotency_key", key).Msg("Payment gateway error")
		return nil, fmt.Errorf("%w: booking %s: %w", domain.ErrPaymentFailed, bookingID, err)
	}
	if !approved {
		return nil, fmt.Errorf("%w: booking %s", domain.ErrPaymentDeclined, bookingID)
	}

	err = s.store.UpdateBookingStatus(ctx, bookingID, models.StatusCreated, models.StatusPaid)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrentModification) {
			s.logger.Error().
				Str("booking_id", bookingID.String()).
				Str("idempotency_key", key).
				Int64("amount_minor", amount).
				Msg("Charge approved but booking changed concurrently, needs manual reconciliation")
		}
		return nil, err
	}

	booking.Status = models.StatusPaid
	booking.UpdatedAt = s.now()

	s.logger.Info().Str("booking_id", bookingID.String()).Int64("amount_minor", amount).Msg("Booking paid")
	s.publishEvent(events.EventBookingPaid, booking, "")
	return booking, nil
}

// CancelBooking moves a CREATED booking to CANCELLED and frees its unit when no
// other active booking still holds it.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID uuid.UUID) (booking *models.Booking, err error) {
	defer s.observe("cancel", time.Now(), &err)

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	booking, err = tx.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !booking.Status.CanTransitionTo(models.StatusCancelled) {
		return nil, fmt.Errorf("%w: cannot cancel booking in status %s", domain.ErrIllegalTransition, booking.Status)
	}
	if err := tx.UpdateBookingStatus(ctx, bookingID, models.StatusCreated, models.StatusCancelled); err != nil {
		return nil, err
	}

	now := s.now()
	remaining, err := tx.GetUnitBookings(ctx, booking.UnitID, models.ActiveStatuses, models.DateOnly(now))
	if err != nil {
		return nil, err
	}

	freed := false
	if len(remaining) == 0 {
		unit, err := tx.GetUnit(ctx, booking.UnitID)
		if err != nil {
			return nil, err
		}
		if !unit.IsAvailable {
			if err := tx.SetUnitAvailability(ctx, booking.UnitID, true); err != nil {
				return nil, err
			}
			freed = true
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if freed {
		s.adjustAvailable(ctx, +1)
	}

	booking.Status = models.StatusCancelled
	booking.UpdatedAt = now

	s.logger.Info().Str("booking_id", bookingID.String()).Bool("unit_freed", freed).Msg("Booking cancelled")
	s.publishEvent(events.EventBookingCancelled, booking, "")
	return booking, nil
}

func (s *BookingService) GetBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	return s.store.GetBooking(ctx, bookingID)
}

func (s *BookingService) GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error) {
	if models.DateOnly(end).Before(models.DateOnly(start)) {
		return nil, domain.ErrInvalidDateRange
	}
	return s.store.GetBookingsByDateRange(ctx, start, end)
}

// adjustAvailable never fails the caller: the counter rebuilds itself on the
// next read after an invalidation.
func (s *BookingService) adjustAvailable(ctx context.Context, delta int64) {
	if _, err := s.available.Adjust(ctx, delta, s.store.CountAvailableUnits); err != nil {
		s.logger.Error().Err(err).Int64("delta", delta).Msg("Failed to adjust available units counter")
		if invErr := s.available.Invalidate(ctx); invErr != nil {
			s.logger.Error().Err(invErr).Msg("Failed to invalidate available units counter")
		}
	}
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking, reason string) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, events.NewBookingPayload(booking, reason)); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Str("booking_id", booking.ID.String()).Msg("Failed to publish booking event")
	}
}

func (s *BookingService) observe(op string, started time.Time, err *error) {
	outcome := "ok"
	if *err != nil {
		outcome = domain.Kind(*err)
	}
	metrics.ObserveBookingOp(op, outcome, time.Since(started).Seconds())
}
