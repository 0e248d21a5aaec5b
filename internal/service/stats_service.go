package service

import (
	"context"
	"encoding/json"
	"fmt"

	"wtbooking/internal/cache"
	"wtbooking/internal/domain"
	"wtbooking/internal/events"
	"wtbooking/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// StatsService keeps the booking count and paid revenue as counters fed by
// booking events. Revenue is counted in minor units.
type StatsService struct {
	store    domain.Store
	bookings *cache.Counter
	revenue  *cache.Counter
	logger   *zerolog.Logger
}

var _ domain.StatsService = (*StatsService)(nil)

func NewStatsService(store domain.Store, bookings, revenue *cache.Counter, logger *zerolog.Logger) *StatsService {
	return &StatsService{store: store, bookings: bookings, revenue: revenue, logger: logger}
}

// Subscribe wires the counters to booking events.
func (s *StatsService) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventBookingCreated, s.onBookingCreated)
	bus.Subscribe(events.EventBookingPaid, s.onBookingPaid)
}

func (s *StatsService) onBookingCreated(_ *events.Event) error {
	ctx := context.Background()
	if _, err := s.bookings.Adjust(ctx, +1, s.store.CountBookings); err != nil {
		return fmt.Errorf("count booking: %w", err)
	}
	return nil
}

func (s *StatsService) onBookingPaid(event *events.Event) error {
	var payload events.BookingEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("decode %s: %w", event.Type, err)
	}

	ctx := context.Background()
	if _, err := s.revenue.Adjust(ctx, payload.AmountMinor, s.paidRevenueMinor); err != nil {
		return fmt.Errorf("add revenue: %w", err)
	}
	return nil
}

func (s *StatsService) paidRevenueMinor(ctx context.Context) (int64, error) {
	return s.store.SumBookingAmountsMinor(ctx, models.StatusPaid)
}

func (s *StatsService) Snapshot(ctx context.Context) (*models.Stats, error) {
	bookings, err := s.bookings.Get(ctx, s.store.CountBookings)
	if err != nil {
		return nil, err
	}
	revenueMinor, err := s.revenue.Get(ctx, s.paidRevenueMinor)
	if err != nil {
		return nil, err
	}
	return &models.Stats{
		Bookings: bookings,
		Revenue:  decimal.New(revenueMinor, -2),
	}, nil
}
