package domain

import (
	"context"
	"time"

	"wtbooking/internal/models"

	"github.com/google/uuid"
)

// Queries is the durable store's read/write surface. It is satisfied both by
// the store itself (autocommit) and by an open transaction.
type Queries interface {
	GetUnit(ctx context.Context, id uuid.UUID) (*models.Unit, error)
	CreateUnit(ctx context.Context, unit *models.Unit) error
	SetUnitAvailability(ctx context.Context, id uuid.UUID, available bool) error
	CountAvailableUnits(ctx context.Context) (int64, error)
	SearchUnits(ctx context.Context, filter models.UnitFilter) (*models.Page, error)

	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error

	GetBooking(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	CreateBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to models.BookingStatus) error
	GetUnitBookings(ctx context.Context, unitID uuid.UUID, statuses []models.BookingStatus, endFrom time.Time) ([]*models.Booking, error)
	GetStaleBookings(ctx context.Context, status models.BookingStatus, createdBefore time.Time) ([]*models.Booking, error)
	GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
	CountBookings(ctx context.Context) (int64, error)
	SumBookingAmountsMinor(ctx context.Context, status models.BookingStatus) (int64, error)
}

// Tx is an explicit transactional scope. Exactly one of Commit or Rollback
// ends it; Rollback after Commit is a no-op.
type Tx interface {
	Queries
	Commit() error
	Rollback() error
}

type Store interface {
	Queries
	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}

// CounterStore persists named counters as two string keys: a count and a
// validity flag.
type CounterStore interface {
	GetCount(ctx context.Context, name string) (int64, bool, error)
	IsValid(ctx context.Context, name string) (bool, error)
	SetCount(ctx context.Context, name string, count int64) error
	SetValid(ctx context.Context, name string, valid bool) error
	// AdjustIfValid adds delta (clamped at zero) only if the entry is valid and
	// a count is present. ok=false means nothing was written.
	AdjustIfValid(ctx context.Context, name string, delta int64) (count int64, ok bool, err error)
}

type PaymentGateway interface {
	Charge(ctx context.Context, idempotencyKey string, amountMinor int64) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type BookingCanceller interface {
	CancelBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
}

type BookingService interface {
	BookingCanceller
	CreateBooking(ctx context.Context, unitID uuid.UUID, start, end time.Time, userID uuid.UUID) (*models.Booking, error)
	PayBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	GetBooking(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
}

type UnitService interface {
	SearchUnits(ctx context.Context, filter models.UnitFilter) (*models.Page, error)
	CountAvailableUnits(ctx context.Context) (int64, error)
	AddUnit(ctx context.Context, spec models.UnitSpec) (*models.Unit, error)
	GetUnit(ctx context.Context, id uuid.UUID) (*models.Unit, error)
}

type UserService interface {
	CreateUser(ctx context.Context, username, email string) (*models.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type StatsService interface {
	Snapshot(ctx context.Context) (*models.Stats, error)
}
