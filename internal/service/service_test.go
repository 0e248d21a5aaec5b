package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"wtbooking/internal/cache"
	"wtbooking/internal/database"
	"wtbooking/internal/events"
	"wtbooking/internal/models"
	"wtbooking/internal/repository"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Charge(ctx context.Context, key string, amountMinor int64) (bool, error) {
	args := m.Called(ctx, key, amountMinor)
	return args.Bool(0), args.Error(1)
}

// brokenCounterStore fails every call, like an unreachable Redis.
type brokenCounterStore struct{}

var errCacheDown = errors.New("cache down")

func (brokenCounterStore) GetCount(context.Context, string) (int64, bool, error) {
	return 0, false, errCacheDown
}
func (brokenCounterStore) IsValid(context.Context, string) (bool, error) { return false, errCacheDown }
func (brokenCounterStore) SetCount(context.Context, string, int64) error { return errCacheDown }
func (brokenCounterStore) SetValid(context.Context, string, bool) error  { return errCacheDown }
func (brokenCounterStore) AdjustIfValid(context.Context, string, int64) (int64, bool, error) {
	return 0, false, errCacheDown
}

type testEnv struct {
	db        *database.DB
	available *cache.Counter
	bookings  *cache.Counter
	revenue   *cache.Counter
	gateway   *mockGateway
	bus       *events.EventBus
	booking   *BookingService
	units     *UnitService
	users     *UserService
	stats     *StatsService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvAt(t, ":memory:")
}

// newFileTestEnv uses a database file, so concurrent transactions run on
// separate connections.
func newFileTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvAt(t, filepath.Join(t.TempDir(), "wtbooking.db"))
}

func newTestEnvAt(t *testing.T, path string) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(path, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := repository.NewMemoryCounterStore()
	env := &testEnv{
		db:        db,
		available: cache.NewCounter(models.CounterAvailableUnits, store, &logger),
		bookings:  cache.NewCounter(models.CounterBookingsTotal, store, &logger),
		revenue:   cache.NewCounter(models.CounterRevenueMinor, store, &logger),
		gateway:   new(mockGateway),
		bus:       events.NewEventBus(&logger),
	}
	env.booking = NewBookingService(db, env.available, env.gateway, env.bus, 0, &logger)
	env.units = NewUnitService(db, env.available, env.bus, decimal.NewFromInt(models.DefaultMarkupPercent), &logger)
	env.users = NewUserService(db, &logger)
	env.stats = NewStatsService(db, env.bookings, env.revenue, &logger)
	env.stats.Subscribe(env.bus)
	return env
}

func (e *testEnv) addUnit(t *testing.T, cost string, markup int64) *models.Unit {
	t.Helper()
	m := decimal.NewFromInt(markup)
	unit, err := e.units.AddUnit(context.Background(), models.UnitSpec{
		Rooms:             2,
		AccommodationType: models.AccommodationApartment,
		Floor:             1,
		Cost:              decimal.RequireFromString(cost),
		MarkupPercent:     &m,
	})
	require.NoError(t, err)
	return unit
}
