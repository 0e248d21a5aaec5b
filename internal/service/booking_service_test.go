package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wtbooking/internal/cache"
	"wtbooking/internal/domain"
	"wtbooking/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func futureDay(offset int) time.Time {
	return models.DateOnly(time.Now()).AddDate(0, 0, 30+offset)
}

func TestCalculateTotal(t *testing.T) {
	tests := []struct {
		name   string
		cost   string
		markup string
		nights int64
		want   string
	}{
		{name: "three nights ten percent", cost: "100", markup: "10", nights: 3, want: "330"},
		{name: "single night no markup", cost: "80.50", markup: "0", nights: 1, want: "80.5"},
		{name: "markup rate rounds half up", cost: "100", markup: "12.5", nights: 1, want: "113"},
		{name: "default markup", cost: "200", markup: "15", nights: 2, want: "460"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateTotal(decimal.RequireFromString(tt.cost), decimal.RequireFromString(tt.markup), tt.nights)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestCreateBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unit := env.addUnit(t, "100", 10)
	require.NoError(t, env.available.SetCount(ctx, 5))

	booking, err := env.booking.CreateBooking(ctx, unit.ID, futureDay(0), futureDay(2), uuid.Nil)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCreated, booking.Status)
	assert.Equal(t, "330.00", booking.TotalCost.StringFixed(2))
	assert.Equal(t, int64(3), booking.Nights())

	stored, err := env.db.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsAvailable)

	count, _, err := env.available.GetCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count, "fast path applies the -1 delta")
}

func TestCreateBooking_WithUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	unit := env.addUnit(t, "50", 0)

	_, err := env.booking.CreateBooking(ctx, unit.ID, futureDay(0), futureDay(0), uuid.New())
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	user, err := env.users.CreateUser(ctx, "guest", "guest@example.com")
	require.NoError(t, err)

	booking, err := env.booking.CreateBooking(ctx, unit.ID, futureDay(0), futureDay(0), user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, booking.UserID)
	assert.Equal(t, int64(1), booking.Nights())
}

func TestCreateBooking_Preconditions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	unit := env.addUnit(t, "100", 10)

	t.Run("InvalidRange", func(t *testing.T) {
		_, err := env.booking.CreateBooking(ctx, unit.ID, futureDay(2), futureDay(0), uuid.Nil)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("MissingDates", func(t *testing.T) {
		_, err := env.booking.CreateBooking(ctx, unit.ID, time.Time{}, futureDay(0), uuid.Nil)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("UnknownUnit", func(t *testing.T) {
		_, err := env.booking.CreateBooking(ctx, uuid.New(), futureDay(0), futureDay(1), uuid.Nil)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("UnitUnavailable", func(t *testing.T) {
		_, err := env.booking.CreateBooking(ctx, unit.ID, futureDay(0), futureDay(1), uuid.Nil)
		require.NoError(t, err)

		_, err = env.booking.CreateBooking(ctx, unit.ID, futureDay(10), futureDay(11), uuid.Nil)
		assert.ErrorIs(t, err, domain.ErrUnitUnavailable)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})
}

func TestCreateBooking_Overlap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	unit := env.addUnit(t, "100", 10)

	_, err := env.booking.CreateBooking(ctx, unit.ID, futureDay(0), futureDay(2), uuid.Nil)
	require.NoError(t, err)

	// Флаг доступности выставлен вручную: проверка пересечений должна сработать сама
	require.NoError(t, env.db.SetUnitAvailability(ctx, unit.ID, true))

	_, err = env.booking.CreateBooking(ctx, unit.ID, futureDay(2), futureDay(4), uuid.Nil)
	assert.ErrorIs(t, err, domain.ErrDatesOverlap)

	stored, err := env.db.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsAvailable, "failed create must not commit anything")

	_, err = env.booking.CreateBooking(ctx, unit.ID, futureDay(3), futureDay(4), uuid.Nil)
	assert.NoError(t, err, "adjacent range does not overlap")
}

func TestCreateBooking_CacheFailureDoesNotFail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	unit := env.addUnit(t, "100", 10)

	logger := zerolog.Nop()
	env.booking.available = cache.NewCounter(models.CounterAvailableUnits, brokenCounterStore{}, &logger)

	booking, err := env.booking.CreateBooking(ctx, unit.ID, futureDay(0), futureDay(1), uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, booking.Status)
}

func TestCreateBooking_ConcurrentSameUnit(t *testing.T) {
	env := newFileTestEnv(t)
	ctx := context.Background()

	const (
		numUnits  = 5
		perUnit   = 10
		totalJobs = numUnits * perUnit
	)
	units := make([]*models.Unit, numUnits)
	for i := range units {
		units[i] = env.addUnit(t, "100", 10)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes = make(map[uuid.UUID]int)
	)
	wg.Add(totalJobs)
	for i := 0; i < totalJobs; i++ {
		unitID := units[i%numUnits].ID
		go func() {
			defer wg.Done()
			_, err := env.booking.CreateBooking(ctx, unitID, futureDay(0), futureDay(2), uuid.Nil)
			if err == nil {
				mu.Lock()
				successes[unitID]++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrConflict)
		}()
	}
	wg.Wait()

	for _, u := range units {
		assert.Equal(t, 1, successes[u.ID], "unit %s", u.ID)
	}

	truth, err := env.db.CountAvailableUnits(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), truth)

	cached, ok, err := env.available.GetCount(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, truth, cached)
}

func TestPayBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	unit := env.addUnit(t, "100", 10)

	booking, err := env.booking.CreateBooking(ctx, unit.ID, futureDay(0), futureDay(2), uuid.Nil)
	require.NoError(t, err)

	key := "pay-" + booking.ID.String()
	env.gateway.On("Charge", mock.Anything, key, int64(33000)).Return(true, nil).Once()

	paid, err := env.booking.PayBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, paid.Status)

	t.Run("PayTwiceIsConflict", func(t *testing.T) {
		_, err := env.booking.PayBooking(ctx, booking.ID)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("CancelPaidIsConflict", func(t *testing.T) {
		_, err := env.booking.CancelBooking(ctx, booking.ID)
		assert.ErrorIs(t, err, domain.ErrIllegalTransition)

		stored, err := env.db.GetBooking(ctx, booking.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPaid, stored.Status)
	})

	t.Run("UnknownBooking", func(t *testing.T) {
		_, err := env.booking.PayBooking(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	env.gateway.AssertExpectations(t)
}

func TestPayBooking_Failures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("Declined", func(t *testing.T) {
		unit := env.addUnit(t, "100", 10)
		booking, err := env.booking.CreateBooking(ctx, unit.ID, futureDay(0), futureDay(0), uuid.Nil)
		require.NoError(t, err)

		env.gateway.On("Charge", mock.Anything, "pay-"+booking.ID.String(), int64(11000)).Return(false, nil).Once()

		_, err = env.booking.PayBooking(ctx, booking.ID)
		assert.ErrorIs(t, err, domain.ErrPaymentFailed)

		stored, err := env.db.GetBooking(ctx, booking.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCreated, stored.Status)
	})

	t.Run("GatewayError", func(t *testing.T) {
		unit := env.addUnit(t, "100", 10)
		booking, err := env.booking.CreateBooking(ctx, unit.ID, futureDay(0), futureDay(0), uuid.Nil)
		require.NoError(t, err)

		cause := errors.New("connection reset")
		env.gateway.On("Charge", mock.Anything, "pay-"+booking.ID.String(), mock.Anything).Return(false, cause).Once()

		_, err = env.booking.PayBooking(ctx, booking.ID)
		assert.ErrorIs(t, err, domain.ErrPaymentFailed)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "payment_failed", domain.Kind(err))
	})

	t.Run("GatewayGetsDeadline", func(t *testing.T) {
		unit := env.addUnit(t, "100", 10)
		booking, err := env.booking.CreateBooking(ctx, unit.ID, futureDay(0), futureDay(0), uuid.Nil)
		require.NoError(t, err)

		env.gateway.On("Charge", mock.Anything, "pay-"+booking.ID.String(), mock.Anything).
			Run(func(args mock.Arguments) {
				_, ok := args.Get(0).(context.Context).Deadline()
				assert.True(t, ok, "charge must run under a deadline")
			}).
			Return(true, nil).Once()

		_, err = env.booking.PayBooking(ctx, booking.ID)
		require.NoError(t, err)
	})

	env.gateway.AssertExpectations(t)
}

func TestPayBooking_CancelledWhileCharging(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	unit := env.addUnit(t, "100", 10)

	booking, err := env.booking.CreateBooking(ctx, unit.ID, futureDay(0), futureDay(1), uuid.Nil)
	require.NoError(t, err)

	// Отмена проходит, пока шлюз обрабатывает платеж
	env.gateway.On("Charge", mock.Anything, "pay-"+booking.ID.String(), mock.Anything).
		Run(func(mock.Arguments) {
			_, cancelErr := env.booking.CancelBooking(ctx, booking.ID)
			require.NoError(t, cancelErr)
		}).
		Return(true, nil).Once()

	_, err = env.booking.PayBooking(ctx, booking.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	stored, err := env.db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)
}

func TestCancelBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	unit := env.addUnit(t, "100", 10)

	booking, err := env.booking.CreateBooking(ctx, unit.ID, futureDay(0), futureDay(1), uuid.Nil)
	require.NoError(t, err)

	require.NoError(t, env.available.SetCount(ctx, 0))

	cancelled, err := env.booking.CancelBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)

	stored, err := env.db.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsAvailable)

	count, _, err := env.available.GetCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	t.Run("CancelTwiceIsConflict", func(t *testing.T) {
		_, err := env.booking.CancelBooking(ctx, booking.ID)
		assert.ErrorIs(t, err, domain.ErrConflict)

		count, _, err := env.available.GetCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count, "rejected cancel must not touch the counter")
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := env.booking.CancelBooking(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestCancelBooking_OtherActiveBookingKeepsUnit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	unit := env.addUnit(t, "100", 10)

	first, err := env.booking.CreateBooking(ctx, unit.ID, futureDay(0), futureDay(1), uuid.Nil)
	require.NoError(t, err)
	require.NoError(t, env.db.SetUnitAvailability(ctx, unit.ID, true))
	_, err = env.booking.CreateBooking(ctx, unit.ID, futureDay(5), futureDay(6), uuid.Nil)
	require.NoError(t, err)

	_, err = env.booking.CancelBooking(ctx, first.ID)
	require.NoError(t, err)

	stored, err := env.db.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsAvailable)
}

func TestGetBookingsByDateRange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	unit := env.addUnit(t, "100", 10)

	booking, err := env.booking.CreateBooking(ctx, unit.ID, futureDay(0), futureDay(1), uuid.Nil)
	require.NoError(t, err)

	got, err := env.booking.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.ID, got.ID)

	list, err := env.booking.GetBookingsByDateRange(ctx, futureDay(-5), futureDay(5))
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = env.booking.GetBookingsByDateRange(ctx, futureDay(5), futureDay(-5))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// Итоги с долями копейки: выручка после пересчета совпадает с накопленной.
func TestStatsRevenue_SubCentTotalsSurviveRebuild(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.gateway.On("Charge", mock.Anything, mock.Anything, int64(1151)).Return(true, nil)
	for i := 0; i < 7; i++ {
		// 10.01 + 15% = 11.5115
		unit := env.addUnit(t, "10.01", 15)
		booking, err := env.booking.CreateBooking(ctx, unit.ID, futureDay(0), futureDay(0), uuid.Nil)
		require.NoError(t, err)
		require.Equal(t, "11.5115", booking.TotalCost.String())
		_, err = env.booking.PayBooking(ctx, booking.ID)
		require.NoError(t, err)
	}

	stats, err := env.stats.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "80.57", stats.Revenue.StringFixed(2))

	require.NoError(t, env.revenue.Invalidate(ctx))

	stats, err = env.stats.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "80.57", stats.Revenue.StringFixed(2))
}

// Сценарий: объект за 100 с наценкой 10%, бронь на 3 ночи, оплата, статистика.
func TestBookingLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	unit := env.addUnit(t, "100", 10)
	env.addUnit(t, "200", 15)

	count, err := env.units.CountAvailableUnits(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	booking, err := env.booking.CreateBooking(ctx, unit.ID, futureDay(0), futureDay(2), uuid.Nil)
	require.NoError(t, err)

	count, err = env.units.CountAvailableUnits(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	env.gateway.On("Charge", mock.Anything, "pay-"+booking.ID.String(), int64(33000)).Return(true, nil).Once()
	_, err = env.booking.PayBooking(ctx, booking.ID)
	require.NoError(t, err)

	stats, err := env.stats.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Bookings)
	assert.Equal(t, "330.00", stats.Revenue.StringFixed(2))

	// После сброса кэша значения восстанавливаются из базы
	require.NoError(t, cache.InvalidateAll(ctx, env.available, env.bookings, env.revenue))

	count, err = env.units.CountAvailableUnits(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	stats, err = env.stats.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Bookings)
	assert.Equal(t, "330.00", stats.Revenue.StringFixed(2))

	env.gateway.AssertExpectations(t)
}
