package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"wtbooking/internal/domain"

	"github.com/rs/zerolog"
)

const defaultRecoveryInterval = time.Minute

// FailoverCounterStore serves counters from the primary store and switches to
// the fallback on the first primary error. Every switch invalidates the
// counters it has seen on the store it switches to, since that store missed
// the adjustments made in the meantime.
type FailoverCounterStore struct {
	primary          domain.CounterStore
	fallback         domain.CounterStore
	logger           *zerolog.Logger
	isDown           atomic.Bool
	lastCheck        atomic.Int64
	recoveryInterval time.Duration
	names            sync.Map
}

var _ domain.CounterStore = (*FailoverCounterStore)(nil)

func NewFailoverCounterStore(primary, fallback domain.CounterStore, logger *zerolog.Logger) *FailoverCounterStore {
	return &FailoverCounterStore{
		primary:          primary,
		fallback:         fallback,
		logger:           logger,
		recoveryInterval: defaultRecoveryInterval,
	}
}

func (r *FailoverCounterStore) IsDown() bool {
	return r.isDown.Load()
}

func (r *FailoverCounterStore) markDown(ctx context.Context, err error) {
	r.logger.Error().Err(err).Msg("Primary counter store failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
	if invErr := r.invalidateSeen(ctx, r.fallback); invErr != nil {
		r.logger.Error().Err(invErr).Msg("Failed to invalidate fallback counters")
	}
}

func (r *FailoverCounterStore) invalidateSeen(ctx context.Context, store domain.CounterStore) error {
	var firstErr error
	r.names.Range(func(key, _ interface{}) bool {
		if err := store.SetValid(ctx, key.(string), false); err != nil {
			firstErr = err
			return false
		}
		return true
	})
	return firstErr
}

// tryRecover probes the primary once per recovery interval. The probe is the
// invalidation itself.
func (r *FailoverCounterStore) tryRecover(ctx context.Context) bool {
	if time.Since(time.Unix(0, r.lastCheck.Load())) <= r.recoveryInterval {
		return false
	}
	if err := r.invalidateSeen(ctx, r.primary); err != nil {
		r.lastCheck.Store(time.Now().UnixNano())
		return false
	}
	r.isDown.Store(false)
	r.logger.Info().Msg("Primary counter store recovered")
	return true
}

func (r *FailoverCounterStore) do(ctx context.Context, name string, fn func(store domain.CounterStore) error) error {
	r.names.Store(name, struct{}{})

	if r.isDown.Load() && !r.tryRecover(ctx) {
		return fn(r.fallback)
	}

	err := fn(r.primary)
	if err == nil {
		return nil
	}
	r.markDown(ctx, err)
	return fn(r.fallback)
}

func (r *FailoverCounterStore) GetCount(ctx context.Context, name string) (int64, bool, error) {
	var (
		count int64
		ok    bool
	)
	err := r.do(ctx, name, func(store domain.CounterStore) error {
		var err error
		count, ok, err = store.GetCount(ctx, name)
		return err
	})
	return count, ok, err
}

func (r *FailoverCounterStore) IsValid(ctx context.Context, name string) (bool, error) {
	var valid bool
	err := r.do(ctx, name, func(store domain.CounterStore) error {
		var err error
		valid, err = store.IsValid(ctx, name)
		return err
	})
	return valid, err
}

func (r *FailoverCounterStore) SetCount(ctx context.Context, name string, count int64) error {
	return r.do(ctx, name, func(store domain.CounterStore) error {
		return store.SetCount(ctx, name, count)
	})
}

func (r *FailoverCounterStore) SetValid(ctx context.Context, name string, valid bool) error {
	return r.do(ctx, name, func(store domain.CounterStore) error {
		return store.SetValid(ctx, name, valid)
	})
}

func (r *FailoverCounterStore) AdjustIfValid(ctx context.Context, name string, delta int64) (int64, bool, error) {
	var (
		count int64
		ok    bool
	)
	err := r.do(ctx, name, func(store domain.CounterStore) error {
		var err error
		count, ok, err = store.AdjustIfValid(ctx, name, delta)
		return err
	})
	return count, ok, err
}
