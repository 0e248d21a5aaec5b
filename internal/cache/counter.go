package cache

import (
	"context"
	"fmt"

	"wtbooking/internal/domain"
	"wtbooking/internal/metrics"

	"github.com/rs/zerolog"
)

type AdjustPath string

const (
	// AdjustFast means the stored count was valid and updated in place.
	AdjustFast AdjustPath = "fast"
	// AdjustRebuilt means the count was recomputed from the fallback and the
	// delta was dropped.
	AdjustRebuilt AdjustPath = "rebuilt"
)

// Fallback recomputes a counter from the source of truth.
type Fallback func(ctx context.Context) (int64, error)

// Counter is one named, invalidatable count kept in a CounterStore.
type Counter struct {
	name   string
	store  domain.CounterStore
	logger *zerolog.Logger
}

func NewCounter(name string, store domain.CounterStore, logger *zerolog.Logger) *Counter {
	return &Counter{name: name, store: store, logger: logger}
}

func (c *Counter) Name() string {
	return c.name
}

func (c *Counter) Invalidate(ctx context.Context) error {
	if err := c.store.SetValid(ctx, c.name, false); err != nil {
		return fmt.Errorf("invalidate %s: %w", c.name, err)
	}
	c.logger.Debug().Str("counter", c.name).Msg("Counter invalidated")
	return nil
}

func (c *Counter) IsValid(ctx context.Context) (bool, error) {
	return c.store.IsValid(ctx, c.name)
}

func (c *Counter) GetCount(ctx context.Context) (int64, bool, error) {
	return c.store.GetCount(ctx, c.name)
}

func (c *Counter) SetCount(ctx context.Context, count int64) error {
	if count < 0 {
		count = 0
	}
	if err := c.store.SetCount(ctx, c.name, count); err != nil {
		return fmt.Errorf("set %s: %w", c.name, err)
	}
	return nil
}

// Adjust adds delta to a valid count, never going below zero. When the count
// is invalid or missing it is rebuilt from fallback instead, and delta is
// ignored because the rebuilt value already reflects it.
func (c *Counter) Adjust(ctx context.Context, delta int64, fallback Fallback) (AdjustPath, error) {
	count, ok, err := c.store.AdjustIfValid(ctx, c.name, delta)
	if err != nil {
		return "", fmt.Errorf("adjust %s: %w", c.name, err)
	}
	if ok {
		metrics.IncCacheAdjust(c.name, string(AdjustFast))
		c.logger.Debug().Str("counter", c.name).Int64("delta", delta).Int64("count", count).Msg("Counter adjusted")
		return AdjustFast, nil
	}

	rebuilt, err := c.rebuild(ctx, fallback)
	if err != nil {
		return "", err
	}
	metrics.IncCacheAdjust(c.name, string(AdjustRebuilt))
	c.logger.Info().Str("counter", c.name).Int64("count", rebuilt).Msg("Counter rebuilt from store")
	return AdjustRebuilt, nil
}

// Get returns the cached count, rebuilding it first when it is not valid.
func (c *Counter) Get(ctx context.Context, fallback Fallback) (int64, error) {
	valid, err := c.store.IsValid(ctx, c.name)
	if err != nil {
		return 0, fmt.Errorf("check %s: %w", c.name, err)
	}
	if valid {
		count, ok, err := c.store.GetCount(ctx, c.name)
		if err != nil {
			return 0, fmt.Errorf("get %s: %w", c.name, err)
		}
		if ok {
			return count, nil
		}
	}
	return c.rebuild(ctx, fallback)
}

func (c *Counter) rebuild(ctx context.Context, fallback Fallback) (int64, error) {
	count, err := fallback(ctx)
	if err != nil {
		return 0, fmt.Errorf("rebuild %s: %w", c.name, err)
	}
	if err := c.SetCount(ctx, count); err != nil {
		return 0, err
	}
	if count < 0 {
		count = 0
	}
	return count, nil
}

// InvalidateAll marks every counter stale. Used at startup, when the store
// may have changed while the process was down.
func InvalidateAll(ctx context.Context, counters ...*Counter) error {
	for _, c := range counters {
		if err := c.Invalidate(ctx); err != nil {
			return err
		}
	}
	return nil
}
