package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"wtbooking/internal/config"
	"wtbooking/internal/domain"

	"github.com/redis/go-redis/v9"
)

const validFlag = "true"

// adjustScript applies a delta to a valid counter in one round trip.
// It returns -1 when the entry is invalid or missing, so the caller rebuilds.
var adjustScript = redis.NewScript(`
if redis.call('GET', KEYS[2]) ~= 'true' then
  return -1
end
local current = redis.call('GET', KEYS[1])
if not current then
  return -1
end
local n = tonumber(current) + tonumber(ARGV[1])
if n < 0 then
  n = 0
end
redis.call('SET', KEYS[1], string.format('%d', n))
return n
`)

func CountKey(name string) string {
	return name + "_count"
}

func ValidKey(name string) string {
	return name + "_cache_valid"
}

// RedisCounterStore keeps counters in Redis as plain string keys.
type RedisCounterStore struct {
	client *redis.Client
}

var _ domain.CounterStore = (*RedisCounterStore)(nil)

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

func (r *RedisCounterStore) GetCount(ctx context.Context, name string) (int64, bool, error) {
	if r.client == nil {
		return 0, false, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, CountKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get count from redis: %w", err)
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt counter %s=%q: %w", name, val, err)
	}
	return count, true, nil
}

func (r *RedisCounterStore) IsValid(ctx context.Context, name string) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, ValidKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get validity from redis: %w", err)
	}
	return val == validFlag, nil
}

// SetCount stores the count and marks it valid in one MULTI/EXEC.
func (r *RedisCounterStore) SetCount(ctx context.Context, name string, count int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, CountKey(name), strconv.FormatInt(count, 10), 0)
		pipe.Set(ctx, ValidKey(name), validFlag, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set count in redis: %w", err)
	}
	return nil
}

func (r *RedisCounterStore) SetValid(ctx context.Context, name string, valid bool) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Set(ctx, ValidKey(name), strconv.FormatBool(valid), 0).Err(); err != nil {
		return fmt.Errorf("failed to set validity in redis: %w", err)
	}
	return nil
}

func (r *RedisCounterStore) AdjustIfValid(ctx context.Context, name string, delta int64) (int64, bool, error) {
	if r.client == nil {
		return 0, false, fmt.Errorf("redis client is nil")
	}
	n, err := adjustScript.Run(ctx, r.client, []string{CountKey(name), ValidKey(name)}, delta).Int64()
	if err != nil {
		return 0, false, fmt.Errorf("failed to adjust count in redis: %w", err)
	}
	if n < 0 {
		return 0, false, nil
	}
	return n, true, nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
