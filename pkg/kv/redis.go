package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ekaya-inc/ontolink/pkg/config"
)

// Redis implements Store on a Redis connection.
type Redis struct {
	client *redis.Client
}

var _ Store = (*Redis)(nil)

// NewRedis creates a Redis-backed Store and verifies connectivity.
func NewRedis(cfg *config.RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Redis{client: client}, nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// HIncrBy implements Store.
func (r *Redis) HIncrBy(ctx context.Context, key, field string, delta int64) error {
	return r.client.HIncrBy(ctx, key, field, delta).Err()
}

// HIncrByFloat implements Store.
func (r *Redis) HIncrByFloat(ctx context.Context, key, field string, delta float64) error {
	return r.client.HIncrByFloat(ctx, key, field, delta).Err()
}

// HSet implements Store.
func (r *Redis) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for f, v := range fields {
		args = append(args, f, v)
	}
	return r.client.HSet(ctx, key, args...).Err()
}

// HGetAll implements Store.
func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	res, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RPushCapped implements Store. Push and trim run in one pipeline so the
// list never grows past max for longer than a round trip.
func (r *Redis) RPushCapped(ctx context.Context, key string, max int64, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, 0, len(values))
	for _, v := range values {
		args = append(args, v)
	}
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, args...)
	pipe.LTrim(ctx, key, -max, -1)
	_, err := pipe.Exec(ctx)
	return err
}

// LRange implements Store.
func (r *Redis) LRange(ctx context.Context, key string) ([]string, error) {
	vals, err := r.client.LRange(ctx, key, 0, -1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return vals, err
}

// ScanKeys implements Store.
func (r *Redis) ScanKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := r.client.Scan(ctx, cursor, prefix+"*", 512).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Delete implements Store.
func (r *Redis) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return r.client.Del(ctx, keys...).Result()
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}
