// Redis-backed Store implementation. The process holds exactly one client;
// go-redis pools connections underneath it.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Store over a shared go-redis client.
type Redis struct {
	client *redis.Client
}

// NewRedis builds the shared store client. The connection is verified lazily;
// use Ping at startup if fail-fast behavior is wanted.
func NewRedis(addr, password string, db int) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// Get returns the value at key, mapping redis.Nil to ErrNotFound.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", wrapUnavailable(err)
	}
	return val, nil
}

// SetEx writes value with an expiry (SETEX semantics: TTL is reset on every
// write).
func (r *Redis) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.SetEx(ctx, key, value, ttl).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// Set writes value with no expiry.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// Delete removes a key; missing keys are a no-op.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// Scan pages through the keyspace with MATCH/COUNT, never requiring a single
// unbounded listing.
func (r *Redis) Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error) {
	keys, next, err := r.client.Scan(ctx, cursor, pattern, count).Result()
	if err != nil {
		return nil, 0, wrapUnavailable(err)
	}
	return keys, next, nil
}

// Batch starts a pipelined write group.
func (r *Redis) Batch() Batch {
	return &redisBatch{pipe: r.client.Pipeline()}
}

// Ping verifies connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

type redisBatch struct {
	pipe redis.Pipeliner
}

func (b *redisBatch) SetEx(key, value string, ttl time.Duration) {
	b.pipe.SetEx(context.Background(), key, value, ttl)
}

func (b *redisBatch) Exec(ctx context.Context) error {
	if _, err := b.pipe.Exec(ctx); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

func wrapUnavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
