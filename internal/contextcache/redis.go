package contextcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisBackend is the L2 shared level. Several daemon instances pointed at
// the same Redis see each other's assembly results.
type redisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend connects the shared level. The connection is verified
// eagerly so a misconfigured address surfaces at startup, not mid-request.
func NewRedisBackend(ctx context.Context, addr string, ttl time.Duration) (Backend, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &redisBackend{client: client, ttl: ttl}, nil
}

func (r *redisBackend) Name() string { return "redis" }

func (r *redisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (r *redisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.ttl
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisBackend) DeletePrefix(ctx context.Context, prefix string) error {
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
