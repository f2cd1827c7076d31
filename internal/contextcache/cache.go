package contextcache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/config"
	"github.com/fyrsmithlabs/agentd/internal/logging"
)

// Cache layers the configured backends. Level order is fixed: memory,
// then Redis, then durable; missing levels are simply skipped.
type Cache struct {
	levels []Backend
	ttl    time.Duration
	log    *logging.Logger
}

// New assembles the cache from config. Only the in-process level is
// mandatory; the Redis and durable levels attach when configured. A Redis
// level that cannot connect is dropped with a warning rather than failing
// startup.
func New(ctx context.Context, cfg config.CacheConfig, log *logging.Logger) (*Cache, error) {
	if log == nil {
		log = logging.NewNop()
	}

	levels := []Backend{NewMemoryBackend(cfg.L1Size, cfg.L1TTL.Duration())}

	if cfg.RedisAddr != "" {
		redisLevel, err := NewRedisBackend(ctx, cfg.RedisAddr, cfg.RedisTTL.Duration())
		if err != nil {
			log.Warn(ctx, "redis cache level unavailable, continuing without it",
				zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			levels = append(levels, redisLevel)
		}
	}

	if cfg.DurablePath != "" {
		durableLevel, err := NewDurableBackend(cfg.DurablePath)
		if err != nil {
			return nil, err
		}
		levels = append(levels, durableLevel)
	}

	return &Cache{
		levels: levels,
		ttl:    cfg.L1TTL.Duration(),
		log:    log,
	}, nil
}

// NewWithLevels builds a cache over explicit backends, deepest last.
func NewWithLevels(log *logging.Logger, ttl time.Duration, levels ...Backend) *Cache {
	if log == nil {
		log = logging.NewNop()
	}
	return &Cache{levels: levels, ttl: ttl, log: log}
}

// Get walks the levels shallow to deep. A hit at a deeper level is
// promoted into the levels above it so the next read is cheaper. Level
// errors degrade to misses.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	for i, level := range c.levels {
		value, found, err := level.Get(ctx, key)
		if err != nil {
			c.log.Warn(ctx, "cache level read failed",
				zap.String("level", level.Name()), zap.Error(err))
			continue
		}
		if !found {
			continue
		}
		for _, upper := range c.levels[:i] {
			if serr := upper.Set(ctx, key, value, c.ttl); serr != nil {
				c.log.Warn(ctx, "cache promotion failed",
					zap.String("level", upper.Name()), zap.Error(serr))
			}
		}
		return value, true
	}
	return nil, false
}

// Set writes through every level. Failures are logged per level; the
// entry lands wherever it can.
func (c *Cache) Set(ctx context.Context, key string, value []byte) {
	for _, level := range c.levels {
		if err := level.Set(ctx, key, value, c.ttl); err != nil {
			c.log.Warn(ctx, "cache level write failed",
				zap.String("level", level.Name()), zap.Error(err))
		}
	}
}

// Invalidate drops every entry in the namespace across all levels.
func (c *Cache) Invalidate(ctx context.Context, namespace string) {
	prefix := namespace + ":"
	for _, level := range c.levels {
		if err := level.DeletePrefix(ctx, prefix); err != nil {
			c.log.Warn(ctx, "cache invalidation failed",
				zap.String("level", level.Name()),
				zap.String("namespace", namespace),
				zap.Error(err))
		}
	}
}
