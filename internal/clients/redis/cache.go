package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/callbridge-backend/internal/logger"
	"github.com/yungbote/callbridge-backend/internal/pkg/ctxutil"
)

var ErrCacheMiss = errors.New("redis: cache miss")

// Cache is a small string cache with TTLs. The pipeline treats it as
// optional: a nil Cache means every lookup is a miss and every write a
// no-op.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

type cache struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewCache(log *logger.Logger) (Cache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &cache{
		log: log.With("service", "RedisCache"),
		rdb: rdb,
	}, nil
}

func (c *cache) Get(ctx context.Context, key string) (string, error) {
	if c == nil || c.rdb == nil {
		return "", ErrCacheMiss
	}
	val, err := c.rdb.Get(ctxutil.Default(ctx), key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("redis get %q: %w", key, err)
	}
	return val, nil
}

func (c *cache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	if err := c.rdb.Set(ctxutil.Default(ctx), key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (c *cache) Delete(ctx context.Context, key string) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	if err := c.rdb.Del(ctxutil.Default(ctx), key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

func (c *cache) Keys(ctx context.Context, pattern string) ([]string, error) {
	if c == nil || c.rdb == nil {
		return []string{}, nil
	}
	if strings.TrimSpace(pattern) == "" {
		pattern = "*"
	}
	keys, err := c.rdb.Keys(ctxutil.Default(ctx), pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("redis keys %q: %w", pattern, err)
	}
	return keys, nil
}

func (c *cache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
