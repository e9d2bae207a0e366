package httpx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter counts requests per client in fixed windows stored in Redis, so
// every replica of the API draws from the same budget. Each window gets its own key
// (prefix:client:window-index) that expires shortly after the window closes.
type RedisRateLimiter struct {
	rdb    redis.Cmdable
	limit  int64
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisRateLimiter(rdb redis.Cmdable, limit int, window time.Duration, prefix string) *RedisRateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window < time.Second {
		window = time.Minute
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "rl"
	}
	return &RedisRateLimiter{
		rdb:    rdb,
		limit:  int64(limit),
		window: window,
		prefix: prefix,
		now:    time.Now,
	}
}

func (rl *RedisRateLimiter) windowKey(client string) string {
	return fmt.Sprintf("%s:%s:%d", rl.prefix, client, rl.now().UnixNano()/int64(rl.window))
}

func (rl *RedisRateLimiter) Allow(ctx context.Context, client string) (bool, error) {
	key := rl.windowKey(client)
	var count *redis.IntCmd
	_, err := rl.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		count = p.Incr(ctx, key)
		p.PExpire(ctx, key, rl.window+time.Second)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("httpx: rate limit %s: %w", client, err)
	}
	return count.Val() <= rl.limit, nil
}
