package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/poolbot/internal/domain"
)

// RateLimiter counts requests in fixed windows. Each window gets its own
// counter key, which expires shortly after the window closes.
type RateLimiter struct {
	rdb  *redis.Client
	keys keyspace
	now  func() time.Time
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.rdb, keys: c.keys, now: time.Now}
}

// Allow counts the request and reports whether it is within limit for the
// current window.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if window <= 0 {
		return false, fmt.Errorf("redis: rate limit %s: window must be positive", key)
	}
	name := windowKey(rl.keys.key("ratelimit", key), rl.now(), window)

	var incr *redis.IntCmd
	_, err := rl.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, name)
		p.PExpire(ctx, name, window+time.Second)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return incr.Val() <= int64(limit), nil
}

// windowKey suffixes base with the index of the window containing now.
func windowKey(base string, now time.Time, window time.Duration) string {
	return base + ":" + strconv.FormatInt(now.UnixNano()/int64(window), 10)
}
