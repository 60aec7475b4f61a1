package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// fixedWindow increments the counter and starts its window on the first hit,
// in one round trip so a crash cannot leave a counter without expiry.
var fixedWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RateLimiter is a fixed-window counter per key.
type RateLimiter struct {
	client *Client
}

func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// Allow reports whether the hit fits within limit for the current window.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	n, err := fixedWindow.Run(ctx, r.client.cli, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n <= int64(limit), nil
}

// RouteKey names the counter of subject on route.
func RouteKey(route, subject string) string {
	return "rate_limit:" + route + ":" + subject
}
