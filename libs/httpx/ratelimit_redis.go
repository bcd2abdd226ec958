package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter is a fixed-window limiter shared by every replica through Redis.
// Requests are keyed by client address unless KeyedBy installs another key.
type RedisRateLimiter struct {
	rdb    redis.UniversalClient
	limit  int
	window time.Duration
	prefix string
	keyFn  func(*http.Request) string
}

// windowScript counts a hit and returns {count, remaining window in ms}. The expiry is
// set once, by the first hit of the window.
var windowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

func NewRedisRateLimiter(rdb redis.UniversalClient, limit int, window time.Duration, prefix string) *RedisRateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisRateLimiter{rdb: rdb, limit: limit, window: window, prefix: prefix, keyFn: clientKey}
}

// KeyedBy replaces the client-address key with fn; an empty key falls back to the address.
func (rl *RedisRateLimiter) KeyedBy(fn func(*http.Request) string) *RedisRateLimiter {
	rl.keyFn = func(r *http.Request) string {
		if k := fn(r); k != "" {
			return k
		}
		return clientKey(r)
	}
	return rl
}

// Middleware sets RateLimit-Limit and RateLimit-Remaining on every response and
// Retry-After on rejections. When Redis fails, failOpen decides between letting the
// request through and answering 503.
func (rl *RedisRateLimiter) Middleware(logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count, reset, err := rl.hit(r.Context(), rl.prefix+":"+rl.keyFn(r))
			if err != nil {
				if logger != nil {
					logger.Warn("redis rate limiter error", "err", err, "fail_open", failOpen)
				}
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				writeJSONError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
				return
			}

			remaining := rl.limit - int(count)
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("RateLimit-Limit", strconv.Itoa(rl.limit))
			w.Header().Set("RateLimit-Remaining", strconv.Itoa(remaining))
			if count > int64(rl.limit) {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(reset)))
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RedisRateLimiter) hit(ctx context.Context, key string) (int64, time.Duration, error) {
	vals, err := windowScript.Run(ctx, rl.rdb, []string{key}, rl.window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(vals) != 2 {
		return 0, 0, fmt.Errorf("rate limit script returned %d values", len(vals))
	}
	return vals[0], time.Duration(vals[1]) * time.Millisecond, nil
}

// retryAfterSeconds rounds up so clients never retry inside the same window.
func retryAfterSeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
