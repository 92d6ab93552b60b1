package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter counts requests per client in Redis so every booking-service replica
// draws from the same budget. Windows are aligned to multiples of the window length, so
// each counter key names the window it belongs to and simply expires afterwards.
type RedisRateLimiter struct {
	rdb    redis.UniversalClient
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisRateLimiter(rdb redis.UniversalClient, limit int, window time.Duration, prefix string) *RedisRateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window < time.Second {
		window = time.Minute
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "salonbook:ratelimit"
	}
	return &RedisRateLimiter{rdb: rdb, limit: limit, window: window, prefix: prefix, now: time.Now}
}

// Middleware enforces the limit. When Redis cannot be reached the request is let through
// if failOpen is set and rejected with 503 otherwise.
func (rl *RedisRateLimiter) Middleware(logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := rl.now()
			count, err := rl.hit(r.Context(), rl.key(clientKey(r), now))
			if err != nil {
				if logger != nil {
					logger.Warn("redis rate limiter unavailable", "err", err, "fail_open", failOpen)
				}
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "rate limiter unavailable", http.StatusServiceUnavailable)
				return
			}
			remaining := int64(rl.limit) - count
			if remaining < 0 {
				w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfter(now)))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RedisRateLimiter) key(client string, now time.Time) string {
	start := now.Truncate(rl.window).Unix()
	return rl.prefix + ":" + client + ":" + strconv.FormatInt(start, 10)
}

// retryAfter is the number of whole seconds until the current window closes, at least one.
func (rl *RedisRateLimiter) retryAfter(now time.Time) int {
	left := now.Truncate(rl.window).Add(rl.window).Sub(now)
	secs := int((left + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (rl *RedisRateLimiter) hit(ctx context.Context, key string) (int64, error) {
	var incr *redis.IntCmd
	_, err := rl.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, rl.window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
