package availability

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
)

func TestRedisCacheDegradesToMiss(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	cache := NewRedisCache(rdb, slog.New(slog.NewTextHandler(io.Discard, nil)), RedisCacheConfig{FailureThreshold: 2})
	ctx := context.Background()

	_, ok := cache.Get(ctx, day, "E1")
	assert.False(t, ok)
	cache.Set(ctx, day, "E1", []model.AvailableSlot{{EmployeeID: "E1", Slot: 540}})
	assert.Equal(t, gobreaker.StateOpen, cache.breaker.State())

	// With the breaker open calls fail fast and still read as misses.
	_, ok = cache.Get(ctx, day, "E1")
	assert.False(t, ok)
	cache.Invalidate(ctx, day)
}

func TestRedisCacheKeys(t *testing.T) {
	cache := NewRedisCache(redis.NewClient(&redis.Options{}), slog.New(slog.NewTextHandler(io.Discard, nil)), RedisCacheConfig{})
	assert.Equal(t, "salonbook:availability:2025-06-10", cache.key(day))
	assert.Equal(t, "*", field(""))
	assert.Equal(t, "E1", field("E1"))
}
