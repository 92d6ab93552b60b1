package availability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/interval"
	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
)

// RedisCache keeps one hash per date whose fields are employee filters ("*" for all
// employees), so invalidating a date is a single DEL. Calls go through a circuit breaker
// and every failure is treated as a miss.
type RedisCache struct {
	rdb     redis.UniversalClient
	ttl     time.Duration
	prefix  string
	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker[[]byte]
}

type RedisCacheConfig struct {
	TTL    time.Duration
	Prefix string
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

func NewRedisCache(rdb redis.UniversalClient, logger *slog.Logger, cfg RedisCacheConfig) *RedisCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "salonbook:availability"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "availability-cache",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &RedisCache{rdb: rdb, ttl: cfg.TTL, prefix: cfg.Prefix, logger: logger, breaker: breaker}
}

type cachedSlot struct {
	EmployeeID  string          `json:"employee_id"`
	Slot        interval.Minute `json:"slot"`
	DisplayName string          `json:"display_name"`
}

func (c *RedisCache) key(date time.Time) string {
	return c.prefix + ":" + model.FormatDate(date)
}

func field(employeeID string) string {
	if employeeID == "" {
		return "*"
	}
	return employeeID
}

func (c *RedisCache) Get(ctx context.Context, date time.Time, employeeID string) ([]model.AvailableSlot, bool) {
	raw, err := c.breaker.Execute(func() ([]byte, error) {
		return c.rdb.HGet(ctx, c.key(date), field(employeeID)).Bytes()
	})
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("availability cache read failed", "err", err)
		}
		return nil, false
	}
	var cached []cachedSlot
	if err := json.Unmarshal(raw, &cached); err != nil {
		c.logger.Warn("availability cache entry unreadable", "err", err)
		return nil, false
	}
	out := make([]model.AvailableSlot, len(cached))
	for i, s := range cached {
		out[i] = model.AvailableSlot{EmployeeID: s.EmployeeID, Slot: s.Slot, DisplayName: s.DisplayName}
	}
	return out, true
}

func (c *RedisCache) Set(ctx context.Context, date time.Time, employeeID string, slots []model.AvailableSlot) {
	cached := make([]cachedSlot, len(slots))
	for i, s := range slots {
		cached[i] = cachedSlot{EmployeeID: s.EmployeeID, Slot: s.Slot, DisplayName: s.DisplayName}
	}
	body, err := json.Marshal(cached)
	if err != nil {
		c.logger.Warn("availability cache encode failed", "err", err)
		return
	}
	key := c.key(date)
	_, err = c.breaker.Execute(func() ([]byte, error) {
		// The TTL is set once per hash so older fields cannot outlive it by being refreshed.
		_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field(employeeID), body)
			pipe.ExpireNX(ctx, key, c.ttl)
			return nil
		})
		return nil, err
	})
	if err != nil {
		c.logger.Debug("availability cache write failed", "err", err)
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, date time.Time) {
	_, err := c.breaker.Execute(func() ([]byte, error) {
		return nil, c.rdb.Del(ctx, c.key(date)).Err()
	})
	if err != nil {
		c.logger.Warn("availability cache invalidation failed", "date", model.FormatDate(date), "err", err)
	}
}
