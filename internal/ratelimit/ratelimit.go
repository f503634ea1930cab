// Package ratelimit applies a per-client fixed window counter kept in redis.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"backend-safetrack/internal/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "ratelimit:fixed:"

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type Limiter struct {
	redis  *redis.Client
	name   string
	limit  int
	window time.Duration
	now    func() time.Time
}

// New returns a limiter allowing limit requests per window for each key.
// name separates counters of limiters sharing a redis.
func New(rdb *redis.Client, name string, limit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{redis: rdb, name: name, limit: limit, window: window, now: time.Now}
}

// Allow counts one request against key. The counter key carries the window
// index, so a missed EXPIRE never leaks into the next window.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now()
	secs := int64(l.window / time.Second)
	if secs < 1 {
		secs = 1
	}
	window := now.Unix() / secs
	resetAt := time.Unix((window+1)*secs, 0)
	windowKey := fmt.Sprintf("%s%s:%s:%d", keyPrefix, l.name, key, window)

	n, err := l.redis.Incr(ctx, windowKey).Result()
	if err != nil {
		return Result{}, err
	}
	if n == 1 {
		if err := l.redis.Expire(ctx, windowKey, l.window+time.Second).Err(); err != nil {
			return Result{}, err
		}
	}

	remaining := l.limit - int(n)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: int(n) <= l.limit, Limit: l.limit, Remaining: remaining, ResetAt: resetAt}, nil
}

// Middleware limits by client IP. A disabled limiter (nil redis or a
// non-positive limit) and redis failures let the request through.
func (l *Limiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if l == nil || l.redis == nil || l.limit <= 0 {
			return c.Next()
		}

		res, err := l.Allow(c.UserContext(), c.IP())
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request", zap.String("limiter", l.name), zap.Error(err))
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		if !res.Allowed {
			retry := int(res.ResetAt.Sub(l.now()).Seconds())
			if retry < 1 {
				retry = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retry))
			return fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded")
		}
		return c.Next()
	}
}
