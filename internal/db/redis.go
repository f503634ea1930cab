package db

import (
	"context"

	"backend-safetrack/internal/config"
	"backend-safetrack/internal/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ConnectRedis returns nil when no address is configured; the live stream
// then stays in-process and share rate limiting is off. An unreachable
// server is logged but the client is still returned so it can recover.
func ConnectRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	return client
}
