package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisHealth adapts a Redis client to api.HealthChecker.
type redisHealth struct {
	rdb *redis.Client
}

func (h redisHealth) HealthCheck(ctx context.Context) error {
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	return nil
}
