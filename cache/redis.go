package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gr-butler/anemometer/report"
	"github.com/redis/go-redis/v9"
)

type setter interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisCache keeps the latest wind report for each device.
type RedisCache struct {
	client setter
	closer func() error
	ttl    time.Duration
}

func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		Password:   password,
		DB:         db,
		MaxRetries: 3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisCache{client: client, closer: client.Close, ttl: ttl}, nil
}

func LatestKey(deviceID string) string {
	return fmt.Sprintf("wind:latest:%s", deviceID)
}

func (r *RedisCache) Name() string {
	return "redis"
}

func (r *RedisCache) Send(ctx context.Context, rep report.Report) error {
	b, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	return r.client.Set(ctx, LatestKey(rep.DeviceID), b, r.ttl).Err()
}

func (r *RedisCache) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
