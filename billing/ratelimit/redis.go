// Copyright 2025 CreditGate
// SPDX-License-Identifier: BUSL-1.1

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"creditgate/platform/shared/logger"
)

// RedisLimiter is the durable cross-instance tier: a sliding window over a
// Redis sorted set of request timestamps. On Redis errors it fails open
// and logs a warning; admission control is not worth an outage.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	log    *logger.Logger
}

// NewRedisLimiter creates a Redis-backed limiter allowing limit requests
// per window
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		log:    logger.New("ratelimit"),
	}
}

// NewRedisLimiterFromURL parses a redis:// URL, connects and verifies the
// connection
func NewRedisLimiterFromURL(redisURL string, limit int, window time.Duration) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisLimiter(client, limit, window), nil
}

// Allow checks and counts one request using a sliding window
func (l *RedisLimiter) Allow(ctx context.Context, userID, endpoint string) (*Decision, error) {
	now := time.Now()
	key := fmt.Sprintf("ratelimit:%s:%s", userID, endpoint)

	// Pipeline keeps the window maintenance and count in one round trip
	pipe := l.client.Pipeline()

	minScore := now.Add(-l.window).UnixNano()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", minScore))
	pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, 2*l.window)

	cmds, err := pipe.Exec(ctx)
	if err != nil {
		// Fail open: the local tier still applies
		l.log.Warn(userID, "", "Redis rate limit check failed, failing open", map[string]interface{}{
			"endpoint": endpoint,
			"error":    err.Error(),
		})
		return &Decision{Allowed: true}, nil
	}

	count := cmds[1].(*redis.IntCmd).Val()
	if count >= int64(l.limit) {
		retryAfter := now.Truncate(l.window).Add(l.window).Sub(now)
		if retryAfter <= 0 {
			retryAfter = l.window
		}
		return &Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}

	return &Decision{Allowed: true}, nil
}

// Count returns the number of requests in the current window
func (l *RedisLimiter) Count(ctx context.Context, userID, endpoint string) (int, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", userID, endpoint)
	minScore := time.Now().Add(-l.window).UnixNano()

	count, err := l.client.ZCount(ctx, key, fmt.Sprintf("%d", minScore), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count requests: %w", err)
	}
	return int(count), nil
}

// Flush removes rate limit state for a user/endpoint (admin operation)
func (l *RedisLimiter) Flush(ctx context.Context, userID, endpoint string) error {
	key := fmt.Sprintf("ratelimit:%s:%s", userID, endpoint)
	if err := l.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to flush rate limit data: %w", err)
	}
	return nil
}

// Close releases the Redis connection
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
