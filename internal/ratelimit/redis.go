package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "ratelimit:"

// consumeScript increments the window counter, starts the window on the first
// hit and returns the count with the remaining window in milliseconds.
var consumeScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiter shares windows between replicas through Redis keys that expire
// with the window.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	clock  func() time.Time
}

// NewRedisLimiter connects to the Redis URL and verifies the connection.
func NewRedisLimiter(redisURL string) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisLimiterWithClient(client), nil
}

// NewRedisLimiterWithClient creates a limiter from an existing Redis client.
func NewRedisLimiterWithClient(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: defaultRedisPrefix,
		clock:  time.Now,
	}
}

func (l *RedisLimiter) CheckAndConsume(ctx context.Context, subject string, policy Policy) (Decision, error) {
	if err := policy.validate(); err != nil {
		return Decision{}, err
	}
	key := l.prefix + policy.key(subject)
	values, err := consumeScript.Run(ctx, l.client, []string{key}, policy.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("consume rate limit %s: %w", policy.Name, err)
	}
	if len(values) != 2 {
		return Decision{}, fmt.Errorf("consume rate limit %s: unexpected reply %v", policy.Name, values)
	}
	count := int(values[0])
	resetAt := l.clock().Add(time.Duration(values[1]) * time.Millisecond)

	if count > policy.MaxAttempts {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: policy.MaxAttempts - count, ResetAt: resetAt}, nil
}

// Close closes the Redis connection.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// Ping checks if Redis is reachable.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
