package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// AttemptLimiter throttles failed password logins per username.
type AttemptLimiter interface {
	// Check returns ErrTooManyAttempts once the failure budget is spent.
	Check(ctx context.Context, username string) error
	Fail(ctx context.Context, username string) error
	Reset(ctx context.Context, username string) error
}

// RedisLimiter counts failures with INCR and lets the key expire after the
// window that started with the first failure.
type RedisLimiter struct {
	client *redis.Client
	max    int64
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, max int64, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, max: max, window: window}
}

func attemptKey(username string) string {
	return fmt.Sprintf("login_attempts:%s", strings.ToLower(username))
}

func (l *RedisLimiter) Check(ctx context.Context, username string) error {
	n, err := l.client.Get(ctx, attemptKey(username)).Int64()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read login attempts: %w", err)
	}
	if n >= l.max {
		return ErrTooManyAttempts
	}
	return nil
}

func (l *RedisLimiter) Fail(ctx context.Context, username string) error {
	key := attemptKey(username)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("count login attempt: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("expire login attempts: %w", err)
		}
	}
	return nil
}

func (l *RedisLimiter) Reset(ctx context.Context, username string) error {
	return l.client.Del(ctx, attemptKey(username)).Err()
}

// NoopLimiter is used when no redis is configured.
type NoopLimiter struct{}

func (NoopLimiter) Check(context.Context, string) error { return nil }
func (NoopLimiter) Fail(context.Context, string) error  { return nil }
func (NoopLimiter) Reset(context.Context, string) error { return nil }
