package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCapacityGate implements the CapacityGate port with a fixed-window
// counter per scope. The window key carries the window start, so counters
// roll over naturally and expire on their own.
type RedisCapacityGate struct {
	client       redis.UniversalClient
	timeProvider TimeProvider
}

// NewRedisCapacityGate creates a RedisCapacityGate on the given client.
func NewRedisCapacityGate(client redis.UniversalClient, cfg RepoConfig) *RedisCapacityGate {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &RedisCapacityGate{client: client, timeProvider: tp}
}

// Admit counts one admission attempt against the scope's current window and
// reports whether it fits under the limit. Rejected attempts are counted too;
// the window is about attempts, not successes.
func (g *RedisCapacityGate) Admit(ctx context.Context, scope string, limit int, window time.Duration) (bool, error) {
	if scope == "" {
		return false, errors.New("scope cannot be empty")
	}
	if limit <= 0 {
		return false, nil
	}
	if window <= 0 {
		window = time.Minute
	}

	windowStart := g.timeProvider.Now().Truncate(window)
	key := fmt.Sprintf("annex:capacity:%s:%d", scope, windowStart.UnixMilli())

	pipe := g.client.Pipeline()
	count := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis capacity window %s: %w", scope, err)
	}

	return count.Val() <= int64(limit), nil
}
