package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/crestgen/annex/internal/core"
)

// queueEnvelope is the wire frame stored on the Redis lists. The raw envelope
// string doubles as the receipt handle and as the lease ZSET member, so every
// queue operation addresses the same value.
type queueEnvelope struct {
	ID         string          `json:"id"`
	Body       json.RawMessage `json:"body"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// RedisQueue implements the Queue port on Redis lists. Each named queue uses
// three keys: a pending list, an in-flight list, and a lease-deadline ZSET.
// Receive moves a message from pending to in-flight and records its lease
// deadline; Delete removes it from both. Messages whose lease expires are
// moved back to pending by RequeueExpired, which gives at-least-once delivery.
type RedisQueue struct {
	client       redis.UniversalClient
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewRedisQueue creates a RedisQueue on the given client.
func NewRedisQueue(client redis.UniversalClient, cfg RepoConfig) *RedisQueue {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{
		client:       client,
		timeProvider: tp,
		logger:       logger.With("component", "redis_queue"),
	}
}

func pendingKey(queue string) string  { return "annex:q:" + queue }
func inflightKey(queue string) string { return "annex:q:" + queue + ":inflight" }
func leasesKey(queue string) string   { return "annex:q:" + queue + ":leases" }

// requeueScript moves one in-flight envelope back to pending. The LREM guard
// means an envelope already deleted (or already requeued by a competing
// sweep) is not pushed twice.
var requeueScript = redis.NewScript(`
	if redis.call('LREM', KEYS[1], 1, ARGV[1]) > 0 then
		redis.call('LPUSH', KEYS[2], ARGV[1])
	end
	redis.call('ZREM', KEYS[3], ARGV[1])
	return 1
`)

// Send enqueues body as JSON on the named queue.
func (q *RedisQueue) Send(ctx context.Context, queue string, body any) error {
	if queue == "" {
		return errors.New("queue name cannot be empty")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal queue message: %w", err)
	}
	env, err := json.Marshal(queueEnvelope{
		ID:         uuid.NewString(),
		Body:       payload,
		EnqueuedAt: q.timeProvider.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal queue envelope: %w", err)
	}

	if err := q.client.LPush(ctx, pendingKey(queue), env).Err(); err != nil {
		return fmt.Errorf("redis lpush %s: %w", queue, err)
	}
	return nil
}

// Receive blocks for up to wait for a message, claiming it under a visibility
// lease. An empty queue returns (nil, nil).
func (q *RedisQueue) Receive(ctx context.Context, queue string, wait, lease time.Duration) (*core.Message, error) {
	if queue == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	raw, err := q.client.BLMove(ctx, pendingKey(queue), inflightKey(queue), "RIGHT", "LEFT", wait).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis blmove %s: %w", queue, err)
	}

	deadline := q.timeProvider.Now().Add(lease)
	if err := q.client.ZAdd(ctx, leasesKey(queue), redis.Z{
		Score:  float64(deadline.UnixMilli()),
		Member: raw,
	}).Err(); err != nil {
		return nil, fmt.Errorf("redis record lease %s: %w", queue, err)
	}

	var env queueEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// A frame we cannot even parse is unprocessable; drop it so it does
		// not cycle through the reaper forever.
		q.logger.ErrorContext(ctx, "dropping unparseable queue frame", "queue", queue, "error", err)
		if delErr := q.Delete(ctx, queue, raw); delErr != nil {
			return nil, delErr
		}
		return nil, nil
	}

	return &core.Message{ID: env.ID, Body: env.Body, Receipt: raw}, nil
}

// Delete acknowledges a received message. Deleting a message whose lease
// already expired and was requeued removes nothing and is not an error.
func (q *RedisQueue) Delete(ctx context.Context, queue, receipt string) error {
	if queue == "" {
		return errors.New("queue name cannot be empty")
	}
	if receipt == "" {
		return errors.New("receipt cannot be empty")
	}

	pipe := q.client.Pipeline()
	pipe.LRem(ctx, inflightKey(queue), 1, receipt)
	pipe.ZRem(ctx, leasesKey(queue), receipt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete message %s: %w", queue, err)
	}
	return nil
}

// RequeueExpired returns messages with expired leases to the pending list and
// reports how many were requeued. In-flight entries with no lease record are
// treated as expired too; they are left behind when a consumer dies between
// claiming a message and recording its lease.
func (q *RedisQueue) RequeueExpired(ctx context.Context, queue string, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}
	now := q.timeProvider.Now()

	expired, err := q.client.ZRangeByScore(ctx, leasesKey(queue), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(now.UnixMilli(), 10),
		Offset: 0,
		Count:  int64(batch),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis scan leases %s: %w", queue, err)
	}

	requeued := 0
	for _, raw := range expired {
		if err := q.requeue(ctx, queue, raw); err != nil {
			return requeued, err
		}
		requeued++
	}

	orphans, err := q.orphanedInflight(ctx, queue, batch)
	if err != nil {
		return requeued, err
	}
	for _, raw := range orphans {
		if err := q.requeue(ctx, queue, raw); err != nil {
			return requeued, err
		}
		requeued++
	}

	return requeued, nil
}

func (q *RedisQueue) requeue(ctx context.Context, queue, raw string) error {
	err := requeueScript.Run(ctx, q.client,
		[]string{inflightKey(queue), pendingKey(queue), leasesKey(queue)}, raw).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis requeue %s: %w", queue, err)
	}
	return nil
}

// orphanedInflight returns in-flight envelopes that have no lease record,
// oldest first.
func (q *RedisQueue) orphanedInflight(ctx context.Context, queue string, batch int) ([]string, error) {
	inflight, err := q.client.LRange(ctx, inflightKey(queue), int64(-batch), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis scan inflight %s: %w", queue, err)
	}
	if len(inflight) == 0 {
		return nil, nil
	}

	scores, err := q.client.ZMScore(ctx, leasesKey(queue), inflight...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis check leases %s: %w", queue, err)
	}

	var orphans []string
	for i, raw := range inflight {
		if i < len(scores) && scores[i] == 0 {
			orphans = append(orphans, raw)
		}
	}
	return orphans, nil
}

// QueueDepth reports the current sizes of one named queue.
type QueueDepth struct {
	Pending  int64
	Inflight int64
}

// Depth returns the pending and in-flight counts for the named queue.
func (q *RedisQueue) Depth(ctx context.Context, queue string) (QueueDepth, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, pendingKey(queue))
	inflight := pipe.LLen(ctx, inflightKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return QueueDepth{}, fmt.Errorf("redis queue depth %s: %w", queue, err)
	}
	return QueueDepth{Pending: pending.Val(), Inflight: inflight.Val()}, nil
}
