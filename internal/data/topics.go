package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/crestgen/annex/internal/domain/model"
)

// RedisTopics publishes fan-out notices on Redis pub/sub channels. Delivery is
// fire-and-forget; subscribers that are offline miss the notice, which is
// acceptable for the completion and thaw topics (both feed best-effort
// downstream consumers).
type RedisTopics struct {
	client          redis.UniversalClient
	completionTopic string
	logger          *slog.Logger
}

// NewRedisTopics creates a publisher bound to the given completion topic.
func NewRedisTopics(client redis.UniversalClient, completionTopic string, logger *slog.Logger) *RedisTopics {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisTopics{
		client:          client,
		completionTopic: completionTopic,
		logger:          logger.With("component", "redis_topics"),
	}
}

// Publish sends payload as JSON on the named topic.
func (t *RedisTopics) Publish(ctx context.Context, topic string, payload any) error {
	if topic == "" {
		return errors.New("topic cannot be empty")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal topic payload: %w", err)
	}
	if err := t.client.Publish(ctx, topic, body).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}

	t.logger.DebugContext(ctx, "published notice", "topic", topic)
	return nil
}

// PublishCompletion sends a job completion notice on the completion topic.
func (t *RedisTopics) PublishCompletion(ctx context.Context, notice model.CompletionNotice) error {
	if notice.JobID == "" {
		return errors.New("job id cannot be empty")
	}
	return t.Publish(ctx, t.completionTopic, notice)
}
