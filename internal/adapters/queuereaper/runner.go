// Package queuereaper provides the adapter that sweeps expired visibility
// leases back to pending, giving the queues their at-least-once redelivery.
package queuereaper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crestgen/annex/config"
	"github.com/crestgen/annex/internal/data"
	"github.com/crestgen/annex/internal/observability/metrics"
	"github.com/crestgen/annex/internal/observability/statsd"
)

// LeaseReaper is the queue surface the reaper needs. *data.RedisQueue
// implements it.
type LeaseReaper interface {
	RequeueExpired(ctx context.Context, queue string, batch int) (int, error)
	Depth(ctx context.Context, queue string) (data.QueueDepth, error)
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Redis   redis.UniversalClient
	Queues  config.QueueConfig
	Config  config.QueueReaperConfig
	Logger  *slog.Logger
	Metrics statsd.Sink

	// Optional dependency injection for testing/decoupling
	Queue LeaseReaper
}

// Runner periodically requeues expired in-flight messages on every work
// queue and reports queue depths.
type Runner struct {
	queue    LeaseReaper
	queues   []string
	interval time.Duration
	batch    int
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewRunner creates a queue reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	queue := opts.Queue
	if queue == nil {
		queue = data.NewRedisQueue(opts.Redis, data.RepoConfig{Logger: opts.Logger})
	}

	return &Runner{
		queue: queue,
		queues: []string{
			opts.Queues.SubmissionQueue,
			opts.Queues.ArchiveQueue,
			opts.Queues.RestoreQueue,
		},
		interval: opts.Config.Interval,
		batch:    opts.Config.BatchSize,
		logger:   opts.Logger.With("component", "queue_reaper"),
		metrics:  opts.Metrics,
	}, nil
}

// validateRunnerOptions validates and sets defaults for RunnerOptions.
func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.Redis == nil && opts.Queue == nil {
		return errors.New("either Redis or Queue must be provided")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Config.Sanitize()
	return nil
}

// Run sweeps at the configured interval until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting queue reaper",
		"interval", r.interval, "batch", r.batch, "queues", r.queues)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			r.sweepAll(ctx)
		}
	}
}

// SweepOnce runs one sweep across all queues and returns the total number of
// messages requeued. Used by Run on every tick and by the admin CLI.
func (r *Runner) SweepOnce(ctx context.Context) (int, error) {
	total := 0
	var firstErr error
	for _, queue := range r.queues {
		n, err := r.sweep(ctx, queue)
		total += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return total, firstErr
}

func (r *Runner) sweepAll(ctx context.Context) {
	for _, queue := range r.queues {
		if _, err := r.sweep(ctx, queue); err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "lease sweep failed", "queue", queue, "error", err)
		}
	}
}

func (r *Runner) sweep(ctx context.Context, queue string) (int, error) {
	started := time.Now()
	requeued, err := r.queue.RequeueExpired(ctx, queue, r.batch)

	result := metrics.ResultSuccess
	switch {
	case err != nil:
		result = metrics.ResultError
	case requeued == 0:
		result = metrics.ResultSkipped
	}
	metrics.EmitPipelineStage(r.metrics, metrics.StageMetric{
		Stage:    metrics.StageReap,
		Queue:    queue,
		Result:   result,
		Duration: time.Since(started),
		Err:      err,
	})
	if err != nil {
		return 0, err
	}

	if requeued > 0 {
		r.logger.InfoContext(ctx, "requeued expired messages", "queue", queue, "count", requeued)
	}
	r.reportDepth(ctx, queue)
	return requeued, nil
}

func (r *Runner) reportDepth(ctx context.Context, queue string) {
	if r.metrics == nil {
		return
	}
	depth, err := r.queue.Depth(ctx, queue)
	if err != nil {
		r.logger.WarnContext(ctx, "queue depth lookup failed", "queue", queue, "error", err)
		return
	}
	metrics.EmitQueueDepth(r.metrics, queue, depth.Pending, depth.Inflight)
}
