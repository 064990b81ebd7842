package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/crestgen/annex/config"
	"github.com/crestgen/annex/internal/core"
	"github.com/crestgen/annex/internal/domain/model"
	obserrors "github.com/crestgen/annex/internal/observability/errors"
	"github.com/crestgen/annex/internal/observability/metrics"
	"github.com/crestgen/annex/internal/observability/notify"
	"github.com/crestgen/annex/internal/observability/statsd"
	"github.com/crestgen/annex/internal/service/failurenotifier"
)

// CompletionServiceOptions groups dependencies for CompletionService.
type CompletionServiceOptions struct {
	Repo      core.JobRepository       // Required: job store
	Store     core.ObjectStore         // Required: hot object storage
	Queue     core.Queue               // Required: archive queue
	Publisher core.CompletionPublisher // Required: completion topic
	Profiles  core.ProfileDirectory    // Required: tier lookup
	Notifier  *failurenotifier.Service // Optional: fatal-failure notifications
	Queues    config.QueueConfig
	Storage   config.StorageConfig
	Logger    *slog.Logger // Optional: structured logger
	Metrics   statsd.Sink  // Optional: metrics sink
}

// CompletionService persists a finished execution: it uploads the result and
// log artifacts, makes the RUNNING to COMPLETED transition with all side
// fields in one record write, announces the completion, and routes free-tier
// results toward archival.
type CompletionService struct {
	repo      core.JobRepository
	store     core.ObjectStore
	queue     core.Queue
	publisher core.CompletionPublisher
	profiles  core.ProfileDirectory
	notifier  *failurenotifier.Service
	queues    config.QueueConfig
	storage   config.StorageConfig
	logger    *slog.Logger
	metrics   statsd.Sink
	now       func() time.Time
}

// NewCompletionService constructs a CompletionService.
func NewCompletionService(opts CompletionServiceOptions) (*CompletionService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Store == nil {
		return nil, errors.New("ObjectStore is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("Queue is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("CompletionPublisher is required")
	}
	if opts.Profiles == nil {
		return nil, errors.New("ProfileDirectory is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CompletionService{
		repo:      opts.Repo,
		store:     opts.Store,
		queue:     opts.Queue,
		publisher: opts.Publisher,
		profiles:  opts.Profiles,
		notifier:  opts.Notifier,
		queues:    opts.Queues,
		storage:   opts.Storage,
		logger:    logger.With("component", "completion_service"),
		metrics:   opts.Metrics,
		now:       time.Now,
	}, nil
}

// HandleResult persists one finished execution. Failing to record the
// COMPLETED transition is fatal: the error is returned after notifying the
// failure sinks, and the artifacts stay staged for operator recovery.
func (c *CompletionService) HandleResult(ctx context.Context, res model.ExecutionResult) error {
	started := time.Now()
	err := c.handle(ctx, res)

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.EmitPipelineStage(c.metrics, metrics.StageMetric{
		Stage:    metrics.StageCompletion,
		Result:   result,
		Duration: time.Since(started),
		Err:      err,
	})
	return err
}

func (c *CompletionService) handle(ctx context.Context, res model.ExecutionResult) error {
	if err := res.Validate(); err != nil {
		return fmt.Errorf("invalid execution result: %w", err)
	}

	resultKey := ArtifactKey(c.storage.KeyPrefix, res.UserID, res.JobID, filepath.Base(res.ResultPath))
	logKey := ArtifactKey(c.storage.KeyPrefix, res.UserID, res.JobID, filepath.Base(res.LogPath))

	if err := c.uploadArtifact(ctx, resultKey, res.ResultPath); err != nil {
		return fmt.Errorf("upload result for job %s: %w", res.JobID, err)
	}
	if err := c.uploadArtifact(ctx, logKey, res.LogPath); err != nil {
		return fmt.Errorf("upload log for job %s: %w", res.JobID, err)
	}

	job, err := c.repo.Transition(ctx, res.JobID, model.JobStatusRunning, model.JobStatusCompleted,
		&model.CompletionFields{
			CompleteTime: c.now().UTC(),
			ResultKey:    resultKey,
			LogKey:       logKey,
		})
	if err != nil {
		c.notifyPersistFailure(ctx, res, err)
		return fmt.Errorf("persist completed record for job %s: %w", res.JobID, err)
	}

	if err := c.publisher.PublishCompletion(ctx, model.CompletionNotice{
		JobID: job.ID,
		Email: job.UserEmail,
	}); err != nil {
		// The record is already durable; the notice is best effort.
		c.logger.WarnContext(ctx, "completion notice publish failed",
			"job_id", job.ID, "error", err)
	}

	c.routeToArchive(ctx, job, resultKey)
	c.cleanupStaging(ctx, res)

	c.logger.InfoContext(ctx, "job completed",
		"job_id", job.ID, "user_id", job.UserID, "result_key", resultKey)
	return nil
}

// routeToArchive enqueues an archive request when the owner is on the free
// tier. An unknown tier or a failed lookup keeps the result hot; archival is
// revenue protection, not correctness.
func (c *CompletionService) routeToArchive(ctx context.Context, job *model.Job, resultKey string) {
	profile, err := c.profiles.GetProfile(ctx, job.UserID)
	if err != nil {
		c.logger.WarnContext(ctx, "profile lookup failed, skipping archive routing",
			"job_id", job.ID, "user_id", job.UserID, "error", err)
		return
	}
	if profile.Tier != model.TierFree {
		return
	}

	req := model.ArchiveRequest{
		UserID:    job.UserID,
		JobID:     job.ID,
		ResultKey: resultKey,
	}
	if err := c.queue.Send(ctx, c.queues.ArchiveQueue, req); err != nil {
		c.logger.WarnContext(ctx, "archive request enqueue failed",
			"job_id", job.ID, "error", err)
		return
	}
	c.logger.InfoContext(ctx, "archive requested", "job_id", job.ID, "user_id", job.UserID)
}

func (c *CompletionService) uploadArtifact(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()
	return c.store.Put(ctx, c.storage.ResultsBucket, key, f)
}

func (c *CompletionService) notifyPersistFailure(ctx context.Context, res model.ExecutionResult, err error) {
	if c.notifier == nil || !c.notifier.Enabled() {
		return
	}
	c.notifier.NotifyFailure(ctx, notify.PipelineFailurePayload{
		JobID:      res.JobID,
		UserID:     res.UserID,
		Stage:      metrics.StageCompletion,
		Service:    "annotator",
		Error:      err.Error(),
		ErrorClass: obserrors.Classify(err),
		OccurredAt: c.now().UTC(),
	})
}

// cleanupStaging removes the per-job staging directory. Best effort only; a
// leftover directory costs disk, not correctness.
func (c *CompletionService) cleanupStaging(ctx context.Context, res model.ExecutionResult) {
	dir := filepath.Dir(res.ResultPath)
	if res.InputPath != "" {
		dir = filepath.Dir(res.InputPath)
	}
	if dir == "" || dir == "." || dir == string(filepath.Separator) {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		c.logger.WarnContext(ctx, "staging cleanup failed",
			"job_id", res.JobID, "dir", dir, "error", err)
	}
}
