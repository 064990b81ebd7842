package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crestgen/annex/config"
	"github.com/crestgen/annex/internal/core"
	"github.com/crestgen/annex/internal/domain/model"
	apperrors "github.com/crestgen/annex/internal/errors"
	"github.com/crestgen/annex/internal/observability/metrics"
	"github.com/crestgen/annex/internal/observability/statsd"
)

// RestoreServiceOptions groups dependencies for RestoreService.
type RestoreServiceOptions struct {
	Repo     core.JobRepository    // Required: job store
	Queue    core.Queue            // Required: restore queue
	Vault    core.Vault            // Required: retrieval initiation
	Profiles core.ProfileDirectory // Required: tier check
	Queues   config.QueueConfig
	Logger   *slog.Logger // Optional: structured logger
	Metrics  statsd.Sink  // Optional: metrics sink
}

// RestoreService consumes the restore queue. For a premium user it initiates
// a vault retrieval for every archived result, trying the expedited tier
// first and falling back to standard exactly once when expedited capacity is
// exhausted. Non-premium requests are acknowledged without retrievals.
type RestoreService struct {
	repo     core.JobRepository
	queue    core.Queue
	vault    core.Vault
	profiles core.ProfileDirectory
	queues   config.QueueConfig
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewRestoreService constructs a RestoreService.
func NewRestoreService(opts RestoreServiceOptions) (*RestoreService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("Queue is required")
	}
	if opts.Vault == nil {
		return nil, errors.New("Vault is required")
	}
	if opts.Profiles == nil {
		return nil, errors.New("ProfileDirectory is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RestoreService{
		repo:     opts.Repo,
		queue:    opts.Queue,
		vault:    opts.Vault,
		profiles: opts.Profiles,
		queues:   opts.Queues,
		logger:   logger.With("component", "restore_service"),
		metrics:  opts.Metrics,
	}, nil
}

// ProcessNext handles at most one restore request. It reports whether a
// message was received; an empty queue is (false, nil).
func (r *RestoreService) ProcessNext(ctx context.Context) (bool, error) {
	msg, err := r.queue.Receive(ctx, r.queues.RestoreQueue, r.queues.ReceiveWait, r.queues.VisibilityLease)
	if err != nil {
		return false, fmt.Errorf("receive restore request: %w", err)
	}
	if msg == nil {
		return false, nil
	}

	started := time.Now()
	result, err := r.handle(ctx, msg)
	metrics.EmitPipelineStage(r.metrics, metrics.StageMetric{
		Stage:    metrics.StageRestore,
		Queue:    r.queues.RestoreQueue,
		Result:   result,
		Duration: time.Since(started),
		Err:      err,
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "restore handling failed, leaving for redelivery",
			"message_id", msg.ID, "error", err)
	}
	return true, nil
}

func (r *RestoreService) handle(ctx context.Context, msg *core.Message) (string, error) {
	var req model.RestoreRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		r.logger.ErrorContext(ctx, "discarding malformed restore request",
			"message_id", msg.ID, "error", err)
		return r.ack(ctx, msg, metrics.ResultError)
	}
	if req.UserID == "" {
		r.logger.ErrorContext(ctx, "discarding restore request without user id",
			"message_id", msg.ID)
		return r.ack(ctx, msg, metrics.ResultError)
	}

	profile, err := r.profiles.GetProfile(ctx, req.UserID)
	if err != nil {
		return metrics.ResultError, fmt.Errorf("profile lookup for user %s: %w", req.UserID, err)
	}

	switch profile.Tier {
	case model.TierPremium:
		// fall through to retrieval
	case model.TierFree:
		// Free users have nothing to restore to; their results belong in the
		// vault. Acknowledge and move on.
		r.logger.InfoContext(ctx, "restore requested by free tier user, ignoring",
			"user_id", req.UserID)
		return r.ack(ctx, msg, metrics.ResultSkipped)
	default:
		r.logger.ErrorContext(ctx, "restore requested for unknown tier, discarding",
			"user_id", req.UserID, "tier", profile.Tier)
		return r.ack(ctx, msg, metrics.ResultError)
	}

	jobs, err := r.repo.ListArchivedByUser(ctx, req.UserID)
	if err != nil {
		return metrics.ResultError, fmt.Errorf("list archived jobs for user %s: %w", req.UserID, err)
	}

	for _, job := range jobs {
		if err := r.initiate(ctx, job); err != nil {
			// Redelivery retries the whole batch; duplicate retrievals of the
			// already-submitted archives are harmless.
			return metrics.ResultError, err
		}
	}

	r.logger.InfoContext(ctx, "restore retrievals submitted",
		"user_id", req.UserID, "count", len(jobs))
	return r.ack(ctx, msg, metrics.ResultSuccess)
}

// initiate requests one archive retrieval, escalating Expedited to Standard
// exactly once on capacity exhaustion.
func (r *RestoreService) initiate(ctx context.Context, job *model.Job) error {
	if job.ArchiveID == nil || *job.ArchiveID == "" {
		r.logger.WarnContext(ctx, "archived job without archive id, skipping", "job_id", job.ID)
		return nil
	}
	archiveID := *job.ArchiveID

	tier := model.TierExpedited
	retrieval, err := r.vault.InitiateRetrieval(ctx, archiveID, tier)
	if err != nil && apperrors.IsCapacity(err) {
		fallback, ok := tier.Fallback()
		if !ok {
			return fmt.Errorf("retrieval capacity exhausted for job %s with no fallback tier", job.ID)
		}
		r.logger.InfoContext(ctx, "expedited capacity exhausted, falling back",
			"job_id", job.ID, "tier", fallback)
		tier = fallback
		retrieval, err = r.vault.InitiateRetrieval(ctx, archiveID, tier)
	}
	if err != nil {
		if apperrors.IsNotFound(err) {
			r.logger.ErrorContext(ctx, "archive missing from vault, skipping job",
				"job_id", job.ID, "archive_id", archiveID)
			return nil
		}
		return fmt.Errorf("initiate retrieval for job %s: %w", job.ID, err)
	}

	r.logger.InfoContext(ctx, "retrieval initiated",
		"job_id", job.ID, "archive_id", archiveID, "tier", tier, "retrieval_id", retrieval.ID)
	return nil
}

func (r *RestoreService) ack(ctx context.Context, msg *core.Message, result string) (string, error) {
	if err := r.queue.Delete(ctx, r.queues.RestoreQueue, msg.Receipt); err != nil {
		return metrics.ResultError, fmt.Errorf("acknowledge restore request: %w", err)
	}
	return result, nil
}
