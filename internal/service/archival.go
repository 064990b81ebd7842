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

// ArchivalServiceOptions groups dependencies for ArchivalService.
type ArchivalServiceOptions struct {
	Repo     core.JobRepository    // Required: job store
	Queue    core.Queue            // Required: archive queue
	Store    core.ObjectStore      // Required: hot object storage
	Vault    core.Vault            // Required: cold archive
	Profiles core.ProfileDirectory // Required: tier re-check
	Queues   config.QueueConfig
	Storage  config.StorageConfig
	Logger   *slog.Logger // Optional: structured logger
	Metrics  statsd.Sink  // Optional: metrics sink
}

// ArchivalService consumes the archive queue and moves free-tier results from
// hot storage to the cold vault. The ordering is fixed: vault upload, record
// update, hot-object delete, message delete. A crash at any point leaves a
// state that redelivery converges from; the worst case is an orphaned vault
// copy, never a lost result.
type ArchivalService struct {
	repo     core.JobRepository
	queue    core.Queue
	store    core.ObjectStore
	vault    core.Vault
	profiles core.ProfileDirectory
	queues   config.QueueConfig
	storage  config.StorageConfig
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewArchivalService constructs an ArchivalService.
func NewArchivalService(opts ArchivalServiceOptions) (*ArchivalService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("Queue is required")
	}
	if opts.Store == nil {
		return nil, errors.New("ObjectStore is required")
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
	return &ArchivalService{
		repo:     opts.Repo,
		queue:    opts.Queue,
		store:    opts.Store,
		vault:    opts.Vault,
		profiles: opts.Profiles,
		queues:   opts.Queues,
		storage:  opts.Storage,
		logger:   logger.With("component", "archival_service"),
		metrics:  opts.Metrics,
	}, nil
}

// ProcessNext handles at most one archive request. It reports whether a
// message was received; an empty queue is (false, nil).
func (a *ArchivalService) ProcessNext(ctx context.Context) (bool, error) {
	msg, err := a.queue.Receive(ctx, a.queues.ArchiveQueue, a.queues.ReceiveWait, a.queues.VisibilityLease)
	if err != nil {
		return false, fmt.Errorf("receive archive request: %w", err)
	}
	if msg == nil {
		return false, nil
	}

	started := time.Now()
	result, err := a.handle(ctx, msg)
	metrics.EmitPipelineStage(a.metrics, metrics.StageMetric{
		Stage:    metrics.StageArchive,
		Queue:    a.queues.ArchiveQueue,
		Result:   result,
		Duration: time.Since(started),
		Err:      err,
	})
	if err != nil {
		a.logger.ErrorContext(ctx, "archive handling failed, leaving for redelivery",
			"message_id", msg.ID, "error", err)
	}
	return true, nil
}

func (a *ArchivalService) handle(ctx context.Context, msg *core.Message) (string, error) {
	var req model.ArchiveRequest
	if err := json.Unmarshal(msg.Body, &req); err != nil {
		// Archive requests are produced internally; a frame that does not
		// parse is a poison message, not transient noise.
		a.logger.ErrorContext(ctx, "discarding malformed archive request",
			"message_id", msg.ID, "error", err)
		return a.ack(ctx, msg, metrics.ResultError)
	}
	if req.JobID == "" || req.UserID == "" || req.ResultKey == "" {
		a.logger.ErrorContext(ctx, "discarding incomplete archive request",
			"message_id", msg.ID, "job_id", req.JobID)
		return a.ack(ctx, msg, metrics.ResultError)
	}

	// The tier may have changed since completion routed this request; an
	// upgraded user keeps the result hot.
	profile, err := a.profiles.GetProfile(ctx, req.UserID)
	if err != nil {
		return metrics.ResultError, fmt.Errorf("re-check tier for user %s: %w", req.UserID, err)
	}
	if profile.Tier == model.TierPremium {
		a.logger.InfoContext(ctx, "user upgraded to premium, skipping archive",
			"job_id", req.JobID, "user_id", req.UserID)
		return a.ack(ctx, msg, metrics.ResultSkipped)
	}

	body, err := a.store.Get(ctx, a.storage.ResultsBucket, req.ResultKey)
	if err != nil {
		if apperrors.IsNotFound(err) {
			// Nothing to archive and nothing redelivery could find either.
			a.logger.ErrorContext(ctx, "hot result object missing, discarding archive request",
				"job_id", req.JobID, "result_key", req.ResultKey)
			return a.ack(ctx, msg, metrics.ResultError)
		}
		return metrics.ResultError, fmt.Errorf("fetch hot result for job %s: %w", req.JobID, err)
	}

	archiveID, err := a.vault.Upload(ctx, body)
	_ = body.Close()
	if err != nil {
		return metrics.ResultError, fmt.Errorf("vault upload for job %s: %w", req.JobID, err)
	}

	if err := a.repo.MarkArchived(ctx, req.JobID, archiveID); err != nil {
		switch {
		case errors.Is(err, model.ErrPreconditionFailed):
			// A previous delivery already recorded an archive id. The copy
			// uploaded just now is orphaned; the recorded one wins.
			a.logger.WarnContext(ctx, "job already archived, acknowledging duplicate",
				"job_id", req.JobID, "orphaned_archive_id", archiveID)
		case apperrors.IsNotFound(err):
			a.logger.ErrorContext(ctx, "job record missing, discarding archive request",
				"job_id", req.JobID)
			return a.ack(ctx, msg, metrics.ResultError)
		default:
			return metrics.ResultError, fmt.Errorf("mark job %s archived: %w", req.JobID, err)
		}
	}

	// Hot delete strictly after the record update: a crash between the two
	// leaves a stale hot copy, never a record pointing at nothing.
	if err := a.store.Delete(ctx, a.storage.ResultsBucket, req.ResultKey); err != nil {
		return metrics.ResultError, fmt.Errorf("delete hot result for job %s: %w", req.JobID, err)
	}

	a.logger.InfoContext(ctx, "job archived",
		"job_id", req.JobID, "user_id", req.UserID, "archive_id", archiveID)
	return a.ack(ctx, msg, metrics.ResultSuccess)
}

func (a *ArchivalService) ack(ctx context.Context, msg *core.Message, result string) (string, error) {
	if err := a.queue.Delete(ctx, a.queues.ArchiveQueue, msg.Receipt); err != nil {
		return metrics.ResultError, fmt.Errorf("acknowledge archive request: %w", err)
	}
	return result, nil
}
