package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/crestgen/annex/config"
	"github.com/crestgen/annex/internal/core"
	"github.com/crestgen/annex/internal/domain/model"
	"github.com/crestgen/annex/internal/observability/metrics"
	"github.com/crestgen/annex/internal/observability/statsd"
)

// SubmissionServiceOptions groups dependencies for SubmissionService.
type SubmissionServiceOptions struct {
	Repo    core.JobRepository   // Required: job store
	Queue   core.Queue           // Required: submission queue
	Store   core.ObjectStore     // Required: hot object storage
	Driver  core.ExecutionDriver // Required: execution dispatch
	Queues  config.QueueConfig
	Storage config.StorageConfig
	Logger  *slog.Logger // Optional: structured logger
	Metrics statsd.Sink  // Optional: metrics sink
}

// SubmissionService consumes the submission queue: it stages the input
// object locally, claims the job with the PENDING to RUNNING compare-and-set,
// and dispatches execution. Duplicate deliveries lose the claim and are
// acknowledged without a second dispatch.
type SubmissionService struct {
	repo    core.JobRepository
	queue   core.Queue
	store   core.ObjectStore
	driver  core.ExecutionDriver
	queues  config.QueueConfig
	storage config.StorageConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewSubmissionService constructs a SubmissionService.
func NewSubmissionService(opts SubmissionServiceOptions) (*SubmissionService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("Queue is required")
	}
	if opts.Store == nil {
		return nil, errors.New("ObjectStore is required")
	}
	if opts.Driver == nil {
		return nil, errors.New("ExecutionDriver is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SubmissionService{
		repo:    opts.Repo,
		queue:   opts.Queue,
		store:   opts.Store,
		driver:  opts.Driver,
		queues:  opts.Queues,
		storage: opts.Storage,
		logger:  logger.With("component", "submission_service"),
		metrics: opts.Metrics,
	}, nil
}

// ProcessNext handles at most one submission message. It reports whether a
// message was received; an empty queue is (false, nil).
func (s *SubmissionService) ProcessNext(ctx context.Context) (bool, error) {
	msg, err := s.queue.Receive(ctx, s.queues.SubmissionQueue, s.queues.ReceiveWait, s.queues.VisibilityLease)
	if err != nil {
		return false, fmt.Errorf("receive submission: %w", err)
	}
	if msg == nil {
		return false, nil
	}

	started := time.Now()
	result, err := s.handle(ctx, msg)
	metrics.EmitPipelineStage(s.metrics, metrics.StageMetric{
		Stage:    metrics.StageSubmission,
		Queue:    s.queues.SubmissionQueue,
		Result:   result,
		Duration: time.Since(started),
		Err:      err,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "submission handling failed", "message_id", msg.ID, "error", err)
	}
	return true, nil
}

func (s *SubmissionService) handle(ctx context.Context, msg *core.Message) (string, error) {
	var sub model.SubmissionMessage
	if err := json.Unmarshal(msg.Body, &sub); err != nil {
		// Malformed payloads are left for redelivery rather than guessed at.
		s.logger.WarnContext(ctx, "malformed submission message left for redelivery",
			"message_id", msg.ID, "error", err)
		return metrics.ResultError, nil
	}
	if err := sub.Validate(); err != nil {
		s.logger.WarnContext(ctx, "invalid submission message left for redelivery",
			"message_id", msg.ID, "job_id", sub.JobID, "error", err)
		return metrics.ResultError, nil
	}

	inputPath, err := s.stageInput(ctx, sub)
	if err != nil {
		return metrics.ResultError, fmt.Errorf("stage input for job %s: %w", sub.JobID, err)
	}

	_, err = s.repo.Transition(ctx, sub.JobID, model.JobStatusPending, model.JobStatusRunning, nil)
	if err != nil {
		if errors.Is(err, model.ErrPreconditionFailed) {
			// Another delivery of this message already claimed the job.
			s.logger.InfoContext(ctx, "job already claimed, acknowledging duplicate",
				"job_id", sub.JobID)
			s.removeStaged(ctx, inputPath)
			if delErr := s.queue.Delete(ctx, s.queues.SubmissionQueue, msg.Receipt); delErr != nil {
				return metrics.ResultError, delErr
			}
			return metrics.ResultSkipped, nil
		}
		s.removeStaged(ctx, inputPath)
		return metrics.ResultError, fmt.Errorf("claim job %s: %w", sub.JobID, err)
	}

	task := model.ExecutionTask{
		JobID:         sub.JobID,
		UserID:        sub.UserID,
		UserEmail:     sub.UserEmail,
		InputFileName: sub.InputFileName,
		InputPath:     inputPath,
	}
	if err := s.driver.Start(ctx, task); err != nil {
		// The claim already happened, so redelivery will fail its own claim
		// and acknowledge; nothing to roll back here.
		return metrics.ResultError, fmt.Errorf("dispatch execution for job %s: %w", sub.JobID, err)
	}

	if err := s.queue.Delete(ctx, s.queues.SubmissionQueue, msg.Receipt); err != nil {
		return metrics.ResultError, fmt.Errorf("acknowledge submission for job %s: %w", sub.JobID, err)
	}

	s.logger.InfoContext(ctx, "job dispatched", "job_id", sub.JobID, "user_id", sub.UserID)
	return metrics.ResultSuccess, nil
}

// stageInput copies the input object into a per-job staging directory and
// returns the local path.
func (s *SubmissionService) stageInput(ctx context.Context, sub model.SubmissionMessage) (string, error) {
	body, err := s.store.Get(ctx, sub.InputsBucket, sub.InputKey)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	dir := filepath.Join(s.storage.StagingDir, sub.JobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}

	path := filepath.Join(dir, sub.InputFileName)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create staged input: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write staged input: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close staged input: %w", err)
	}
	return path, nil
}

func (s *SubmissionService) removeStaged(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := os.RemoveAll(filepath.Dir(path)); err != nil {
		s.logger.WarnContext(ctx, "staging cleanup failed", "path", path, "error", err)
	}
}
