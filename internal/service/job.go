// Package service implements the pipeline's use cases on top of the core
// ports: submission intake, completion persistence, archival, and restore.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/crestgen/annex/config"
	"github.com/crestgen/annex/internal/core"
	"github.com/crestgen/annex/internal/domain/model"
	apperrors "github.com/crestgen/annex/internal/errors"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo    core.JobRepository // Required: job store
	Queue   core.Queue         // Required: work queues
	Store   core.ObjectStore   // Required: hot object storage
	Queues  config.QueueConfig
	Storage config.StorageConfig
	Logger  *slog.Logger // Optional: structured logger
}

// JobService provides the operator-facing job operations: submission, lookup,
// presigned result access, and restore requests. The worker services consume
// what it enqueues.
type JobService struct {
	repo    core.JobRepository
	queue   core.Queue
	store   core.ObjectStore
	queues  config.QueueConfig
	storage config.StorageConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewJobService constructs a JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("Queue is required")
	}
	if opts.Store == nil {
		return nil, errors.New("ObjectStore is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobService{
		repo:    opts.Repo,
		queue:   opts.Queue,
		store:   opts.Store,
		queues:  opts.Queues,
		storage: opts.Storage,
		logger:  logger.With("component", "job_service"),
		now:     time.Now,
	}, nil
}

// SubmitParams describes one new annotation job.
type SubmitParams struct {
	UserID        string
	UserEmail     string
	InputFileName string
	Input         io.Reader
}

// ArtifactKey builds the per-user object key for an uploaded artifact.
// The job id joins the prefix so concurrent uploads of same-named files
// never collide.
func ArtifactKey(prefix, userID, jobID, fileName string) string {
	return prefix + userID + "/" + jobID + "~" + fileName
}

// Submit uploads the input object, creates the PENDING job record, and
// enqueues the submission message that the annotator workers consume.
func (s *JobService) Submit(ctx context.Context, params SubmitParams) (*model.Job, error) {
	if params.UserID == "" {
		return nil, apperrors.Validation("user id is required")
	}
	if params.InputFileName == "" {
		return nil, apperrors.Validation("input file name is required")
	}
	if params.Input == nil {
		return nil, apperrors.Validation("input body is required")
	}

	jobID := uuid.NewString()
	inputKey := ArtifactKey(s.storage.KeyPrefix, params.UserID, jobID, params.InputFileName)

	if err := s.store.Put(ctx, s.storage.InputsBucket, inputKey, params.Input); err != nil {
		return nil, fmt.Errorf("upload input object: %w", err)
	}

	job := &model.Job{
		ID:            jobID,
		UserID:        params.UserID,
		UserEmail:     params.UserEmail,
		InputFileName: params.InputFileName,
		InputsBucket:  s.storage.InputsBucket,
		ResultsBucket: s.storage.ResultsBucket,
		InputKey:      inputKey,
		Status:        model.JobStatusPending,
		SubmitTime:    s.now().UTC(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, err
	}

	msg := model.SubmissionMessage{
		JobID:         job.ID,
		UserID:        job.UserID,
		UserEmail:     job.UserEmail,
		InputsBucket:  job.InputsBucket,
		InputKey:      job.InputKey,
		InputFileName: job.InputFileName,
	}
	if err := s.queue.Send(ctx, s.queues.SubmissionQueue, msg); err != nil {
		return nil, fmt.Errorf("enqueue submission: %w", err)
	}

	s.logger.InfoContext(ctx, "job submitted", "job_id", job.ID, "user_id", job.UserID)
	return job, nil
}

// Get returns the current job record.
func (s *JobService) Get(ctx context.Context, id string) (*model.Job, error) {
	if id == "" {
		return nil, apperrors.Validation("job id is required")
	}
	return s.repo.GetByID(ctx, id)
}

// List returns all of the user's jobs, newest first.
func (s *JobService) List(ctx context.Context, userID string) ([]*model.Job, error) {
	if userID == "" {
		return nil, apperrors.Validation("user id is required")
	}
	return s.repo.ListByUser(ctx, userID)
}

// ListArchived returns the user's jobs whose results live in the cold vault.
func (s *JobService) ListArchived(ctx context.Context, userID string) ([]*model.Job, error) {
	if userID == "" {
		return nil, apperrors.Validation("user id is required")
	}
	return s.repo.ListArchivedByUser(ctx, userID)
}

// RequestRestore enqueues a restore request covering all of the user's
// archived results.
func (s *JobService) RequestRestore(ctx context.Context, userID string) error {
	if userID == "" {
		return apperrors.Validation("user id is required")
	}
	if err := s.queue.Send(ctx, s.queues.RestoreQueue, model.RestoreRequest{UserID: userID}); err != nil {
		return fmt.Errorf("enqueue restore request: %w", err)
	}
	s.logger.InfoContext(ctx, "restore requested", "user_id", userID)
	return nil
}

// PresignResult issues a signed retrieval URL for a completed job's result.
// An archived result cannot be presigned until it has been restored.
func (s *JobService) PresignResult(ctx context.Context, id string) (string, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if job.Status != model.JobStatusCompleted {
		return "", apperrors.Precondition(fmt.Sprintf("job %q is %s, not COMPLETED", id, job.Status))
	}
	if job.ResultKey == nil {
		if job.Archived() {
			return "", apperrors.Precondition(fmt.Sprintf("job %q result is archived; request a restore first", id))
		}
		return "", apperrors.Internalf("job %q has no result key", id)
	}
	return s.store.Presign(job.ResultsBucket, *job.ResultKey, s.storage.PresignTTL)
}
