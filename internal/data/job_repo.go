// Package data implements the repository ports on Postgres and Redis.
package data

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	apperrors "github.com/crestgen/annex/internal/errors"

	"github.com/crestgen/annex/internal/domain/model"
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for the job store. All status changes
// go through Transition's compare-and-set; there is no unconditional status
// write.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  job_id,
  user_id,
  user_email,
  input_file_name,
  s3_inputs_bucket,
  s3_results_bucket,
  s3_key_input_file,
  s3_key_result_file,
  s3_key_log_file,
  results_file_archive_id,
  job_status,
  submit_time,
  complete_time
`

// Create inserts a new PENDING job. A duplicate job_id maps to a Conflict error.
func (r *JobRepo) Create(ctx context.Context, job *model.Job) error {
	if job == nil {
		return apperrors.Validation("job is required")
	}
	if job.SubmitTime.IsZero() {
		job.SubmitTime = r.timeProvider.Now()
	}
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	if err := job.Validate(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job")
	}
	if job.Status != model.JobStatusPending {
		return apperrors.Validationf("new jobs must be %s, got %s", model.JobStatusPending, job.Status)
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO jobs (
			job_id, user_id, user_email, input_file_name,
			s3_inputs_bucket, s3_results_bucket, s3_key_input_file,
			job_status, submit_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.UserID, job.UserEmail, job.InputFileName,
		job.InputsBucket, job.ResultsBucket, job.InputKey,
		job.Status, job.SubmitTime,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", apperrors.MapDBError(err))
	}
	return nil
}

// GetByID returns the current job record, or a NotFound error.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, id)

	job, err := scanJob(row)
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsNotFound(mapped) {
			return nil, apperrors.NotFoundf("job %q not found", id)
		}
		return nil, fmt.Errorf("get job: %w", mapped)
	}
	return job, nil
}

// Transition performs the atomic compare-and-set status change. Side fields
// for the COMPLETED transition are written in the same statement, so a
// partially transitioned record is never observable. When the stored status
// no longer equals from, it returns model.ErrPreconditionFailed; the caller
// decides whether that means "already done" (duplicate delivery) or a bug.
func (r *JobRepo) Transition(
	ctx context.Context,
	id string,
	from, to model.JobStatus,
	completion *model.CompletionFields,
) (*model.Job, error) {
	if next, ok := from.Next(); !ok || next != to {
		return nil, apperrors.Validationf("illegal transition %s -> %s", from, to)
	}
	if to == model.JobStatusCompleted {
		if completion == nil {
			return nil, apperrors.Validation("completion fields are required for the COMPLETED transition")
		}
		if err := completion.Validate(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid completion fields")
		}
	} else if completion != nil {
		return nil, apperrors.Validationf("completion fields are only set on the %s transition", model.JobStatusCompleted)
	}

	var row *sql.Row
	if to == model.JobStatusCompleted {
		row = r.DB.QueryRowContext(ctx, `
			UPDATE jobs
			SET job_status = $3,
			    complete_time = $4,
			    s3_key_result_file = $5,
			    s3_key_log_file = $6
			WHERE job_id = $1 AND job_status = $2
			RETURNING `+jobColumns,
			id, from, to, completion.CompleteTime, completion.ResultKey, completion.LogKey)
	} else {
		row = r.DB.QueryRowContext(ctx, `
			UPDATE jobs
			SET job_status = $3
			WHERE job_id = $1 AND job_status = $2
			RETURNING `+jobColumns,
			id, from, to)
	}

	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}

	mapped := apperrors.MapDBError(err)
	if !apperrors.IsNotFound(mapped) {
		return nil, fmt.Errorf("transition job: %w", mapped)
	}

	// Zero rows: either the job does not exist or its status moved on.
	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("job %q is %s, expected %s: %w",
		id, current.Status, from, model.ErrPreconditionFailed)
}

// MarkArchived records that the job's result now lives in the cold vault: it
// sets the archive id and clears the hot result key in one record write,
// conditional on the hot key still being present. This is the single point
// that realizes the hot-XOR-cold invariant for archived jobs.
func (r *JobRepo) MarkArchived(ctx context.Context, id, archiveID string) error {
	if archiveID == "" {
		return apperrors.Validation("archive id is required")
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET results_file_archive_id = $2,
		    s3_key_result_file = NULL
		WHERE job_id = $1
		  AND job_status = $3
		  AND s3_key_result_file IS NOT NULL`,
		id, archiveID, model.JobStatusCompleted)
	if err != nil {
		return fmt.Errorf("mark job archived: %w", apperrors.MapDBError(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark job archived: rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return getErr
	}
	return fmt.Errorf("job %q has no hot result key: %w", id, model.ErrPreconditionFailed)
}

// ListArchivedByUser returns the user's jobs whose result currently lives in
// the cold vault (archive id set, no hot key), newest first.
func (r *JobRepo) ListArchivedByUser(ctx context.Context, userID string) ([]*model.Job, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE user_id = $1
		  AND results_file_archive_id IS NOT NULL
		  AND s3_key_result_file IS NULL
		ORDER BY submit_time DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list archived jobs: %w", apperrors.MapDBError(err))
	}
	defer closeRows(rows, r.logger)

	return collectJobs(rows)
}

// ListByUser returns all of the user's jobs, newest first.
func (r *JobRepo) ListByUser(ctx context.Context, userID string) ([]*model.Job, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE user_id = $1
		ORDER BY submit_time DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", apperrors.MapDBError(err))
	}
	defer closeRows(rows, r.logger)

	return collectJobs(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		job          model.Job
		resultKey    sql.NullString
		logKey       sql.NullString
		archiveID    sql.NullString
		completeTime sql.NullTime
	)

	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.UserEmail,
		&job.InputFileName,
		&job.InputsBucket,
		&job.ResultsBucket,
		&job.InputKey,
		&resultKey,
		&logKey,
		&archiveID,
		&job.Status,
		&job.SubmitTime,
		&completeTime,
	)
	if err != nil {
		return nil, err
	}

	if resultKey.Valid {
		job.ResultKey = &resultKey.String
	}
	if logKey.Valid {
		job.LogKey = &logKey.String
	}
	if archiveID.Valid {
		job.ArchiveID = &archiveID.String
	}
	if completeTime.Valid {
		job.CompleteTime = &completeTime.Time
	}
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*model.Job, error) {
	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func closeRows(rows *sql.Rows, logger *slog.Logger) {
	if err := rows.Close(); err != nil && logger != nil {
		logger.Warn("close rows failed", "error", err)
	}
}
