// Package model defines the core data types shared across the annex pipeline.
package model

import (
	"errors"
	"strings"
	"time"
)

// JobStatus represents the lifecycle status of an annotation job.
type JobStatus string

const (
	// JobStatusPending indicates a job has been submitted but not yet claimed.
	JobStatusPending JobStatus = "PENDING"
	// JobStatusRunning indicates a worker has claimed the job and dispatched execution.
	JobStatusRunning JobStatus = "RUNNING"
	// JobStatusCompleted indicates execution finished and artifacts were persisted.
	JobStatusCompleted JobStatus = "COMPLETED"
)

// ErrPreconditionFailed is returned by conditional status transitions when the
// stored status no longer matches the expected prior status. Under duplicate
// queue delivery this signals "another worker already made this transition",
// and callers treat it as already-done rather than as a failure.
var ErrPreconditionFailed = errors.New("job status precondition failed")

// Valid returns true if the JobStatus is one of the known lifecycle states.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusCompleted
}

// Next returns the only status reachable from s. Status is monotonic:
// PENDING -> RUNNING -> COMPLETED, with COMPLETED terminal.
func (s JobStatus) Next() (JobStatus, bool) {
	switch s {
	case JobStatusPending:
		return JobStatusRunning, true
	case JobStatusRunning:
		return JobStatusCompleted, true
	default:
		return "", false
	}
}

// Job is one unit of submitted computation with its lifecycle status and the
// object-storage locations of its input, result, and log artifacts.
//
// Once a job is COMPLETED, exactly one of ResultKey and ArchiveID is set:
// ResultKey while the result lives in hot storage, ArchiveID after the
// archiver has moved it to the cold vault. Never both, never neither.
type Job struct {
	ID            string     `json:"job_id"                            db:"job_id"`
	UserID        string     `json:"user_id"                           db:"user_id"`
	UserEmail     string     `json:"user_email"                        db:"user_email"`
	InputFileName string     `json:"input_file_name"                   db:"input_file_name"`
	InputsBucket  string     `json:"s3_inputs_bucket"                  db:"s3_inputs_bucket"`
	ResultsBucket string     `json:"s3_results_bucket"                 db:"s3_results_bucket"`
	InputKey      string     `json:"s3_key_input_file"                 db:"s3_key_input_file"`
	ResultKey     *string    `json:"s3_key_result_file,omitempty"      db:"s3_key_result_file"`
	LogKey        *string    `json:"s3_key_log_file,omitempty"         db:"s3_key_log_file"`
	ArchiveID     *string    `json:"results_file_archive_id,omitempty" db:"results_file_archive_id"`
	Status        JobStatus  `json:"job_status"                        db:"job_status"`
	SubmitTime    time.Time  `json:"submit_time"                       db:"submit_time"`
	CompleteTime  *time.Time `json:"complete_time,omitempty"           db:"complete_time"`
}

// Validate checks the fields required to persist a new job.
func (j *Job) Validate() error {
	switch {
	case strings.TrimSpace(j.ID) == "":
		return errors.New("job_id is required")
	case strings.TrimSpace(j.UserID) == "":
		return errors.New("user_id is required")
	case strings.TrimSpace(j.InputFileName) == "":
		return errors.New("input_file_name is required")
	case strings.TrimSpace(j.InputsBucket) == "":
		return errors.New("s3_inputs_bucket is required")
	case strings.TrimSpace(j.InputKey) == "":
		return errors.New("s3_key_input_file is required")
	case !j.Status.Valid():
		return errors.New("invalid job_status")
	}
	return nil
}

// Archived reports whether the job's result currently lives in the cold vault.
func (j *Job) Archived() bool {
	return j.ArchiveID != nil && *j.ArchiveID != "" && j.ResultKey == nil
}

// CompletionFields carries the side fields set atomically with the
// RUNNING -> COMPLETED transition. Partial writes must never be observable,
// so the job store applies these in the same statement as the status change.
type CompletionFields struct {
	CompleteTime time.Time
	ResultKey    string
	LogKey       string
}

// Validate checks that all completion side fields are present.
func (f *CompletionFields) Validate() error {
	switch {
	case f.CompleteTime.IsZero():
		return errors.New("complete_time is required")
	case strings.TrimSpace(f.ResultKey) == "":
		return errors.New("s3_key_result_file is required")
	case strings.TrimSpace(f.LogKey) == "":
		return errors.New("s3_key_log_file is required")
	}
	return nil
}
