package model

import (
	"errors"
	"strings"
)

// ExecutionTask describes one dispatched run of the external annotator. The
// input has already been staged to the local filesystem by the submission
// consumer.
type ExecutionTask struct {
	JobID         string
	UserID        string
	UserEmail     string
	InputFileName string
	// InputPath is the staged local copy of the input object.
	InputPath string
}

// Validate checks the fields required to launch execution.
func (t *ExecutionTask) Validate() error {
	switch {
	case strings.TrimSpace(t.JobID) == "":
		return errors.New("job id is required")
	case strings.TrimSpace(t.UserID) == "":
		return errors.New("user id is required")
	case strings.TrimSpace(t.InputPath) == "":
		return errors.New("input path is required")
	case strings.TrimSpace(t.InputFileName) == "":
		return errors.New("input file name is required")
	}
	return nil
}

// ExecutionResult is handed to the completion handler by the execution driver
// once the computation finishes. Paths point at local artifacts awaiting
// upload; they are removed (best effort) after the handler persists the
// completed record.
type ExecutionResult struct {
	JobID      string
	UserID     string
	UserEmail  string
	InputPath  string
	ResultPath string
	LogPath    string
}

// Validate checks the fields required to complete a job.
func (r *ExecutionResult) Validate() error {
	switch {
	case strings.TrimSpace(r.JobID) == "":
		return errors.New("job id is required")
	case strings.TrimSpace(r.UserID) == "":
		return errors.New("user id is required")
	case strings.TrimSpace(r.ResultPath) == "":
		return errors.New("result path is required")
	case strings.TrimSpace(r.LogPath) == "":
		return errors.New("log path is required")
	}
	return nil
}
