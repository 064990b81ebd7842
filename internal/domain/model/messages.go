package model

import (
	"errors"
	"strings"
)

// Queue message bodies. Producers are required to emit well-formed JSON; any
// parse or validation failure on the consumer side is the malformed-message
// case and the message is left for redelivery rather than silently dropped.

// SubmissionMessage asks the annotator to execute a newly submitted job.
type SubmissionMessage struct {
	JobID         string `json:"job_id"`
	UserID        string `json:"user_id"`
	UserEmail     string `json:"user_email"`
	InputsBucket  string `json:"s3_inputs_bucket"`
	InputKey      string `json:"s3_key_input_file"`
	InputFileName string `json:"input_file_name"`
}

// Validate checks the fields the annotator needs to stage and claim the job.
func (m *SubmissionMessage) Validate() error {
	var missing []string
	for _, f := range []struct {
		name, value string
	}{
		{"job_id", m.JobID},
		{"user_id", m.UserID},
		{"s3_inputs_bucket", m.InputsBucket},
		{"s3_key_input_file", m.InputKey},
		{"input_file_name", m.InputFileName},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return errors.New("missing required fields: " + strings.Join(missing, ", "))
	}
	return nil
}

// ArchiveRequest asks the archiver to move a completed job's result from hot
// storage to the cold vault. Enqueued by the completion handler for free-tier
// users.
type ArchiveRequest struct {
	UserID    string `json:"user_id"`
	JobID     string `json:"job_id"`
	ResultKey string `json:"s3_key_result_file"`
}

// Validate checks the fields the archiver needs to locate the hot object.
func (m *ArchiveRequest) Validate() error {
	switch {
	case strings.TrimSpace(m.UserID) == "":
		return errors.New("missing required field: user_id")
	case strings.TrimSpace(m.JobID) == "":
		return errors.New("missing required field: job_id")
	case strings.TrimSpace(m.ResultKey) == "":
		return errors.New("missing required field: s3_key_result_file")
	}
	return nil
}

// RestoreRequest asks the restorer to thaw all of a user's archived results.
// Enqueued when the user upgrades to the premium tier.
type RestoreRequest struct {
	UserID string `json:"user_id"`
}

// Validate checks that the request names a user.
func (m *RestoreRequest) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return errors.New("missing required field: user_id")
	}
	return nil
}

// CompletionNotice is published to the completion topic when a job finishes,
// for downstream delivery (user email) outside this pipeline.
type CompletionNotice struct {
	JobID string `json:"job_id"`
	Email string `json:"email"`
}
