package config

import "time"

const (
	minVisibilityLease = 5 * time.Second
	maxReceiveWait     = 20 * time.Second
)

// QueueConfig names the work queues and sets their delivery parameters.
//
// One well-defined configuration entry exists per queue and is used for both
// receive and delete; consumers never address a queue by more than one name.
type QueueConfig struct {
	// SubmissionQueue carries SubmissionMessage bodies from the front end.
	SubmissionQueue string `env:"QUEUE_SUBMISSION" envDefault:"annex_job_requests"`

	// ArchiveQueue carries ArchiveRequest bodies from the completion handler.
	ArchiveQueue string `env:"QUEUE_ARCHIVE" envDefault:"annex_archive"`

	// RestoreQueue carries RestoreRequest bodies enqueued on tier upgrade.
	RestoreQueue string `env:"QUEUE_RESTORE" envDefault:"annex_restore"`

	// CompletionTopic receives a CompletionNotice for every finished job.
	CompletionTopic string `env:"TOPIC_COMPLETION" envDefault:"annex:job_results"`

	// ReceiveWait bounds how long a receive call blocks waiting for a message.
	ReceiveWait time.Duration `env:"QUEUE_RECEIVE_WAIT" envDefault:"20s"`

	// VisibilityLease is how long a received message stays hidden from other
	// consumers before it becomes eligible for redelivery.
	VisibilityLease time.Duration `env:"QUEUE_VISIBILITY_LEASE" envDefault:"30s"`
}

// Sanitize applies guardrails to queue delivery parameters.
func (c *QueueConfig) Sanitize() {
	if c.ReceiveWait <= 0 || c.ReceiveWait > maxReceiveWait {
		c.ReceiveWait = maxReceiveWait
	}
	if c.VisibilityLease < minVisibilityLease {
		c.VisibilityLease = 30 * time.Second
	}
}
