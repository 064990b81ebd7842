// Package core defines the port interfaces between the service layer and the
// data/adapter layers (hexagonal architecture). Services depend on these
// contracts, not on concrete implementations.
package core

import (
	"context"
	"io"
	"time"

	"github.com/crestgen/annex/internal/domain/model"
)

// JobRepository is the job store port. It is the single source of truth for
// job state and the only place requiring atomic read-modify-write; all status
// changes go through the conditional Transition, never unconditional writes.
type JobRepository interface {
	// Create inserts a new PENDING job. A job_id collision yields a Conflict error.
	Create(ctx context.Context, job *model.Job) error

	// GetByID returns the current record or a NotFound error.
	GetByID(ctx context.Context, id string) (*model.Job, error)

	// Transition performs an atomic compare-and-set from one status to the
	// next, applying completion side fields in the same statement when moving
	// to COMPLETED. If the stored status does not equal from, it returns
	// model.ErrPreconditionFailed without side effects.
	Transition(ctx context.Context, id string, from, to model.JobStatus, completion *model.CompletionFields) (*model.Job, error)

	// MarkArchived sets the archive id and clears the hot result key in a
	// single record write, conditional on the hot key still being present.
	MarkArchived(ctx context.Context, id, archiveID string) error

	// ListArchivedByUser returns the user's jobs whose result currently lives
	// in the cold vault (archive id set, no hot key).
	ListArchivedByUser(ctx context.Context, userID string) ([]*model.Job, error)

	// ListByUser returns all of the user's jobs, newest first.
	ListByUser(ctx context.Context, userID string) ([]*model.Job, error)
}

// Message is a received queue message together with the receipt handle needed
// to delete it. The message stays invisible to other consumers until its
// visibility lease expires.
type Message struct {
	ID      string
	Body    []byte
	Receipt string
}

// Queue is the work queue port with at-least-once delivery semantics.
type Queue interface {
	// Send enqueues body (JSON-encoded) on the named queue.
	Send(ctx context.Context, queue string, body any) error

	// Receive long-polls the named queue for up to wait, claiming the message
	// under a visibility lease. An empty queue returns (nil, nil); it is not
	// an error.
	Receive(ctx context.Context, queue string, wait, lease time.Duration) (*Message, error)

	// Delete removes a received message using its receipt handle. Deleting a
	// message whose lease already expired and was redelivered is a no-op.
	Delete(ctx context.Context, queue, receipt string) error
}

// ObjectStore is the hot object storage port.
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Put(ctx context.Context, bucket, key string, body io.Reader) error
	Delete(ctx context.Context, bucket, key string) error

	// Presign issues a signed retrieval URL for the web front end.
	Presign(bucket, key string, ttl time.Duration) (string, error)
}

// Vault is the cold archive port. Upload is synchronous; retrieval is
// initiated here but completes asynchronously via the thaw topic.
type Vault interface {
	// Upload stores the body in the vault and returns its archive id.
	Upload(ctx context.Context, body io.Reader) (string, error)

	// InitiateRetrieval submits a retrieval request at the given tier. When
	// expedited capacity is exhausted it returns a Capacity error; callers
	// escalate to the Standard tier exactly once.
	InitiateRetrieval(ctx context.Context, archiveID string, tier model.RetrievalTier) (*model.RetrievalJob, error)
}

// ProfileDirectory looks up a user's profile, including the service tier that
// drives the archive/restore lifecycle.
type ProfileDirectory interface {
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
}

// CompletionPublisher publishes a notice to the completion topic for
// downstream delivery (user email, out of scope here).
type CompletionPublisher interface {
	PublishCompletion(ctx context.Context, notice model.CompletionNotice) error
}

// ExecutionDriver dispatches the opaque annotation computation for a claimed
// job. Start returns once execution has been launched; execution failure is
// reported by the spawned unit itself, not by the dispatching consumer.
type ExecutionDriver interface {
	Start(ctx context.Context, task model.ExecutionTask) error
}

// CacheRepository is a byte-oriented cache port (Redis-backed in production).
type CacheRepository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
}

// CapacityGate admits or rejects work against a fixed-window capacity limit.
// The vault uses it to bound expedited retrievals.
type CapacityGate interface {
	// Admit returns false when the limit for the scope has been reached
	// within the current window.
	Admit(ctx context.Context, scope string, limit int, window time.Duration) (bool, error)
}
