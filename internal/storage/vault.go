package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/crestgen/annex/config"
	"github.com/crestgen/annex/internal/core"
	"github.com/crestgen/annex/internal/domain/model"
	apperrors "github.com/crestgen/annex/internal/errors"
)

// ThawPublisher records initiated retrievals on the thaw topic.
type ThawPublisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// thawRecord is the payload published for every initiated retrieval. The
// restore-completion worker consumes it to re-hydrate the hot key once the
// archive bytes are available again.
type thawRecord struct {
	RetrievalID string    `json:"retrieval_id"`
	ArchiveID   string    `json:"archive_id"`
	Vault       string    `json:"vault"`
	Tier        string    `json:"tier"`
	InitiatedAt time.Time `json:"initiated_at"`
}

// FSVault implements the Vault port on a local directory. Uploads are
// synchronous and return an opaque archive id; retrievals are initiated here
// and recorded on the thaw topic, completing asynchronously elsewhere.
// Expedited retrievals pass through the capacity gate first.
type FSVault struct {
	dir       string
	name      string
	thawTopic string
	capacity  int
	window    time.Duration
	gate      core.CapacityGate
	publisher ThawPublisher
	logger    *slog.Logger
}

// VaultOptions carries the vault's collaborators.
type VaultOptions struct {
	Gate      core.CapacityGate
	Publisher ThawPublisher
	Logger    *slog.Logger
}

// NewFSVault creates the vault and its directory.
func NewFSVault(cfg config.VaultConfig, opts VaultOptions) (*FSVault, error) {
	if cfg.Dir == "" {
		return nil, apperrors.Validation("vault dir is required")
	}
	if opts.Gate == nil {
		return nil, apperrors.Validation("vault capacity gate is required")
	}
	if opts.Publisher == nil {
		return nil, apperrors.Validation("vault thaw publisher is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FSVault{
		dir:       cfg.Dir,
		name:      cfg.Name,
		thawTopic: cfg.ThawTopic,
		capacity:  cfg.ExpeditedCapacity,
		window:    cfg.CapacityWindow,
		gate:      opts.Gate,
		publisher: opts.Publisher,
		logger:    logger.With("component", "vault"),
	}, nil
}

// Upload stores the body in the vault and returns its archive id.
func (v *FSVault) Upload(ctx context.Context, body io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	archiveID := uuid.NewString()
	path := filepath.Join(v.dir, archiveID)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write archive: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("publish archive: %w", err)
	}

	v.logger.InfoContext(ctx, "archive stored", "vault", v.name, "archive_id", archiveID)
	return archiveID, nil
}

// InitiateRetrieval submits a retrieval request for the archive at the given
// tier. Expedited requests that exceed the capacity window return a Capacity
// error; callers escalate to Standard exactly once.
func (v *FSVault) InitiateRetrieval(ctx context.Context, archiveID string, tier model.RetrievalTier) (*model.RetrievalJob, error) {
	if archiveID == "" {
		return nil, apperrors.Validation("archive id is required")
	}
	if tier != model.TierExpedited && tier != model.TierStandard {
		return nil, apperrors.Validationf("unknown retrieval tier %q", tier)
	}

	if _, err := os.Stat(filepath.Join(v.dir, archiveID)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.NotFoundf("archive %q not found in vault %s", archiveID, v.name)
		}
		return nil, fmt.Errorf("stat archive %q: %w", archiveID, err)
	}

	if tier == model.TierExpedited {
		ok, err := v.gate.Admit(ctx, "vault:"+v.name+":expedited", v.capacity, v.window)
		if err != nil {
			return nil, fmt.Errorf("expedited capacity check: %w", err)
		}
		if !ok {
			return nil, apperrors.Capacity("expedited retrieval capacity exceeded")
		}
	}

	job := &model.RetrievalJob{
		ID:        uuid.NewString(),
		ArchiveID: archiveID,
		Tier:      tier,
	}
	record := thawRecord{
		RetrievalID: job.ID,
		ArchiveID:   archiveID,
		Vault:       v.name,
		Tier:        string(tier),
		InitiatedAt: time.Now().UTC(),
	}
	if err := v.publisher.Publish(ctx, v.thawTopic, record); err != nil {
		return nil, fmt.Errorf("record retrieval on thaw topic: %w", err)
	}

	v.logger.InfoContext(ctx, "retrieval initiated",
		"vault", v.name, "archive_id", archiveID, "tier", tier, "retrieval_id", job.ID)
	return job, nil
}
