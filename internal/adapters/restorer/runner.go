// Package restorer provides the adapter that runs the restore consumer,
// initiating vault retrievals for upgraded users.
package restorer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/crestgen/annex/config"
	"github.com/crestgen/annex/internal/core"
	"github.com/crestgen/annex/internal/data"
	"github.com/crestgen/annex/internal/observability/statsd"
	"github.com/crestgen/annex/internal/service"
	"github.com/crestgen/annex/internal/storage"
)

const errorBackoff = time.Second

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB       *sql.DB
	Redis    redis.UniversalClient
	Queues   config.QueueConfig
	VaultCfg config.VaultConfig
	Config   config.RestorerConfig
	Profiles core.ProfileDirectory // Required: tier check
	Logger   *slog.Logger
	Metrics  statsd.Sink

	// Optional dependency injections for testing/decoupling
	Repo  core.JobRepository
	Queue core.Queue
	Vault core.Vault
}

// Runner polls the restore queue with a pool of workers.
type Runner struct {
	restore *service.RestoreService
	workers int
	logger  *slog.Logger
}

// NewRunner wires the restore consumer with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := validateRunnerOptions(&opts); err != nil {
		return nil, err
	}

	deps, err := wireRunnerDependencies(opts)
	if err != nil {
		return nil, err
	}

	restore, err := service.NewRestoreService(service.RestoreServiceOptions{
		Repo:     deps.repo,
		Queue:    deps.queue,
		Vault:    deps.vault,
		Profiles: opts.Profiles,
		Queues:   opts.Queues,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire restore service: %w", err)
	}

	return &Runner{
		restore: restore,
		workers: opts.Config.Concurrency,
		logger:  opts.Logger.With("component", "restorer_runner"),
	}, nil
}

// validateRunnerOptions validates and sets defaults for RunnerOptions.
func validateRunnerOptions(opts *RunnerOptions) error {
	if opts.DB == nil && opts.Repo == nil {
		return errors.New("either DB or Repo must be provided")
	}
	if opts.Redis == nil && (opts.Queue == nil || opts.Vault == nil) {
		return errors.New("either Redis or both Queue and Vault must be provided")
	}
	if opts.Profiles == nil {
		return errors.New("ProfileDirectory is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Config.Concurrency <= 0 {
		opts.Config.Concurrency = 1
	}
	return nil
}

type runnerDeps struct {
	repo  core.JobRepository
	queue core.Queue
	vault core.Vault
}

func wireRunnerDependencies(opts RunnerOptions) (runnerDeps, error) {
	deps := runnerDeps{
		repo:  opts.Repo,
		queue: opts.Queue,
		vault: opts.Vault,
	}

	if deps.repo == nil {
		deps.repo = data.NewJobRepo(opts.DB, data.RepoConfig{Logger: opts.Logger})
	}
	if deps.queue == nil {
		deps.queue = data.NewRedisQueue(opts.Redis, data.RepoConfig{Logger: opts.Logger})
	}
	if deps.vault == nil {
		vault, err := storage.NewFSVault(opts.VaultCfg, storage.VaultOptions{
			Gate:      data.NewRedisCapacityGate(opts.Redis, data.RepoConfig{Logger: opts.Logger}),
			Publisher: data.NewRedisTopics(opts.Redis, opts.Queues.CompletionTopic, opts.Logger),
			Logger:    opts.Logger,
		})
		if err != nil {
			return deps, fmt.Errorf("wire vault: %w", err)
		}
		deps.vault = vault
	}
	return deps, nil
}

// Run polls until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting restorer runner", "workers", r.workers)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			return r.pollLoop(ctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runner) pollLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		if _, err := r.restore.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			r.logger.ErrorContext(ctx, "restore poll failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(errorBackoff):
			}
		}
	}
	return ctx.Err()
}
