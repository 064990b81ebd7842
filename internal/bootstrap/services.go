package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/crestgen/annex/config"
	"github.com/crestgen/annex/internal/adapters/accounts"
	"github.com/crestgen/annex/internal/adapters/annotator"
	"github.com/crestgen/annex/internal/adapters/archiver"
	"github.com/crestgen/annex/internal/adapters/queuereaper"
	"github.com/crestgen/annex/internal/adapters/restorer"
	"github.com/crestgen/annex/internal/core"
	"github.com/crestgen/annex/internal/data"
	"github.com/crestgen/annex/internal/observability/notify/slack"
	"github.com/crestgen/annex/internal/observability/statsd"
	"github.com/crestgen/annex/internal/service/failurenotifier"
)

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     *statsd.Client
	FailureNotifier *failurenotifier.Service
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "annex",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:     metricsSink,
		FailureNotifier: buildFailureNotifier(obsLogger, cfg.Notifications),
	}
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{
			Logger: baseLogger.With("component", "failure_notifier"),
		})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 1)
	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL: cfg.Slack.WebhookURL,
			Channel:    cfg.Slack.Channel,
			Timeout:    cfg.Timeout,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "slack",
				Sink: client,
			})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger: baseLogger.With("component", "failure_notifier"),
		Sinks:  sinks,
	})
}

// BuildProfileDirectory constructs the accounts client, fronted by a Redis
// read-through cache when a client is available.
//
//nolint:ireturn // callers program against the ProfileDirectory port.
func BuildProfileDirectory(
	cfg config.AccountsConfig,
	redisClient redis.UniversalClient,
	logger *slog.Logger,
) (core.ProfileDirectory, error) {
	client, err := accounts.NewClient(cfg, accounts.ClientOptions{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("wire accounts client: %w", err)
	}
	if redisClient == nil {
		return client, nil
	}
	cache := data.NewRedisCacheRepo(redisClient)
	return accounts.NewCachingDirectory(client, cache, cfg.CacheTTL, logger), nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// runnable is a startable background component.
type runnable interface {
	Run(ctx context.Context) error
}

// RunServicesWithShutdown starts all enabled worker services and blocks until
// a shutdown signal arrives or one of them fails. Workers share one context;
// the first failure cancels the rest.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runners, err := buildRunners(cfg, enabled, logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for name, runner := range runners {
		name, runner := name, runner
		logger.Info("starting service", "service", name)
		g.Go(func() error {
			if err := runner.Run(ctx); err != nil {
				return fmt.Errorf("%s failed: %w", name, err)
			}
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildRunners constructs a runner per enabled service mode.
func buildRunners(
	cfg *ServiceOrchestrationConfig,
	enabled map[config.ServiceMode]bool,
	logger *slog.Logger,
) (map[string]runnable, error) {
	app := cfg.Config
	observability := buildObservability(logger, app.Observability)

	var profiles core.ProfileDirectory
	if enabled[config.ServiceModeAnnotator] || enabled[config.ServiceModeArchiver] || enabled[config.ServiceModeRestorer] {
		var err error
		profiles, err = BuildProfileDirectory(app.Accounts, cfg.RedisClient, logger)
		if err != nil {
			return nil, err
		}
	}

	runners := make(map[string]runnable)

	if enabled[config.ServiceModeAnnotator] {
		runner, err := annotator.NewRunner(annotator.RunnerOptions{
			DB:       cfg.DB,
			Redis:    cfg.RedisClient,
			Queues:   app.Queues,
			Storage:  app.Storage,
			Config:   app.Annotator,
			Profiles: profiles,
			Notifier: observability.FailureNotifier,
			Logger:   logger,
			Metrics:  sinkOrNil(observability.MetricsSink),
		})
		if err != nil {
			return nil, fmt.Errorf("wire annotator: %w", err)
		}
		runners[string(config.ServiceModeAnnotator)] = runner
	}

	if enabled[config.ServiceModeArchiver] {
		runner, err := archiver.NewRunner(archiver.RunnerOptions{
			DB:       cfg.DB,
			Redis:    cfg.RedisClient,
			Queues:   app.Queues,
			Storage:  app.Storage,
			VaultCfg: app.Vault,
			Config:   app.Archiver,
			Profiles: profiles,
			Logger:   logger,
			Metrics:  sinkOrNil(observability.MetricsSink),
		})
		if err != nil {
			return nil, fmt.Errorf("wire archiver: %w", err)
		}
		runners[string(config.ServiceModeArchiver)] = runner
	}

	if enabled[config.ServiceModeRestorer] {
		runner, err := restorer.NewRunner(restorer.RunnerOptions{
			DB:       cfg.DB,
			Redis:    cfg.RedisClient,
			Queues:   app.Queues,
			VaultCfg: app.Vault,
			Config:   app.Restorer,
			Profiles: profiles,
			Logger:   logger,
			Metrics:  sinkOrNil(observability.MetricsSink),
		})
		if err != nil {
			return nil, fmt.Errorf("wire restorer: %w", err)
		}
		runners[string(config.ServiceModeRestorer)] = runner
	}

	if enabled[config.ServiceModeQueueReaper] {
		runner, err := queuereaper.NewRunner(queuereaper.RunnerOptions{
			Redis:   cfg.RedisClient,
			Queues:  app.Queues,
			Config:  app.QueueReaper,
			Logger:  logger,
			Metrics: sinkOrNil(observability.MetricsSink),
		})
		if err != nil {
			return nil, fmt.Errorf("wire queue reaper: %w", err)
		}
		runners[string(config.ServiceModeQueueReaper)] = runner
	}

	return runners, nil
}

// sinkOrNil avoids handing services a typed-nil statsd.Sink interface.
//
//nolint:ireturn // a nil Sink means metrics are disabled.
func sinkOrNil(client *statsd.Client) statsd.Sink {
	if client == nil {
		return nil
	}
	return client
}
