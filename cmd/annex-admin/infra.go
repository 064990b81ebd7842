package main

import (
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"

	"github.com/crestgen/annex/internal/bootstrap"
	"github.com/crestgen/annex/internal/data"
	"github.com/crestgen/annex/internal/service"
	"github.com/crestgen/annex/internal/storage"
)

// connectRedis wires a Redis client for queue-only commands.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func connectRedis(cmdCtx *commandContext) (redis.UniversalClient, error) {
	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
		RedisConfig: cmdCtx.Config.Redis,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

// withJobService connects Postgres, Redis, and the object store, builds a
// JobService over them, and runs f. Connections are closed when f returns.
func withJobService(cmdCtx *commandContext, f func(jobs *service.JobService) error) error {
	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	redisClient, err := connectRedis(cmdCtx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", closeErr)
		}
	}()

	store, err := storage.NewFSStore(cmdCtx.Config.Storage)
	if err != nil {
		return fmt.Errorf("wire object store: %w", err)
	}

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:    data.NewJobRepo(db, data.RepoConfig{Logger: cmdCtx.Logger}),
		Queue:   data.NewRedisQueue(redisClient, data.RepoConfig{Logger: cmdCtx.Logger}),
		Store:   store,
		Queues:  cmdCtx.Config.Queues,
		Storage: cmdCtx.Config.Storage,
		Logger:  cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("wire job service: %w", err)
	}

	return f(jobs)
}

func writef(w io.Writer, format string, args ...any) error {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func writeln(w io.Writer, args ...any) error {
	if _, err := fmt.Fprintln(w, args...); err != nil {
		return fmt.Errorf("write output line: %w", err)
	}
	return nil
}
