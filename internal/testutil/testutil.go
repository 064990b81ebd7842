// Package testutil provides shared helpers for Postgres and Redis backed
// tests. Integration tests are opt-in: they run only when the
// ANNEX_TEST_DATABASE_URL / ANNEX_TEST_REDIS_ADDR variables point at live
// backing stores, and skip otherwise.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"time"

	// pgx driver for database/sql in tests.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/crestgen/annex/internal/migrate"
)

// TestingTB covers the pieces of *testing.T and *testing.B the helpers need.
type TestingTB interface {
	Helper()
	Skip(args ...interface{})
	Skipf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	Logf(format string, args ...interface{})
	Cleanup(func())
}

// SkipIfNoTestDB skips the test unless ANNEX_TEST_DATABASE_URL is set and
// reachable.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()

	dsn := os.Getenv("ANNEX_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ANNEX_TEST_DATABASE_URL not set; skipping database test")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Skip("test database not available:", err)
	}
	defer closeQuietly(t, "test db", db)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if pingErr := db.PingContext(ctx); pingErr != nil {
		t.Skip("test database not available:", pingErr)
	}
}

// SetupTestDB opens the test database, applies the production migrations, and
// clears the jobs table. The connection is closed via t.Cleanup.
func SetupTestDB(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	db, err := sql.Open("pgx", os.Getenv("ANNEX_TEST_DATABASE_URL"))
	if err != nil {
		t.Fatal("failed to open test database:", err)
	}
	t.Cleanup(func() { closeQuietly(t, "test db", db) })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if migrateErr := migrate.Run(ctx, db); migrateErr != nil {
		t.Fatal("failed to run migrations:", migrateErr)
	}
	CleanupTestDB(t, db)
	return db
}

// CleanupTestDB removes all rows written by tests.
func CleanupTestDB(t TestingTB, db *sql.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, "DELETE FROM jobs"); err != nil {
		t.Fatalf("failed to clean up jobs table: %v", err)
	}
}

// SetupTestRedis returns a client against ANNEX_TEST_REDIS_ADDR with a
// flushed database, or skips the test. The client is closed via t.Cleanup.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()

	addr := os.Getenv("ANNEX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ANNEX_TEST_REDIS_ADDR not set; skipping redis test")
	}

	// DB 15 keeps test flushes away from any local dev data on DB 0.
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	t.Cleanup(func() { closeQuietly(t, "test redis", client) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("failed to flush test redis db: %v", err)
	}
	return client
}

func closeQuietly(t TestingTB, name string, closer interface{ Close() error }) {
	if err := closer.Close(); err != nil {
		t.Logf("warning: failed to close %s: %v", name, err)
	}
}

// TestTime returns a fixed time for deterministic tests.
func TestTime() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

// StringPtr returns a pointer to the given string value.
func StringPtr(s string) *string { return &s }

// TimePtr returns a pointer to the given time value.
func TimePtr(t time.Time) *time.Time { return &t }
