// Package mocks provides mock implementations for testing the annex job pipeline.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for
// the core port interfaces. The mocks are generated using go:generate
// directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	repo := mocks.NewMockJobRepository(ctrl)
//	repo.EXPECT().GetByID(gomock.Any(), "job-1").Return(job, nil)
package mocks

// Generate mock for JobRepository interface from internal/core package.
// This creates MockJobRepository with methods for all JobRepository interface methods:
// Create, GetByID, Transition, MarkArchived, ListArchivedByUser, ListByUser
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=job_repository_mock.go github.com/crestgen/annex/internal/core JobRepository

// Generate mock for Queue interface from internal/core package.
// This creates MockQueue with methods for all Queue interface methods:
// Send, Receive, Delete
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=queue_mock.go github.com/crestgen/annex/internal/core Queue

// Generate mock for ObjectStore interface from internal/core package.
// This creates MockObjectStore with methods for all ObjectStore interface methods:
// Get, Put, Delete, Presign
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=object_store_mock.go github.com/crestgen/annex/internal/core ObjectStore

// Generate mock for Vault interface from internal/core package.
// This creates MockVault with methods for all Vault interface methods:
// Upload, InitiateRetrieval
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=vault_mock.go github.com/crestgen/annex/internal/core Vault

// Generate mock for ProfileDirectory interface from internal/core package.
// This creates MockProfileDirectory with methods for all ProfileDirectory interface methods:
// GetProfile
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=profile_directory_mock.go github.com/crestgen/annex/internal/core ProfileDirectory

// Generate mock for CompletionPublisher interface from internal/core package.
// This creates MockCompletionPublisher with methods for all CompletionPublisher interface methods:
// PublishCompletion
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=completion_publisher_mock.go github.com/crestgen/annex/internal/core CompletionPublisher
