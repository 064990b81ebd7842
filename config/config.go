// Package config defines the immutable application configuration, constructed
// once at process start from environment variables and passed by reference to
// each component.
package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config files for the
// available variables:
//   - database.go: Postgres and Redis configuration
//   - queues.go: queue names, long-poll wait, visibility lease
//   - storage.go: hot object store, staging area, cold vault
//   - services.go: service mode and worker configuration
//   - observability.go: metrics and failure notifications
type AppConfig struct {
	// IsDev controls development mode behavior. Set DEV=true for development.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// Queue configuration
	Queues QueueConfig

	// Storage configuration
	Storage StorageConfig
	Vault   VaultConfig

	// Accounts directory (profile lookup) configuration
	Accounts AccountsConfig

	// Worker configuration
	Annotator   AnnotatorConfig
	Archiver    ArchiverConfig
	Restorer    RestorerConfig
	QueueReaper QueueReaperConfig

	// Services is a comma-delimited list of service modes to run.
	Services string `env:"SERVICES" envDefault:"annotator"`

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Queues.Sanitize()
	c.Storage.Sanitize()
	c.Vault.Sanitize()
	c.Accounts.Sanitize()
	c.Annotator.Sanitize()
	c.Archiver.Sanitize()
	c.Restorer.Sanitize()
	c.QueueReaper.Sanitize()
	c.Observability.Sanitize()
	c.detectDevMode()
}

// detectDevMode checks the APP_ENV variable as a fallback for IsDev.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}
