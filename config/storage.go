package config

import (
	"strings"
	"time"
)

// StorageConfig contains hot object storage and staging configuration.
type StorageConfig struct {
	// RootDir is the filesystem root of the hot object store; each bucket is a
	// directory under it.
	RootDir string `env:"STORAGE_ROOT" envDefault:"/var/lib/annex/objects"`

	// StagingDir holds local copies of inputs and produced artifacts during
	// execution. Contents are disposable.
	StagingDir string `env:"STORAGE_STAGING" envDefault:"/var/lib/annex/staging"`

	// InputsBucket holds uploaded input files.
	InputsBucket string `env:"STORAGE_INPUTS_BUCKET" envDefault:"annex-inputs"`

	// ResultsBucket holds result and log artifacts.
	ResultsBucket string `env:"STORAGE_RESULTS_BUCKET" envDefault:"annex-results"`

	// KeyPrefix is prepended (with the user id) to every uploaded artifact key.
	KeyPrefix string `env:"STORAGE_KEY_PREFIX" envDefault:"annex/"`

	// PresignSecret signs presigned retrieval URLs issued to the front end.
	PresignSecret string `env:"STORAGE_PRESIGN_SECRET"`

	// PresignTTL is how long a presigned URL stays valid.
	PresignTTL time.Duration `env:"STORAGE_PRESIGN_TTL" envDefault:"15m"`
}

// Sanitize normalises storage paths and prefixes.
func (c *StorageConfig) Sanitize() {
	c.RootDir = strings.TrimSpace(c.RootDir)
	c.StagingDir = strings.TrimSpace(c.StagingDir)
	c.KeyPrefix = strings.TrimSpace(c.KeyPrefix)
	if c.KeyPrefix != "" && !strings.HasSuffix(c.KeyPrefix, "/") {
		c.KeyPrefix += "/"
	}
	if c.PresignTTL <= 0 {
		c.PresignTTL = 15 * time.Minute
	}
}

// VaultConfig contains cold archive vault configuration.
type VaultConfig struct {
	// Dir is the filesystem root of the vault.
	Dir string `env:"VAULT_DIR" envDefault:"/var/lib/annex/vault"`

	// Name identifies the vault in retrieval job records.
	Name string `env:"VAULT_NAME" envDefault:"annex-results-vault"`

	// ThawTopic receives a record for every initiated retrieval; the
	// restore-completion worker subscribes to it.
	ThawTopic string `env:"VAULT_THAW_TOPIC" envDefault:"annex:thaw"`

	// ExpeditedCapacity is how many expedited retrievals are admitted per
	// capacity window before the vault reports capacity exceeded.
	ExpeditedCapacity int `env:"VAULT_EXPEDITED_CAPACITY" envDefault:"3"`

	// CapacityWindow is the fixed window over which expedited capacity is counted.
	CapacityWindow time.Duration `env:"VAULT_CAPACITY_WINDOW" envDefault:"1m"`
}

// Sanitize applies guardrails to vault configuration.
func (c *VaultConfig) Sanitize() {
	c.Dir = strings.TrimSpace(c.Dir)
	if c.ExpeditedCapacity < 0 {
		c.ExpeditedCapacity = 0
	}
	if c.CapacityWindow <= 0 {
		c.CapacityWindow = time.Minute
	}
}

// AccountsConfig contains configuration for the accounts directory client.
type AccountsConfig struct {
	// BaseURL is the accounts service endpoint used for profile lookups.
	BaseURL string `env:"ACCOUNTS_BASE_URL" envDefault:"http://localhost:8088"`

	// Timeout bounds a single profile lookup call.
	Timeout time.Duration `env:"ACCOUNTS_TIMEOUT" envDefault:"5s"`

	// CacheTTL is how long profiles are served from the Redis cache. The tier
	// re-check in the archiver tolerates this bounded staleness window.
	CacheTTL time.Duration `env:"ACCOUNTS_CACHE_TTL" envDefault:"30s"`
}

// Sanitize applies guardrails to accounts client configuration.
func (c *AccountsConfig) Sanitize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.CacheTTL < 0 {
		c.CacheTTL = 0
	}
}
