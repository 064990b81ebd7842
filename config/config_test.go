package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServices(t *testing.T) {
	t.Run("single service", func(t *testing.T) {
		services, err := ParseServices("annotator")
		require.NoError(t, err)
		assert.True(t, services[ServiceModeAnnotator])
		assert.False(t, services[ServiceModeArchiver])
	})

	t.Run("multiple services with spaces", func(t *testing.T) {
		services, err := ParseServices("annotator, archiver ,restorer,queue-reaper")
		require.NoError(t, err)
		assert.Len(t, services, 4)
	})

	t.Run("invalid service name", func(t *testing.T) {
		_, err := ParseServices("annotator,frobnicator")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "frobnicator")
	})

	t.Run("empty string", func(t *testing.T) {
		_, err := ParseServices("")
		assert.Error(t, err)
	})

	t.Run("only separators", func(t *testing.T) {
		_, err := ParseServices(" , ,")
		assert.Error(t, err)
	})
}

func TestQueueConfigSanitize(t *testing.T) {
	cfg := QueueConfig{ReceiveWait: -1, VisibilityLease: time.Second}
	cfg.Sanitize()
	assert.Equal(t, 20*time.Second, cfg.ReceiveWait)
	assert.Equal(t, 30*time.Second, cfg.VisibilityLease)

	cfg = QueueConfig{ReceiveWait: 45 * time.Second, VisibilityLease: time.Minute}
	cfg.Sanitize()
	assert.Equal(t, 20*time.Second, cfg.ReceiveWait, "receive wait is clamped to the long-poll maximum")
	assert.Equal(t, time.Minute, cfg.VisibilityLease)
}

func TestStorageConfigSanitize(t *testing.T) {
	cfg := StorageConfig{KeyPrefix: " annex "}
	cfg.Sanitize()
	assert.Equal(t, "annex/", cfg.KeyPrefix, "key prefix always ends with a slash")
	assert.Equal(t, 15*time.Minute, cfg.PresignTTL)
}

func TestVaultConfigSanitize(t *testing.T) {
	cfg := VaultConfig{ExpeditedCapacity: -5, CapacityWindow: 0}
	cfg.Sanitize()
	assert.Equal(t, 0, cfg.ExpeditedCapacity)
	assert.Equal(t, time.Minute, cfg.CapacityWindow)
}

func TestAccountsConfigSanitize(t *testing.T) {
	cfg := AccountsConfig{BaseURL: " http://accounts.internal/ "}
	cfg.Sanitize()
	assert.Equal(t, "http://accounts.internal", cfg.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestAppConfigSanitizeDefaultsWorkers(t *testing.T) {
	cfg := AppConfig{}
	cfg.Sanitize()
	assert.Equal(t, 1, cfg.Annotator.Concurrency)
	assert.Equal(t, 1, cfg.Archiver.Concurrency)
	assert.Equal(t, 1, cfg.Restorer.Concurrency)
	assert.Equal(t, 15*time.Second, cfg.QueueReaper.Interval)
}

func TestObservabilityMetricsSanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{Enabled: true, StatsdAddress: "  "}
	cfg.Sanitize()
	assert.False(t, cfg.IsEnabled(), "metrics disabled when no address is configured")
}
