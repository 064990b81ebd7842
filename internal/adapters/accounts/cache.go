package accounts

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/crestgen/annex/internal/core"
	"github.com/crestgen/annex/internal/domain/model"
)

const profileKeyPrefix = "annex:profile:"

// CachingDirectory is a read-through cache in front of a ProfileDirectory.
// The archiver's tier re-check tolerates the bounded staleness window, so a
// short TTL keeps lookup volume off the accounts service without changing
// pipeline semantics.
type CachingDirectory struct {
	next   core.ProfileDirectory
	cache  core.CacheRepository
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachingDirectory wraps next with a cache. A non-positive TTL disables
// caching entirely and returns next unchanged.
func NewCachingDirectory(next core.ProfileDirectory, cache core.CacheRepository, ttl time.Duration, logger *slog.Logger) core.ProfileDirectory {
	if cache == nil || ttl <= 0 {
		return next
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingDirectory{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "profile_cache"),
	}
}

// GetProfile serves from the cache when possible. Lookup errors from the
// cache itself degrade to a directory call; only successful lookups are
// cached, so a NotFound is always re-checked.
func (d *CachingDirectory) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	key := profileKeyPrefix + userID

	if raw, err := d.cache.Get(ctx, key); err != nil {
		d.logger.WarnContext(ctx, "profile cache read failed", "user_id", userID, "error", err)
	} else if raw != nil {
		var profile model.Profile
		if err := json.Unmarshal(raw, &profile); err == nil {
			return &profile, nil
		}
		d.logger.WarnContext(ctx, "dropping undecodable cached profile", "user_id", userID)
		if _, err := d.cache.Delete(ctx, key); err != nil {
			d.logger.WarnContext(ctx, "profile cache delete failed", "user_id", userID, "error", err)
		}
	}

	profile, err := d.next.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(profile); err == nil {
		if err := d.cache.Set(ctx, key, raw, d.ttl); err != nil {
			d.logger.WarnContext(ctx, "profile cache write failed", "user_id", userID, "error", err)
		}
	}
	return profile, nil
}
