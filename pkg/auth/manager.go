package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gatehousehq/gatehouse/pkg/observability"
)

// KeyStore is the durable table of issued keys. Implementations return
// (nil, nil) for lookups that match no row.
type KeyStore interface {
	Insert(ctx context.Context, key *APIKey) error
	FindActiveByHash(ctx context.Context, hashedKey string) (*APIKey, error)
	FindByHash(ctx context.Context, hashedKey string) (*APIKey, error)
	FindValidForUser(ctx context.Context, userID int64, now time.Time) (*APIKey, error)
	UpdateHashAndExpiry(ctx context.Context, id int64, hashedKey string, expiresAt time.Time) error
	DeleteByID(ctx context.Context, id int64) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	CountActive(ctx context.Context) (int64, error)
}

// KeyCache is the time-bounded mirror of recently validated keys.
// Get returns ("", nil) on a miss.
type KeyCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Config holds the immutable key lifecycle policy
type Config struct {
	// KeyLifetime is how long an issued key stays valid
	KeyLifetime time.Duration

	// CacheTTL bounds how long a validated key may be served from cache.
	// It is independent of the key's own expiry; every cache hit is still
	// checked against the embedded expiry.
	CacheTTL time.Duration

	// CachePrefix namespaces cache entries
	CachePrefix string
}

// DefaultConfig returns the stock key policy: 30-day keys, 1-hour cache
func DefaultConfig() Config {
	return Config{
		KeyLifetime: 30 * 24 * time.Hour,
		CacheTTL:    time.Hour,
		CachePrefix: "api_key:",
	}
}

// cacheEntry is the serialized snapshot mirrored into the cache
type cacheEntry struct {
	ExpiresAt time.Time `json:"expires_at"`
	User      Principal `json:"user"`
}

// Manager is the single authority for the API key lifecycle: issuance,
// validation, rotation and deactivation, keeping store and cache consistent.
// The store is always authoritative; the cache is best effort.
type Manager struct {
	store   KeyStore
	cache   KeyCache
	secrets *SecretGenerator
	config  Config
	logger  *observability.Logger
	metrics *observability.Metrics

	// now is swappable in tests
	now func() time.Time
}

// NewManager creates a key manager
func NewManager(store KeyStore, cache KeyCache, config Config, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	if config.KeyLifetime == 0 {
		config = DefaultConfig()
	}
	return &Manager{
		store:   store,
		cache:   cache,
		secrets: NewSecretGenerator(),
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Issue generates a fresh secret for the user, persists its digest and
// returns the plaintext. The plaintext is never stored; the caller sees it
// exactly once.
func (m *Manager) Issue(ctx context.Context, user *Principal) (string, error) {
	secret, hashedKey := m.secrets.Generate()
	now := m.now()

	key := &APIKey{
		HashedKey: hashedKey,
		UserID:    user.ID,
		IsActive:  true,
		CreatedAt: now,
		ExpiresAt: now.Add(m.config.KeyLifetime),
	}

	if err := m.store.Insert(ctx, key); err != nil {
		return "", fmt.Errorf("failed to persist API key: %w", err)
	}

	m.writeCacheEntry(ctx, hashedKey, cacheEntry{ExpiresAt: key.ExpiresAt, User: *user})
	m.metrics.KeysIssuedTotal.Inc()

	m.logger.WithFields(map[string]interface{}{
		"user_id":    user.ID,
		"expires_at": key.ExpiresAt,
	}).Info("Issued API key")

	return secret, nil
}

// GetValidKeyForOwner returns the hashed key of an active, non-expired key
// belonging to the user, or empty string when none exists. Login uses this
// to reuse an existing key instead of minting one per login.
func (m *Manager) GetValidKeyForOwner(ctx context.Context, userID int64) (string, error) {
	key, err := m.store.FindValidForUser(ctx, userID, m.now())
	if err != nil {
		return "", fmt.Errorf("failed to look up key for user %d: %w", userID, err)
	}
	if key == nil {
		return "", nil
	}
	return key.HashedKey, nil
}

// Validate resolves the principal for a presented hashed key using a
// two-tier lookup: cache first, store on a miss. Expiry is enforced on both
// paths; a cache entry is never trusted past its embedded expiry even while
// its TTL lives.
func (m *Manager) Validate(ctx context.Context, presentedHash string) (*Principal, error) {
	cacheKey := m.config.CachePrefix + presentedHash

	cached, err := m.cache.Get(ctx, cacheKey)
	if err != nil {
		// A broken cache must not fail validation; fall through to the store.
		m.logger.WithError(err).Warn("Key cache read failed, falling back to store")
		cached = ""
	}

	if cached != "" {
		var entry cacheEntry
		if err := json.Unmarshal([]byte(cached), &entry); err != nil {
			m.logger.WithError(err).Warn("Corrupt key cache entry, dropping")
			if delErr := m.cache.Delete(ctx, cacheKey); delErr != nil {
				m.logger.WithError(delErr).Warn("Failed to drop corrupt cache entry")
			}
		} else {
			m.metrics.KeyCacheHitsTotal.Inc()

			if entry.ExpiresAt.Before(m.now()) {
				if delErr := m.cache.Delete(ctx, cacheKey); delErr != nil {
					m.logger.WithError(delErr).Warn("Failed to drop expired cache entry")
				}
				m.metrics.KeyValidationsTotal.WithLabelValues("expired").Inc()
				return nil, ErrExpiredKey
			}

			// Refresh the TTL so hot keys stay cached.
			m.writeCacheEntry(ctx, presentedHash, entry)
			m.metrics.KeyValidationsTotal.WithLabelValues("ok").Inc()
			user := entry.User
			return &user, nil
		}
	}

	m.metrics.KeyCacheMissesTotal.Inc()

	key, err := m.store.FindActiveByHash(ctx, presentedHash)
	if err != nil {
		return nil, fmt.Errorf("failed to look up API key: %w", err)
	}

	if key == nil || key.User == nil {
		m.metrics.KeyValidationsTotal.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidKey
	}
	m.metrics.KeyStoreHitsTotal.Inc()

	if key.Expired(m.now()) {
		m.metrics.KeyValidationsTotal.WithLabelValues("expired").Inc()
		return nil, ErrExpiredKey
	}

	m.writeCacheEntry(ctx, presentedHash, cacheEntry{ExpiresAt: key.ExpiresAt, User: *key.User})
	m.metrics.KeyValidationsTotal.WithLabelValues("ok").Inc()

	user := *key.User
	return &user, nil
}

// Deactivate removes the key matching the presented hash from the store and
// the cache. A key that is already gone is a no-op, so repeated logouts are
// idempotent.
func (m *Manager) Deactivate(ctx context.Context, presentedHash string) error {
	key, err := m.store.FindByHash(ctx, presentedHash)
	if err != nil {
		return fmt.Errorf("failed to look up API key: %w", err)
	}
	if key == nil {
		return nil
	}

	if err := m.store.DeleteByID(ctx, key.ID); err != nil {
		return fmt.Errorf("failed to delete API key %d: %w", key.ID, err)
	}

	if err := m.cache.Delete(ctx, m.config.CachePrefix+presentedHash); err != nil {
		m.logger.WithError(err).Warn("Failed to delete cache entry for deactivated key")
	}

	m.metrics.KeysRevokedTotal.Inc()
	m.logger.WithField("user_id", key.UserID).Info("Deactivated API key")
	return nil
}

// Rotate exchanges an active key's secret for a fresh one. The same store
// record is reused: its hash is replaced and its expiry reset. The old
// cache entry is dropped and the new plaintext returned.
func (m *Manager) Rotate(ctx context.Context, oldSecret string) (string, error) {
	oldHash := HashSecret(oldSecret)

	key, err := m.store.FindActiveByHash(ctx, oldHash)
	if err != nil {
		return "", fmt.Errorf("failed to look up API key: %w", err)
	}
	if key == nil {
		return "", ErrInvalidKey
	}

	newSecret, newHash := m.secrets.Generate()
	expiresAt := m.now().Add(m.config.KeyLifetime)

	if err := m.store.UpdateHashAndExpiry(ctx, key.ID, newHash, expiresAt); err != nil {
		return "", fmt.Errorf("failed to rotate API key %d: %w", key.ID, err)
	}

	if err := m.cache.Delete(ctx, m.config.CachePrefix+oldHash); err != nil {
		m.logger.WithError(err).Warn("Failed to delete cache entry for rotated key")
	}

	if key.User != nil {
		m.writeCacheEntry(ctx, newHash, cacheEntry{ExpiresAt: expiresAt, User: *key.User})
	}

	m.metrics.KeysRotatedTotal.Inc()
	m.logger.WithField("user_id", key.UserID).Info("Rotated API key")
	return newSecret, nil
}

// DeleteExpired removes expired key rows. Run periodically by the janitor.
func (m *Manager) DeleteExpired(ctx context.Context) (int64, error) {
	removed, err := m.store.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired keys: %w", err)
	}
	if removed > 0 {
		m.metrics.KeysReapedTotal.Add(float64(removed))
		m.logger.WithField("removed", removed).Info("Reaped expired API keys")
	}
	if active, err := m.store.CountActive(ctx); err == nil {
		m.metrics.ActiveKeys.Set(float64(active))
	}
	return removed, nil
}

// writeCacheEntry mirrors a validated key into the cache. Cache failures are
// logged and swallowed; the store stays correct without the cache.
func (m *Manager) writeCacheEntry(ctx context.Context, hashedKey string, entry cacheEntry) {
	payload, err := json.Marshal(entry)
	if err != nil {
		m.logger.WithError(err).Error("Failed to marshal cache entry")
		return
	}
	if err := m.cache.Set(ctx, m.config.CachePrefix+hashedKey, string(payload), m.config.CacheTTL); err != nil {
		m.logger.WithError(err).Warn("Failed to write key cache entry")
	}
}
