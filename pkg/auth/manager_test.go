package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gatehousehq/gatehouse/pkg/observability"
)

// fakeKeyStore is an in-memory KeyStore keyed by hash. Active-by-hash
// lookups join the owner projection the way the real store does, so owners
// must be registered with addOwner before their keys resolve.
type fakeKeyStore struct {
	keys   map[string]*APIKey
	owners map[int64]*Principal
	nextID int64

	insertErr error
	findErr   error
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{
		keys:   make(map[string]*APIKey),
		owners: make(map[int64]*Principal),
	}
}

func (s *fakeKeyStore) addOwner(p *Principal) {
	cp := *p
	s.owners[p.ID] = &cp
}

func (s *fakeKeyStore) Insert(ctx context.Context, key *APIKey) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.nextID++
	key.ID = s.nextID
	cp := *key
	s.keys[key.HashedKey] = &cp
	return nil
}

func (s *fakeKeyStore) FindActiveByHash(ctx context.Context, hashedKey string) (*APIKey, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	key, ok := s.keys[hashedKey]
	if !ok || !key.IsActive {
		return nil, nil
	}
	owner, ok := s.owners[key.UserID]
	if !ok {
		// The real query inner-joins users, so a key without an active
		// owner row matches nothing.
		return nil, nil
	}
	cp := *key
	user := *owner
	cp.User = &user
	return &cp, nil
}

func (s *fakeKeyStore) FindByHash(ctx context.Context, hashedKey string) (*APIKey, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	key, ok := s.keys[hashedKey]
	if !ok {
		return nil, nil
	}
	cp := *key
	return &cp, nil
}

func (s *fakeKeyStore) FindValidForUser(ctx context.Context, userID int64, now time.Time) (*APIKey, error) {
	for _, key := range s.keys {
		if key.UserID == userID && key.IsActive && key.ExpiresAt.After(now) {
			cp := *key
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeKeyStore) UpdateHashAndExpiry(ctx context.Context, id int64, hashedKey string, expiresAt time.Time) error {
	for oldHash, key := range s.keys {
		if key.ID == id {
			delete(s.keys, oldHash)
			key.HashedKey = hashedKey
			key.ExpiresAt = expiresAt
			s.keys[hashedKey] = key
			return nil
		}
	}
	return errors.New("no such key")
}

func (s *fakeKeyStore) DeleteByID(ctx context.Context, id int64) error {
	for hash, key := range s.keys {
		if key.ID == id {
			delete(s.keys, hash)
			return nil
		}
	}
	return nil
}

func (s *fakeKeyStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	for hash, key := range s.keys {
		if key.ExpiresAt.Before(now) {
			delete(s.keys, hash)
			removed++
		}
	}
	return removed, nil
}

func (s *fakeKeyStore) CountActive(ctx context.Context) (int64, error) {
	var count int64
	for _, key := range s.keys {
		if key.IsActive && key.ExpiresAt.After(time.Now()) {
			count++
		}
	}
	return count, nil
}

// fakeKeyCache is an in-memory KeyCache with optional forced errors
type fakeKeyCache struct {
	entries map[string]string

	getErr error
	setErr error
	sets   int
}

func newFakeKeyCache() *fakeKeyCache {
	return &fakeKeyCache{entries: make(map[string]string)}
}

func (c *fakeKeyCache) Get(ctx context.Context, key string) (string, error) {
	if c.getErr != nil {
		return "", c.getErr
	}
	return c.entries[key], nil
}

func (c *fakeKeyCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.sets++
	c.entries[key] = value
	return nil
}

func (c *fakeKeyCache) Delete(ctx context.Context, key string) error {
	delete(c.entries, key)
	return nil
}

func testManager(t *testing.T) (*Manager, *fakeKeyStore, *fakeKeyCache) {
	t.Helper()
	store := newFakeKeyStore()
	cache := newFakeKeyCache()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	m := NewManager(store, cache, DefaultConfig(), logger, metrics)
	store.addOwner(testPrincipal())
	return m, store, cache
}

func testPrincipal() *Principal {
	return &Principal{ID: 7, Name: "Ada", Email: "ada@example.com", Role: RoleUser}
}

func TestManager_IssueAndValidate(t *testing.T) {
	m, store, cache := testManager(t)
	ctx := context.Background()

	secret, err := m.Issue(ctx, testPrincipal())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if secret == "" {
		t.Fatal("Issue() returned empty secret")
	}

	hash := HashSecret(secret)
	stored, ok := store.keys[hash]
	if !ok {
		t.Fatal("issued key not persisted under its hash")
	}
	if stored.UserID != 7 || !stored.IsActive {
		t.Errorf("stored key = %+v, want user 7 active", stored)
	}
	if _, ok := store.keys[secret]; ok {
		t.Error("plaintext secret must never be a store key")
	}

	// Issue warms the cache, so the first Validate is already a cache hit.
	if _, ok := cache.entries["api_key:"+hash]; !ok {
		t.Fatal("issued key not cached")
	}

	principal, err := m.Validate(ctx, hash)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if principal.ID != 7 || principal.Email != "ada@example.com" {
		t.Errorf("Validate() principal = %+v", principal)
	}
}

func TestManager_ValidateCacheMissFallsBackToStore(t *testing.T) {
	m, _, cache := testManager(t)
	ctx := context.Background()

	secret, err := m.Issue(ctx, testPrincipal())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	hash := HashSecret(secret)

	// Simulate a cold cache.
	delete(cache.entries, "api_key:"+hash)

	principal, err := m.Validate(ctx, hash)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if principal.ID != 7 || principal.Email != "ada@example.com" {
		t.Errorf("Validate() principal = %+v, want the joined owner projection", principal)
	}

	// The store hit must repopulate the cache.
	if _, ok := cache.entries["api_key:"+hash]; !ok {
		t.Error("cache not repopulated after store hit")
	}
}

func TestManager_ValidateDeactivatedOwner(t *testing.T) {
	m, store, cache := testManager(t)
	ctx := context.Background()

	secret, err := m.Issue(ctx, testPrincipal())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	hash := HashSecret(secret)
	delete(cache.entries, "api_key:"+hash)

	// The owner row is gone, so the join matches nothing.
	delete(store.owners, 7)

	if _, err := m.Validate(ctx, hash); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Validate() error = %v, want ErrInvalidKey", err)
	}
}

func TestManager_ValidateUnknownKey(t *testing.T) {
	m, _, _ := testManager(t)

	_, err := m.Validate(context.Background(), HashSecret("no-such-secret"))
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Validate() error = %v, want ErrInvalidKey", err)
	}

	// A lookup that matched no row is not a store hit.
	if got := testutil.ToFloat64(m.metrics.KeyStoreHitsTotal); got != 0 {
		t.Errorf("store hits after unknown key = %v, want 0", got)
	}
}

func TestManager_StoreHitMetricCountsOnlyMatches(t *testing.T) {
	m, _, cache := testManager(t)
	ctx := context.Background()

	secret, err := m.Issue(ctx, testPrincipal())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	hash := HashSecret(secret)
	delete(cache.entries, "api_key:"+hash)

	if _, err := m.Validate(ctx, hash); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got := testutil.ToFloat64(m.metrics.KeyStoreHitsTotal); got != 1 {
		t.Errorf("store hits after matched lookup = %v, want 1", got)
	}
}

func TestManager_ValidateExpiredKeyFromStore(t *testing.T) {
	m, _, cache := testManager(t)
	ctx := context.Background()

	secret, err := m.Issue(ctx, testPrincipal())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	hash := HashSecret(secret)
	delete(cache.entries, "api_key:"+hash)

	// Move past the key's expiry.
	m.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }

	_, err = m.Validate(ctx, hash)
	if !errors.Is(err, ErrExpiredKey) {
		t.Errorf("Validate() error = %v, want ErrExpiredKey", err)
	}
}

func TestManager_ValidateExpiredCacheEntry(t *testing.T) {
	// A live cache TTL must not outlast the key's own expiry: the embedded
	// expires_at is checked on every hit.
	m, _, cache := testManager(t)
	ctx := context.Background()

	secret, err := m.Issue(ctx, testPrincipal())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	hash := HashSecret(secret)

	m.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }

	_, err = m.Validate(ctx, hash)
	if !errors.Is(err, ErrExpiredKey) {
		t.Fatalf("Validate() error = %v, want ErrExpiredKey", err)
	}

	// The stale entry is dropped on the way out.
	if _, ok := cache.entries["api_key:"+hash]; ok {
		t.Error("expired cache entry not dropped")
	}
}

func TestManager_ValidateCacheHitRefreshesTTL(t *testing.T) {
	m, _, cache := testManager(t)
	ctx := context.Background()

	secret, err := m.Issue(ctx, testPrincipal())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	hash := HashSecret(secret)

	setsBefore := cache.sets
	if _, err := m.Validate(ctx, hash); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cache.sets != setsBefore+1 {
		t.Errorf("cache hit should rewrite the entry to refresh its TTL, sets = %d, want %d", cache.sets, setsBefore+1)
	}
}

func TestManager_ValidateCacheReadErrorFallsThrough(t *testing.T) {
	m, _, cache := testManager(t)
	ctx := context.Background()

	secret, err := m.Issue(ctx, testPrincipal())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// A broken cache must not take authentication down with it.
	cache.getErr = errors.New("connection refused")

	principal, err := m.Validate(ctx, HashSecret(secret))
	if err != nil {
		t.Fatalf("Validate() error = %v, want store fallback", err)
	}
	if principal.ID != 7 {
		t.Errorf("Validate() principal ID = %d, want 7", principal.ID)
	}
}

func TestManager_ValidateCacheWriteErrorIsSwallowed(t *testing.T) {
	m, _, cache := testManager(t)
	ctx := context.Background()

	cache.setErr = errors.New("read-only replica")

	secret, err := m.Issue(ctx, testPrincipal())
	if err != nil {
		t.Fatalf("Issue() error = %v, cache write failures must not fail issuance", err)
	}

	if _, err := m.Validate(ctx, HashSecret(secret)); err != nil {
		t.Fatalf("Validate() error = %v, cache write failures must not fail validation", err)
	}
}

func TestManager_ValidateCorruptCacheEntry(t *testing.T) {
	m, _, cache := testManager(t)
	ctx := context.Background()

	secret, err := m.Issue(ctx, testPrincipal())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	hash := HashSecret(secret)

	cache.entries["api_key:"+hash] = "{not json"

	principal, err := m.Validate(ctx, hash)
	if err != nil {
		t.Fatalf("Validate() error = %v, corrupt entry should fall back to store", err)
	}
	if principal.ID != 7 {
		t.Errorf("Validate() principal ID = %d, want 7", principal.ID)
	}

	// The corrupt payload was replaced by a fresh serialization.
	var entry struct {
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal([]byte(cache.entries["api_key:"+hash]), &entry); err != nil {
		t.Errorf("cache entry still corrupt after fallback: %v", err)
	}
}

func TestManager_GetValidKeyForOwner(t *testing.T) {
	m, _, _ := testManager(t)
	ctx := context.Background()

	hash, err := m.GetValidKeyForOwner(ctx, 7)
	if err != nil {
		t.Fatalf("GetValidKeyForOwner() error = %v", err)
	}
	if hash != "" {
		t.Errorf("GetValidKeyForOwner() = %q, want empty for user with no keys", hash)
	}

	secret, err := m.Issue(ctx, testPrincipal())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	hash, err = m.GetValidKeyForOwner(ctx, 7)
	if err != nil {
		t.Fatalf("GetValidKeyForOwner() error = %v", err)
	}
	if hash != HashSecret(secret) {
		t.Errorf("GetValidKeyForOwner() = %q, want the issued key's hash", hash)
	}
}

func TestManager_DeactivateIsIdempotent(t *testing.T) {
	m, store, cache := testManager(t)
	ctx := context.Background()

	secret, err := m.Issue(ctx, testPrincipal())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	hash := HashSecret(secret)

	if err := m.Deactivate(ctx, hash); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if _, ok := store.keys[hash]; ok {
		t.Error("key row still present after Deactivate")
	}
	if _, ok := cache.entries["api_key:"+hash]; ok {
		t.Error("cache entry still present after Deactivate")
	}

	// Second logout with the same cookie is a no-op, not an error.
	if err := m.Deactivate(ctx, hash); err != nil {
		t.Errorf("second Deactivate() error = %v, want nil", err)
	}
}

func TestManager_Rotate(t *testing.T) {
	m, store, cache := testManager(t)
	ctx := context.Background()

	oldSecret, err := m.Issue(ctx, testPrincipal())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	oldHash := HashSecret(oldSecret)
	oldID := store.keys[oldHash].ID

	newSecret, err := m.Rotate(ctx, oldSecret)
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if newSecret == oldSecret {
		t.Error("Rotate() returned the same secret")
	}

	newHash := HashSecret(newSecret)
	rotated, ok := store.keys[newHash]
	if !ok {
		t.Fatal("rotated key not reachable under new hash")
	}
	if rotated.ID != oldID {
		t.Errorf("Rotate() created a new row (id %d), want same row %d", rotated.ID, oldID)
	}
	if _, ok := store.keys[oldHash]; ok {
		t.Error("old hash still resolves after rotation")
	}
	if _, ok := cache.entries["api_key:"+oldHash]; ok {
		t.Error("old cache entry still present after rotation")
	}

	if _, err := m.Validate(ctx, oldHash); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("old key Validate() error = %v, want ErrInvalidKey", err)
	}
}

func TestManager_RotateUnknownSecret(t *testing.T) {
	m, _, _ := testManager(t)

	_, err := m.Rotate(context.Background(), "never-issued")
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Rotate() error = %v, want ErrInvalidKey", err)
	}
}

func TestManager_DeleteExpired(t *testing.T) {
	m, store, _ := testManager(t)
	ctx := context.Background()

	if _, err := m.Issue(ctx, testPrincipal()); err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	store.keys["stale"] = &APIKey{
		ID:        99,
		HashedKey: "stale",
		UserID:    8,
		IsActive:  true,
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	store.keys["revoked"] = &APIKey{
		ID:        100,
		HashedKey: "revoked",
		UserID:    9,
		IsActive:  false,
		ExpiresAt: time.Now().Add(time.Hour),
	}

	removed, err := m.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("DeleteExpired() removed = %d, want 1", removed)
	}
	if _, ok := store.keys["stale"]; ok {
		t.Error("expired key still present")
	}

	// The gauge counts active, non-expired keys only: the issued key,
	// not the surviving revoked one.
	if got := testutil.ToFloat64(m.metrics.ActiveKeys); got != 1 {
		t.Errorf("active keys gauge = %v, want 1", got)
	}
}
