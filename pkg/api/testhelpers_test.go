package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gatehousehq/gatehouse/pkg/auth"
	"github.com/gatehousehq/gatehouse/pkg/email"
	"github.com/gatehousehq/gatehouse/pkg/observability"
	"github.com/gatehousehq/gatehouse/pkg/users"
)

// stubKeyStore is an in-memory auth.KeyStore for handler tests
type stubKeyStore struct {
	keys   map[string]*auth.APIKey
	owners map[int64]*auth.Principal
	nextID int64
}

func newStubKeyStore() *stubKeyStore {
	return &stubKeyStore{
		keys:   make(map[string]*auth.APIKey),
		owners: make(map[int64]*auth.Principal),
	}
}

func (s *stubKeyStore) Insert(ctx context.Context, key *auth.APIKey) error {
	s.nextID++
	key.ID = s.nextID
	cp := *key
	s.keys[key.HashedKey] = &cp
	return nil
}

func (s *stubKeyStore) FindActiveByHash(ctx context.Context, hashedKey string) (*auth.APIKey, error) {
	key, ok := s.keys[hashedKey]
	if !ok || !key.IsActive {
		return nil, nil
	}
	cp := *key
	cp.User = s.owners[key.UserID]
	return &cp, nil
}

func (s *stubKeyStore) FindByHash(ctx context.Context, hashedKey string) (*auth.APIKey, error) {
	key, ok := s.keys[hashedKey]
	if !ok {
		return nil, nil
	}
	cp := *key
	return &cp, nil
}

func (s *stubKeyStore) FindValidForUser(ctx context.Context, userID int64, now time.Time) (*auth.APIKey, error) {
	for _, key := range s.keys {
		if key.UserID == userID && key.IsActive && key.ExpiresAt.After(now) {
			cp := *key
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *stubKeyStore) UpdateHashAndExpiry(ctx context.Context, id int64, hashedKey string, expiresAt time.Time) error {
	for oldHash, key := range s.keys {
		if key.ID == id {
			delete(s.keys, oldHash)
			key.HashedKey = hashedKey
			key.ExpiresAt = expiresAt
			s.keys[hashedKey] = key
			return nil
		}
	}
	return nil
}

func (s *stubKeyStore) DeleteByID(ctx context.Context, id int64) error {
	for hash, key := range s.keys {
		if key.ID == id {
			delete(s.keys, hash)
		}
	}
	return nil
}

func (s *stubKeyStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (s *stubKeyStore) CountActive(ctx context.Context) (int64, error) { return 0, nil }

// stubKeyCache is an in-memory auth.KeyCache
type stubKeyCache struct {
	entries map[string]string
}

func (c *stubKeyCache) Get(ctx context.Context, key string) (string, error) {
	return c.entries[key], nil
}

func (c *stubKeyCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.entries[key] = value
	return nil
}

func (c *stubKeyCache) Delete(ctx context.Context, key string) error {
	delete(c.entries, key)
	return nil
}

// stubUserStore is an in-memory users.Store that also feeds the key store's
// owner projections
type stubUserStore struct {
	byID   map[int64]*users.User
	nextID int64
	keys   *stubKeyStore
}

func (s *stubUserStore) Create(ctx context.Context, user *users.User) error {
	for _, existing := range s.byID {
		if existing.Email == user.Email {
			return users.ErrEmailTaken
		}
	}
	s.nextID++
	user.ID = s.nextID
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	s.byID[user.ID] = user
	s.keys.owners[user.ID] = user.Projection()
	return nil
}

func (s *stubUserStore) GetByID(ctx context.Context, id int64) (*users.User, error) {
	user, ok := s.byID[id]
	if !ok || !user.IsActive {
		return nil, nil
	}
	return user, nil
}

func (s *stubUserStore) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	for _, user := range s.byID {
		if user.Email == email && user.IsActive {
			return user, nil
		}
	}
	return nil, nil
}

func (s *stubUserStore) List(ctx context.Context, search string, limit, offset int) ([]*users.User, int, error) {
	var all []*users.User
	for id := int64(1); id <= s.nextID; id++ {
		if user, ok := s.byID[id]; ok && user.IsActive {
			all = append(all, user)
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *stubUserStore) UpdateProfile(ctx context.Context, id int64, name string) error {
	if user, ok := s.byID[id]; ok {
		user.Name = name
		s.keys.owners[id] = user.Projection()
	}
	return nil
}

func (s *stubUserStore) UpdatePassword(ctx context.Context, id int64, passwordHash []byte) error {
	if user, ok := s.byID[id]; ok {
		user.PasswordHash = passwordHash
	}
	return nil
}

func (s *stubUserStore) MarkEmailConfirmed(ctx context.Context, email string) error {
	for _, user := range s.byID {
		if user.Email == email {
			user.IsEmailConfirmed = true
		}
	}
	return nil
}

func (s *stubUserStore) Deactivate(ctx context.Context, id int64) error {
	if user, ok := s.byID[id]; ok {
		user.IsActive = false
		user.PasswordHash = nil
	}
	for hash, key := range s.keys.keys {
		if key.UserID == id {
			delete(s.keys.keys, hash)
		}
	}
	return nil
}

// captureSender records outgoing mail
type captureSender struct {
	sent []struct{ To, Subject, Body string }
}

func (s *captureSender) Send(ctx context.Context, to, subject, body string) error {
	s.sent = append(s.sent, struct{ To, Subject, Body string }{to, subject, body})
	return nil
}

// serverFixture is a fully wired server over in-memory stores
type serverFixture struct {
	server    *Server
	handler   http.Handler
	keyStore  *stubKeyStore
	userStore *stubUserStore
	sender    *captureSender
	confirm   *email.ConfirmationService
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	keyStore := newStubKeyStore()
	userStore := &stubUserStore{byID: make(map[int64]*users.User), keys: keyStore}
	keyManager := auth.NewManager(keyStore, &stubKeyCache{entries: make(map[string]string)}, auth.DefaultConfig(), logger, metrics)
	userService := users.NewService(userStore, 4, logger)

	sender := &captureSender{}
	confirm := email.NewConfirmationService(sender, email.ConfirmationConfig{
		VerificationSecret: []byte("verify"),
		ResetSecret:        []byte("reset"),
		TokenTTL:           time.Hour,
		BaseURL:            "http://localhost:8080",
	})

	server := NewServer(Options{
		Users:               userService,
		Keys:                keyManager,
		Confirm:             confirm,
		CookieName:          "ApiKey",
		CookieMaxAgeSeconds: 2592000,
		Logger:              logger,
		Metrics:             metrics,
	})

	return &serverFixture{
		server:    server,
		handler:   server.Handler(),
		keyStore:  keyStore,
		userStore: userStore,
		sender:    sender,
		confirm:   confirm,
	}
}

// do executes a JSON request against the fixture
func (f *serverFixture) do(t *testing.T, method, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

// registerAndLogin creates an account and returns its session cookie and the
// decoded login response
func (f *serverFixture) registerAndLogin(t *testing.T, name, addr, password string) (*http.Cookie, map[string]interface{}) {
	t.Helper()

	rec := f.do(t, "POST", "/auth/register", map[string]string{
		"name": name, "email": addr, "password": password,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, "POST", "/auth/log-in", map[string]string{
		"email": addr, "password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "ApiKey" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("login did not set the ApiKey cookie")
	}

	var response map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode login response: %v", err)
	}

	return cookie, response
}

// promote changes an account's role directly in the store
func (f *serverFixture) promote(id int64, role auth.Role) {
	if user, ok := f.userStore.byID[id]; ok {
		user.Role = role
		f.keyStore.owners[id] = user.Projection()
	}
}
