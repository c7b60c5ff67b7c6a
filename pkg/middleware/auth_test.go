package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gatehousehq/gatehouse/pkg/auth"
	"github.com/gatehousehq/gatehouse/pkg/observability"
	"github.com/gatehousehq/gatehouse/pkg/users"
)

// memKeyStore is a minimal in-memory auth.KeyStore for guard tests
type memKeyStore struct {
	keys map[string]*auth.APIKey
}

func (s *memKeyStore) Insert(ctx context.Context, key *auth.APIKey) error {
	s.keys[key.HashedKey] = key
	return nil
}

func (s *memKeyStore) FindActiveByHash(ctx context.Context, hashedKey string) (*auth.APIKey, error) {
	key, ok := s.keys[hashedKey]
	if !ok || !key.IsActive {
		return nil, nil
	}
	return key, nil
}

func (s *memKeyStore) FindByHash(ctx context.Context, hashedKey string) (*auth.APIKey, error) {
	return s.keys[hashedKey], nil
}

func (s *memKeyStore) FindValidForUser(ctx context.Context, userID int64, now time.Time) (*auth.APIKey, error) {
	return nil, nil
}

func (s *memKeyStore) UpdateHashAndExpiry(ctx context.Context, id int64, hashedKey string, expiresAt time.Time) error {
	return nil
}

func (s *memKeyStore) DeleteByID(ctx context.Context, id int64) error { return nil }

func (s *memKeyStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (s *memKeyStore) CountActive(ctx context.Context) (int64, error) { return 0, nil }

// memKeyCache is a pass-through auth.KeyCache that stores nothing
type memKeyCache struct{}

func (memKeyCache) Get(ctx context.Context, key string) (string, error) { return "", nil }
func (memKeyCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return nil
}
func (memKeyCache) Delete(ctx context.Context, key string) error { return nil }

// memUserStore is a minimal in-memory users.Store for guard tests
type memUserStore struct {
	byID map[int64]*users.User
}

func (s *memUserStore) Create(ctx context.Context, user *users.User) error { return nil }

func (s *memUserStore) GetByID(ctx context.Context, id int64) (*users.User, error) {
	return s.byID[id], nil
}

func (s *memUserStore) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	return nil, nil
}

func (s *memUserStore) List(ctx context.Context, search string, limit, offset int) ([]*users.User, int, error) {
	return nil, 0, nil
}

func (s *memUserStore) UpdateProfile(ctx context.Context, id int64, name string) error { return nil }

func (s *memUserStore) UpdatePassword(ctx context.Context, id int64, passwordHash []byte) error {
	return nil
}

func (s *memUserStore) MarkEmailConfirmed(ctx context.Context, email string) error { return nil }

func (s *memUserStore) Deactivate(ctx context.Context, id int64) error { return nil }

// guardFixture wires both guards around a mux router the way the server does
type guardFixture struct {
	router   *mux.Router
	registry *Registry
	keyStore *memKeyStore
	users    *memUserStore
}

func newGuardFixture(t *testing.T) *guardFixture {
	t.Helper()

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	keyStore := &memKeyStore{keys: make(map[string]*auth.APIKey)}
	manager := auth.NewManager(keyStore, memKeyCache{}, auth.DefaultConfig(), logger, metrics)

	userStore := &memUserStore{byID: make(map[int64]*users.User)}
	userService := users.NewService(userStore, 0, logger)

	registry := NewRegistry()
	router := mux.NewRouter()
	router.Use(
		NewKeyGuard(manager, registry, "ApiKey", logger, metrics).Handler,
		NewRoleGuard(userService, registry, logger, metrics).Handler,
	)

	return &guardFixture{
		router:   router,
		registry: registry,
		keyStore: keyStore,
		users:    userStore,
	}
}

// addKey stores an active key for the user and returns its hash
func (f *guardFixture) addKey(user *auth.Principal, expiresAt time.Time) string {
	hash := auth.HashSecret("secret-for-" + user.Email)
	f.keyStore.keys[hash] = &auth.APIKey{
		ID:        user.ID,
		HashedKey: hash,
		UserID:    user.ID,
		IsActive:  true,
		ExpiresAt: expiresAt,
		User:      user,
	}
	return hash
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestKeyGuard_PublicRoutePassesWithoutCookie(t *testing.T) {
	f := newGuardFixture(t)
	f.router.HandleFunc("/auth/log-in", okHandler).Methods("POST")
	f.registry.SetRoutePublic("POST", "/auth/log-in", true)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest("POST", "/auth/log-in", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestKeyGuard_MissingCookieRejected(t *testing.T) {
	f := newGuardFixture(t)
	f.router.HandleFunc("/auth", okHandler).Methods("GET")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest("GET", "/auth", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestKeyGuard_InvalidKeyRejected(t *testing.T) {
	f := newGuardFixture(t)
	f.router.HandleFunc("/auth", okHandler).Methods("GET")

	req := httptest.NewRequest("GET", "/auth", nil)
	req.AddCookie(&http.Cookie{Name: "ApiKey", Value: "not-a-real-hash"})
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestKeyGuard_ExpiredKeyRejectedWithGenericBody(t *testing.T) {
	f := newGuardFixture(t)
	f.router.HandleFunc("/auth", okHandler).Methods("GET")

	user := &auth.Principal{ID: 1, Email: "a@example.com", Role: auth.RoleUser}
	hash := f.addKey(user, time.Now().Add(-time.Hour))

	req := httptest.NewRequest("GET", "/auth", nil)
	req.AddCookie(&http.Cookie{Name: "ApiKey", Value: hash})
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	// Expired and invalid keys must be indistinguishable to the client.
	body := rec.Body.String()
	invalidReq := httptest.NewRequest("GET", "/auth", nil)
	invalidReq.AddCookie(&http.Cookie{Name: "ApiKey", Value: "bogus"})
	invalidRec := httptest.NewRecorder()
	f.router.ServeHTTP(invalidRec, invalidReq)
	if body != invalidRec.Body.String() {
		t.Errorf("expired body %q differs from invalid body %q", body, invalidRec.Body.String())
	}
}

func TestKeyGuard_ValidKeyAttachesPrincipal(t *testing.T) {
	f := newGuardFixture(t)

	var got *auth.Principal
	f.router.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		got = GetPrincipal(r)
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")

	user := &auth.Principal{ID: 42, Name: "Mina", Email: "mina@example.com", Role: auth.RoleAdmin}
	hash := f.addKey(user, time.Now().Add(time.Hour))

	req := httptest.NewRequest("GET", "/auth", nil)
	req.AddCookie(&http.Cookie{Name: "ApiKey", Value: hash})
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got == nil || got.ID != 42 || got.Role != auth.RoleAdmin {
		t.Errorf("principal = %+v, want id 42 role admin", got)
	}
}

func TestKeyGuard_TemplateRouteMetadata(t *testing.T) {
	// Public tags are declared on the mux template, not the concrete path.
	f := newGuardFixture(t)
	f.router.HandleFunc("/modules/{name}", okHandler).Methods("GET")
	f.registry.SetRoutePublic("GET", "/modules/{name}", true)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest("GET", "/modules/weather", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for public templated route", rec.Code)
	}
}
