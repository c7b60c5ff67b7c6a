package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gatehousehq/gatehouse/pkg/auth"
	"github.com/gatehousehq/gatehouse/pkg/email"
	"github.com/gatehousehq/gatehouse/pkg/httputil"
	"github.com/gatehousehq/gatehouse/pkg/middleware"
	"github.com/gatehousehq/gatehouse/pkg/observability"
	"github.com/gatehousehq/gatehouse/pkg/users"
)

// AuthHandlers handles authentication-related HTTP requests. The session
// cookie always carries the hashed key; the plaintext secret is only ever
// in response bodies.
type AuthHandlers struct {
	users        *users.Service
	keys         *auth.Manager
	confirm      *email.ConfirmationService
	cookieName   string
	cookieMaxAge int
	logger       *observability.Logger
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(userService *users.Service, keys *auth.Manager, confirm *email.ConfirmationService, cookieName string, cookieMaxAge int, logger *observability.Logger) *AuthHandlers {
	return &AuthHandlers{
		users:        userService,
		keys:         keys,
		confirm:      confirm,
		cookieName:   cookieName,
		cookieMaxAge: cookieMaxAge,
		logger:       logger,
	}
}

// RegisterRoutes registers authentication routes and their access metadata
func (h *AuthHandlers) RegisterRoutes(router *mux.Router, registry *middleware.Registry) {
	router.HandleFunc("/auth/register", h.register).Methods("POST")
	router.HandleFunc("/auth/log-in", h.logIn).Methods("POST")
	router.HandleFunc("/auth/log-out", h.logOut).Methods("POST")
	router.HandleFunc("/auth", h.whoAmI).Methods("GET")
	router.HandleFunc("/auth/rotate", h.rotate).Methods("POST")
	router.HandleFunc("/auth/forgot-password", h.forgotPassword).Methods("POST")
	router.HandleFunc("/auth/reset-password", h.resetPassword).Methods("POST")

	registry.SetRoutePublic("POST", "/auth/register", true)
	registry.SetRoutePublic("POST", "/auth/log-in", true)
	registry.SetRoutePublic("POST", "/auth/forgot-password", true)
	registry.SetRoutePublic("POST", "/auth/reset-password", true)
}

// register handles POST /auth/register
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if req.Email == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "email and password are required")
		return
	}
	if len(req.Password) < 8 {
		httputil.WriteBadRequest(w, "password must be at least 8 characters")
		return
	}

	user, err := h.users.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrEmailTaken) {
			httputil.WriteConflict(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	if h.confirm != nil {
		if err := h.confirm.SendVerificationLink(r.Context(), user.Email); err != nil {
			// A failed mail must not fail registration; the link can be resent.
			h.logger.WithError(err).Warn("Failed to send confirmation email")
		}
	}

	httputil.WriteCreated(w, user)
}

// logIn handles POST /auth/log-in. A valid existing key for the user is
// reused; otherwise a fresh one is issued. The cookie carries the hashed key.
func (h *AuthHandlers) logIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrWrongCredentials) {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	apiKey, err := h.establishSession(w, r, user)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.logger.WithField("user_id", user.ID).Info("User logged in")
	httputil.WriteSuccess(w, map[string]interface{}{
		"user":    user,
		"api_key": apiKey,
	})
}

// establishSession reuses or issues a key for the user and sets the session
// cookie to the hashed key. On a fresh issue the returned body key is the
// plaintext secret, handed out exactly once; on reuse only the hash exists
// anymore, so that is returned.
func (h *AuthHandlers) establishSession(w http.ResponseWriter, r *http.Request, user *users.User) (string, error) {
	hashedKey, err := h.keys.GetValidKeyForOwner(r.Context(), user.ID)
	if err != nil {
		return "", err
	}

	bodyKey := hashedKey
	if hashedKey == "" {
		secret, err := h.keys.Issue(r.Context(), user.Projection())
		if err != nil {
			return "", err
		}
		hashedKey = auth.HashSecret(secret)
		bodyKey = secret
	}

	httputil.SetSessionCookie(w, h.cookieName, hashedKey, h.cookieMaxAge)
	return bodyKey, nil
}

// logOut handles POST /auth/log-out
func (h *AuthHandlers) logOut(w http.ResponseWriter, r *http.Request) {
	presented := httputil.Cookie(r, h.cookieName)
	if presented != "" {
		if err := h.keys.Deactivate(r.Context(), presented); err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
	}

	httputil.ClearSessionCookie(w, h.cookieName)
	httputil.WriteSuccess(w, map[string]string{"status": "logged out"})
}

// whoAmI handles GET /auth
func (h *AuthHandlers) whoAmI(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "unauthorized")
		return
	}
	httputil.WriteSuccess(w, principal)
}

// rotate handles POST /auth/rotate. The body carries the plaintext secret
// being retired; the response carries its replacement and the cookie is
// re-set to the new hash.
func (h *AuthHandlers) rotate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.APIKey == "" {
		httputil.WriteBadRequest(w, "api_key is required")
		return
	}

	newSecret, err := h.keys.Rotate(r.Context(), req.APIKey)
	if err != nil {
		if auth.IsAuthFailure(err) {
			httputil.WriteUnauthorized(w, "unauthorized")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.SetSessionCookie(w, h.cookieName, auth.HashSecret(newSecret), h.cookieMaxAge)
	httputil.WriteSuccess(w, map[string]string{"api_key": newSecret})
}

// forgotPassword handles POST /auth/forgot-password. The response is the
// same whether or not the account exists.
func (h *AuthHandlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" {
		httputil.WriteBadRequest(w, "email is required")
		return
	}

	if h.confirm == nil {
		httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "password reset is not available")
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, users.ErrNotFound) {
			httputil.WriteInternalError(w, err)
			return
		}
	} else {
		if err := h.confirm.SendPasswordResetLink(r.Context(), user.Email); err != nil {
			h.logger.WithError(err).Warn("Failed to send password reset email")
		}
	}

	httputil.WriteSuccess(w, map[string]string{
		"status": "if the account exists, a reset link has been sent",
	})
}

// resetPassword handles POST /auth/reset-password
func (h *AuthHandlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Token == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "token and password are required")
		return
	}
	if len(req.Password) < 8 {
		httputil.WriteBadRequest(w, "password must be at least 8 characters")
		return
	}

	if h.confirm == nil {
		httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "password reset is not available")
		return
	}

	addr, err := h.confirm.DecodeResetToken(req.Token)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid or expired token")
		return
	}

	user, err := h.users.GetByEmail(r.Context(), addr)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			httputil.WriteBadRequest(w, "invalid or expired token")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	if err := h.users.UpdatePassword(r.Context(), user.ID, req.Password); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]string{"status": "password updated"})
}
