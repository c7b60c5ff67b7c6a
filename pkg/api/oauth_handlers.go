package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/oauth2"

	"github.com/gatehousehq/gatehouse/pkg/httputil"
	"github.com/gatehousehq/gatehouse/pkg/middleware"
	"github.com/gatehousehq/gatehouse/pkg/observability"
	"github.com/gatehousehq/gatehouse/pkg/users"
)

const (
	googleIssuer    = "https://accounts.google.com"
	stateCookieName = "OAuthState"
	stateCookieAge  = 600 // seconds
)

// GoogleConfig holds the OAuth client credentials for Google sign-in
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// GoogleHandlers implements the Google OpenID Connect sign-in flow. A
// verified Google identity maps onto a local account, created on first
// sign-in, and then goes through the same session establishment as a
// password login.
type GoogleHandlers struct {
	users        *users.Service
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
	sessions     *AuthHandlers
	logger       *observability.Logger
}

// NewGoogleHandlers discovers Google's OIDC endpoints and builds the
// sign-in handlers. Discovery needs the network, so this runs at startup.
func NewGoogleHandlers(ctx context.Context, config GoogleConfig, userService *users.Service, logger *observability.Logger) (*GoogleHandlers, error) {
	provider, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: config.ClientID})

	oauth2Config := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  config.RedirectURL,
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}

	return &GoogleHandlers{
		users:        userService,
		verifier:     verifier,
		oauth2Config: oauth2Config,
		logger:       logger,
	}, nil
}

// RegisterRoutes registers the Google sign-in routes
func (h *GoogleHandlers) RegisterRoutes(router *mux.Router, registry *middleware.Registry) {
	router.HandleFunc("/auth/google", h.initiate).Methods("GET")
	router.HandleFunc("/auth/google/callback", h.callback).Methods("GET")

	registry.SetGroupPublic("/auth/google", true)
}

// initiate handles GET /auth/google: redirect to Google's consent screen
// with a single-use state bound to the browser by cookie.
func (h *GoogleHandlers) initiate(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   stateCookieAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.oauth2Config.AuthCodeURL(state), http.StatusFound)
}

// callback handles GET /auth/google/callback
func (h *GoogleHandlers) callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" || state != httputil.Cookie(r, stateCookieName) {
		httputil.WriteBadRequest(w, "state mismatch")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})

	code := r.URL.Query().Get("code")
	if code == "" {
		httputil.WriteBadRequest(w, "missing authorization code")
		return
	}

	identity, err := h.verifyCode(r.Context(), code)
	if err != nil {
		h.logger.WithError(err).Warn("Google sign-in failed")
		httputil.WriteUnauthorized(w, "unauthorized")
		return
	}

	user, err := h.getOrCreateUser(r.Context(), identity)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	apiKey, err := h.sessions.establishSession(w, r, user)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.logger.WithField("user_id", user.ID).Info("User logged in via Google")
	httputil.WriteSuccess(w, map[string]interface{}{
		"user":    user,
		"api_key": apiKey,
	})
}

// googleIdentity is the slice of ID token claims the flow needs
type googleIdentity struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// verifyCode exchanges the authorization code and verifies the ID token
func (h *GoogleHandlers) verifyCode(ctx context.Context, code string) (*googleIdentity, error) {
	oauth2Token, err := h.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("missing id_token in response")
	}

	idToken, err := h.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var identity googleIdentity
	if err := idToken.Claims(&identity); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	if identity.Email == "" || !identity.EmailVerified {
		return nil, errors.New("Google account email is missing or unverified")
	}

	return &identity, nil
}

// getOrCreateUser maps a verified Google identity to a local account
func (h *GoogleHandlers) getOrCreateUser(ctx context.Context, identity *googleIdentity) (*users.User, error) {
	user, err := h.users.GetByEmail(ctx, identity.Email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, users.ErrNotFound) {
		return nil, err
	}

	name := identity.Name
	if name == "" {
		name = identity.Email
	}
	return h.users.RegisterExternal(ctx, name, identity.Email)
}
