package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gatehousehq/gatehouse/pkg/auth"
	"github.com/gatehousehq/gatehouse/pkg/contextkeys"
	"github.com/gatehousehq/gatehouse/pkg/httputil"
	"github.com/gatehousehq/gatehouse/pkg/observability"
)

// KeyGuard authenticates requests by the API key cookie. Public routes pass
// through untouched; everything else requires a key that the key manager
// resolves to a principal, which is then attached to the request context.
type KeyGuard struct {
	manager    *auth.Manager
	registry   *Registry
	cookieName string
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewKeyGuard creates the authorization guard
func NewKeyGuard(manager *auth.Manager, registry *Registry, cookieName string, logger *observability.Logger, metrics *observability.Metrics) *KeyGuard {
	if cookieName == "" {
		cookieName = "ApiKey"
	}
	return &KeyGuard{
		manager:    manager,
		registry:   registry,
		cookieName: cookieName,
		logger:     logger,
		metrics:    metrics,
	}
}

// Handler wraps an HTTP handler with key authentication
func (g *KeyGuard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, template := routeIdentity(r)

		if g.registry.IsPublic(method, template) {
			next.ServeHTTP(w, r)
			return
		}

		presented := httputil.Cookie(r, g.cookieName)
		if presented == "" {
			g.reject(w, r, "missing_key", nil)
			return
		}

		principal, err := g.manager.Validate(r.Context(), presented)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrExpiredKey):
				g.reject(w, r, "expired_key", err)
			case errors.Is(err, auth.ErrInvalidKey):
				g.reject(w, r, "invalid_key", err)
			default:
				// Infrastructure failure: still reject rather than hang,
				// but log it loudly.
				g.logger.WithError(err).Error("Key validation failed")
				g.reject(w, r, "validation_error", err)
			}
			return
		}

		ctx := context.WithValue(r.Context(), contextkeys.PrincipalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// reject sends a generic unauthorized response. The specific reason is kept
// out of the body so clients cannot probe for valid keys.
func (g *KeyGuard) reject(w http.ResponseWriter, r *http.Request, reason string, err error) {
	g.metrics.AuthRejectionsTotal.WithLabelValues(reason).Inc()
	g.logger.WithFields(map[string]interface{}{
		"reason": reason,
		"method": r.Method,
		"path":   r.URL.Path,
	}).WithError(err).Info("Rejected request")
	httputil.WriteUnauthorized(w, "unauthorized")
}

// routeIdentity returns the method and mux path template for the request,
// falling back to the raw path for unmatched routes.
func routeIdentity(r *http.Request) (string, string) {
	template := r.URL.Path
	if route := mux.CurrentRoute(r); route != nil {
		if t, err := route.GetPathTemplate(); err == nil {
			template = t
		}
	}
	return r.Method, template
}

// GetPrincipal extracts the authenticated principal from the request, or nil
func GetPrincipal(r *http.Request) *auth.Principal {
	v := r.Context().Value(contextkeys.PrincipalKey)
	if v == nil {
		return nil
	}
	principal, ok := v.(*auth.Principal)
	if !ok {
		return nil
	}
	return principal
}
