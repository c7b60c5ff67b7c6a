package middleware

import (
	"net/http"

	"github.com/gatehousehq/gatehouse/pkg/auth"
	"github.com/gatehousehq/gatehouse/pkg/httputil"
	"github.com/gatehousehq/gatehouse/pkg/observability"
	"github.com/gatehousehq/gatehouse/pkg/users"
)

// RoleGuard enforces per-route role restrictions. It runs after KeyGuard
// and re-fetches the user record so a role change takes effect immediately
// rather than whenever the attached projection was cached.
type RoleGuard struct {
	users    *users.Service
	registry *Registry
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewRoleGuard creates the role guard
func NewRoleGuard(userService *users.Service, registry *Registry, logger *observability.Logger, metrics *observability.Metrics) *RoleGuard {
	return &RoleGuard{
		users:    userService,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
	}
}

// Handler wraps an HTTP handler with role checking
func (g *RoleGuard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, template := routeIdentity(r)

		allowed := g.registry.AllowedRoles(method, template)
		if len(allowed) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		principal := GetPrincipal(r)
		if principal == nil {
			g.deny(w, r, "no_principal")
			return
		}

		user, err := g.users.GetByID(r.Context(), principal.ID)
		if err != nil {
			g.deny(w, r, "lookup_failed")
			return
		}

		if !roleAllowed(user.Role, allowed) {
			g.deny(w, r, "role_mismatch")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *RoleGuard) deny(w http.ResponseWriter, r *http.Request, reason string) {
	g.metrics.AuthRejectionsTotal.WithLabelValues(reason).Inc()
	g.logger.WithFields(map[string]interface{}{
		"reason": reason,
		"method": r.Method,
		"path":   r.URL.Path,
	}).Info("Denied request")
	httputil.WriteForbidden(w, "forbidden")
}

func roleAllowed(role auth.Role, allowed []auth.Role) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}
