package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gatehousehq/gatehouse/pkg/auth"
	"github.com/gatehousehq/gatehouse/pkg/httputil"
	"github.com/gatehousehq/gatehouse/pkg/middleware"
	"github.com/gatehousehq/gatehouse/pkg/observability"
	"github.com/gatehousehq/gatehouse/pkg/users"
)

// UserHandlers handles user administration HTTP requests
type UserHandlers struct {
	users  *users.Service
	logger *observability.Logger
}

// NewUserHandlers creates a new user handlers instance
func NewUserHandlers(userService *users.Service, logger *observability.Logger) *UserHandlers {
	return &UserHandlers{
		users:  userService,
		logger: logger,
	}
}

// RegisterRoutes registers user routes and their access metadata. The group
// default restricts /users to administrators; the self-service routes relax
// it per route.
func (h *UserHandlers) RegisterRoutes(router *mux.Router, registry *middleware.Registry) {
	router.HandleFunc("/users", h.listUsers).Methods("GET")
	router.HandleFunc("/users/{id}", h.getUser).Methods("GET")
	router.HandleFunc("/users/{id}", h.updateUser).Methods("PATCH")
	router.HandleFunc("/users/{id}", h.deactivateUser).Methods("DELETE")

	registry.SetGroupRoles("/users", auth.RoleAdmin, auth.RoleOwner)
	// Any authenticated principal may read or edit a profile; the handlers
	// enforce self-or-admin.
	registry.SetRouteRoles("GET", "/users/{id}")
	registry.SetRouteRoles("PATCH", "/users/{id}")
}

// listUsers handles GET /users
func (h *UserHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	search := r.URL.Query().Get("search")
	page := httputil.QueryInt(r, "page", 1)
	limit := httputil.QueryInt(r, "limit", 10)

	result, err := h.users.List(r.Context(), search, page, limit)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, result)
}

// getUser handles GET /users/{id}
func (h *UserHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if !h.selfOrAdmin(w, r, id) {
		return
	}

	user, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			httputil.WriteNotFoundError(w, "user not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, user)
}

// updateUser handles PATCH /users/{id}
func (h *UserHandlers) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if !h.selfOrAdmin(w, r, id) {
		return
	}

	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" && req.Password == "" {
		httputil.WriteBadRequest(w, "nothing to update")
		return
	}
	if req.Password != "" && len(req.Password) < 8 {
		httputil.WriteBadRequest(w, "password must be at least 8 characters")
		return
	}

	if req.Password != "" {
		if err := h.users.UpdatePassword(r.Context(), id, req.Password); err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
	}

	user, err := h.users.GetByID(r.Context(), id)
	if req.Name != "" {
		user, err = h.users.UpdateProfile(r.Context(), id, req.Name)
	}
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			httputil.WriteNotFoundError(w, "user not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, user)
}

// deactivateUser handles DELETE /users/{id}
func (h *UserHandlers) deactivateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteForbidden(w, "forbidden")
		return
	}

	user, err := h.users.Deactivate(r.Context(), id, principal.ID)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrNotFound):
			httputil.WriteNotFoundError(w, "user not found")
		case errors.Is(err, users.ErrSelfDeactivation):
			httputil.WriteForbidden(w, err.Error())
		default:
			httputil.WriteInternalError(w, err)
		}
		return
	}

	httputil.WriteSuccess(w, user)
}

// selfOrAdmin allows the request through when the principal is the target
// user or holds an administrative role. Writes the refusal itself.
func (h *UserHandlers) selfOrAdmin(w http.ResponseWriter, r *http.Request, targetID int64) bool {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteForbidden(w, "forbidden")
		return false
	}
	if principal.ID == targetID || principal.Role == auth.RoleAdmin || principal.Role == auth.RoleOwner {
		return true
	}
	httputil.WriteForbidden(w, "forbidden")
	return false
}
