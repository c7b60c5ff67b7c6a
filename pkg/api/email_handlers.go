package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gatehousehq/gatehouse/pkg/email"
	"github.com/gatehousehq/gatehouse/pkg/httputil"
	"github.com/gatehousehq/gatehouse/pkg/middleware"
	"github.com/gatehousehq/gatehouse/pkg/observability"
	"github.com/gatehousehq/gatehouse/pkg/users"
)

// EmailHandlers handles email confirmation HTTP requests
type EmailHandlers struct {
	users   *users.Service
	confirm *email.ConfirmationService
	logger  *observability.Logger
}

// NewEmailHandlers creates a new email handlers instance
func NewEmailHandlers(userService *users.Service, confirm *email.ConfirmationService, logger *observability.Logger) *EmailHandlers {
	return &EmailHandlers{
		users:   userService,
		confirm: confirm,
		logger:  logger,
	}
}

// RegisterRoutes registers email confirmation routes
func (h *EmailHandlers) RegisterRoutes(router *mux.Router, registry *middleware.Registry) {
	router.HandleFunc("/email/confirm", h.confirmEmail).Methods("POST")
	router.HandleFunc("/email/resend-confirmation-link", h.resendConfirmation).Methods("POST")

	registry.SetRoutePublic("POST", "/email/confirm", true)
}

// confirmEmail handles POST /email/confirm
func (h *EmailHandlers) confirmEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Token == "" {
		httputil.WriteBadRequest(w, "token is required")
		return
	}

	if h.confirm == nil {
		httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "email confirmation is not available")
		return
	}

	addr, err := h.confirm.DecodeVerificationToken(req.Token)
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

	if user.IsEmailConfirmed {
		httputil.WriteBadRequest(w, email.ErrAlreadyConfirmed.Error())
		return
	}

	if err := h.users.MarkEmailConfirmed(r.Context(), user.Email); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.logger.WithField("user_id", user.ID).Info("Email confirmed")
	httputil.WriteSuccess(w, map[string]string{"status": "email confirmed"})
}

// resendConfirmation handles POST /email/resend-confirmation-link for the
// authenticated principal
func (h *EmailHandlers) resendConfirmation(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "unauthorized")
		return
	}

	if h.confirm == nil {
		httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "email confirmation is not available")
		return
	}

	user, err := h.users.GetByID(r.Context(), principal.ID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if user.IsEmailConfirmed {
		httputil.WriteBadRequest(w, email.ErrAlreadyConfirmed.Error())
		return
	}

	if err := h.confirm.SendVerificationLink(r.Context(), user.Email); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]string{"status": "confirmation link sent"})
}
