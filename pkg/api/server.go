package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gatehousehq/gatehouse/pkg/auth"
	"github.com/gatehousehq/gatehouse/pkg/email"
	"github.com/gatehousehq/gatehouse/pkg/httputil"
	"github.com/gatehousehq/gatehouse/pkg/middleware"
	"github.com/gatehousehq/gatehouse/pkg/observability"
	"github.com/gatehousehq/gatehouse/pkg/users"
)

// Server represents our API server
type Server struct {
	router   *mux.Router
	registry *middleware.Registry
	keyGuard *middleware.KeyGuard
	roles    *middleware.RoleGuard
	handler  http.Handler

	authHandlers  *AuthHandlers
	userHandlers  *UserHandlers
	emailHandlers *EmailHandlers
	oauthHandlers *GoogleHandlers

	logger *observability.Logger
}

// Options carries the server's collaborators
type Options struct {
	Users   *users.Service
	Keys    *auth.Manager
	Confirm *email.ConfirmationService
	// Google is optional; nil disables the Google sign-in routes
	Google *GoogleHandlers

	// CookieName is the session cookie the key guard reads and the auth
	// handlers write
	CookieName string
	// CookieMaxAgeSeconds bounds the session cookie lifetime; normally the
	// key lifetime
	CookieMaxAgeSeconds int

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	registry := middleware.NewRegistry()

	s := &Server{
		router:        mux.NewRouter(),
		registry:      registry,
		keyGuard:      middleware.NewKeyGuard(opts.Keys, registry, opts.CookieName, opts.Logger, opts.Metrics),
		roles:         middleware.NewRoleGuard(opts.Users, registry, opts.Logger, opts.Metrics),
		authHandlers:  NewAuthHandlers(opts.Users, opts.Keys, opts.Confirm, opts.CookieName, opts.CookieMaxAgeSeconds, opts.Logger),
		userHandlers:  NewUserHandlers(opts.Users, opts.Logger),
		emailHandlers: NewEmailHandlers(opts.Users, opts.Confirm, opts.Logger),
		oauthHandlers: opts.Google,
		logger:        opts.Logger,
	}

	if s.oauthHandlers != nil {
		s.oauthHandlers.sessions = s.authHandlers
	}

	s.setupRoutes()

	// The guards run as mux middleware so the matched route template is
	// available for metadata lookup. Order matters: authentication resolves
	// the principal the role guard then checks.
	s.router.Use(s.keyGuard.Handler, s.roles.Handler)

	chain := http.Handler(s.router)
	chain = httputil.LoggingMiddleware(opts.Logger)(chain)
	chain = httputil.RecoveryMiddleware(opts.Logger)(chain)
	if opts.Metrics != nil {
		chain = observability.HTTPMetricsMiddleware(opts.Metrics)(chain)
	}
	s.handler = chain

	return s
}

// setupRoutes configures all the API routes and their access metadata
func (s *Server) setupRoutes() {
	s.authHandlers.RegisterRoutes(s.router, s.registry)
	s.userHandlers.RegisterRoutes(s.router, s.registry)
	s.emailHandlers.RegisterRoutes(s.router, s.registry)
	if s.oauthHandlers != nil {
		s.oauthHandlers.RegisterRoutes(s.router, s.registry)
	}
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Router returns the bare mux router, mainly for tests
func (s *Server) Router() *mux.Router {
	return s.router
}

// Registry returns the route metadata table
func (s *Server) Registry() *middleware.Registry {
	return s.registry
}
