// Package api provides the HTTP REST API server for the Gatehouse account service.
//
// # Overview
//
// This package implements the HTTP layer over the user and key services. It
// handles account registration, cookie-based session login and logout, API
// key rotation, password reset, email confirmation, Google sign-in, and user
// administration.
//
// # Architecture
//
// The API is built on gorilla/mux and organized into handler groups:
//
//   - Authentication: register, log-in, log-out, whoami, key rotation,
//     forgot/reset password
//   - Email: confirmation of addresses and resending of confirmation links
//   - Google: OpenID Connect sign-in via the authorization-code flow
//   - Users: paginated listing, profile reads and edits, deactivation
//
// Every request passes through two guards before reaching a handler. The key
// guard authenticates the API key cookie against the key manager and attaches
// the resolved principal to the request context; the role guard then checks
// the principal's freshly loaded role against the route's declared role
// restriction. Route access metadata (public routes, role restrictions) lives
// in an explicit middleware.Registry populated at route registration time.
//
// # Key Types
//
// Server coordinates routing, guards and handlers:
//
//	server := api.NewServer(api.Options{...})
//	http.ListenAndServe(addr, server.Handler())
package api
