// Package middleware provides the request guard chain: KeyGuard resolves
// the API key cookie to a principal through the key manager, and RoleGuard
// enforces per-route role restrictions afterwards. Both consult an explicit
// route metadata registry instead of handler annotations; route-level
// metadata overrides group-level metadata.
package middleware
