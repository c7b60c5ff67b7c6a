// Package auth implements the API key lifecycle for Gatehouse.
//
// # Overview
//
// This package is the single authority for key issuance, validation,
// rotation and deactivation. Keys are random secrets whose SHA-256 digest
// is the only form ever persisted or cached; validation is a two-tier
// lookup that consults a Redis-backed cache before the Postgres store.
//
// # Key Lifecycle
//
// Issuance:
//
//	manager := auth.NewManager(store, cache, auth.DefaultConfig(), logger, metrics)
//	secret, err := manager.Issue(ctx, principal)
//	// secret: plaintext, shown once
//	// SHA256(secret): persisted, used as the lookup key
//
// Validation (cache hit short-circuits the store):
//
//	principal, err := manager.Validate(ctx, auth.HashSecret(secret))
//	switch {
//	case errors.Is(err, auth.ErrInvalidKey):  // no active record
//	case errors.Is(err, auth.ErrExpiredKey):  // record past expiry
//	}
//
// # Consistency Model
//
// The store is authoritative. Cache entries carry the key's own expiry and
// are re-checked on every hit, so a stale cache entry can never outlive the
// underlying key. Cache read errors degrade to a store lookup; cache write
// errors are logged and swallowed.
package auth
