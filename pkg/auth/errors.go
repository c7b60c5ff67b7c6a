package auth

import "errors"

// Authentication failures are distinguishable by kind for logging, but
// callers at the guard boundary treat both as a single reject decision.
var (
	// ErrInvalidKey means the presented key hashes to no active record
	ErrInvalidKey = errors.New("invalid API key")

	// ErrExpiredKey means a matching record exists but is past its expiry
	ErrExpiredKey = errors.New("API key has expired")
)

// IsAuthFailure reports whether err is one of the authentication failure
// kinds, as opposed to an infrastructure error.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrInvalidKey) || errors.Is(err, ErrExpiredKey)
}
