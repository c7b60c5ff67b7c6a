package auth

import "time"

// Role is the access level attached to a principal
type Role string

const (
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether the role is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleUser:
		return true
	}
	return false
}

// Principal is the public projection of an authenticated user. It is the
// only user shape the key subsystem ever reads or caches.
type Principal struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// APIKey is the persistent record of an issued key. Only the SHA-256 digest
// of the secret is ever stored; the plaintext is returned once at issuance.
type APIKey struct {
	ID        int64     `json:"id"`
	HashedKey string    `json:"-"`
	UserID    int64     `json:"user_id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// User is the owner projection, populated by lookups that join the
	// users table.
	User *Principal `json:"-"`
}

// Expired reports whether the key is past its expiry at the given instant
func (k *APIKey) Expired(now time.Time) bool {
	return !k.ExpiresAt.IsZero() && k.ExpiresAt.Before(now)
}
