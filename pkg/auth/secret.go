package auth

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// SecretGenerator produces API key secrets and their storable digests
type SecretGenerator struct{}

// NewSecretGenerator creates a new secret generator
func NewSecretGenerator() *SecretGenerator {
	return &SecretGenerator{}
}

// Generate creates a new secret and returns it with its SHA-256 hex digest.
// The secret is a random UUIDv4 (122 bits of crypto/rand entropy); only the
// digest is ever persisted or cached.
func (g *SecretGenerator) Generate() (secret string, hashedKey string) {
	secret = uuid.NewString()
	return secret, HashSecret(secret)
}

// HashSecret computes the SHA-256 hex digest of a secret for lookup.
// The digest is deterministic so it can serve directly as a store and
// cache key.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
