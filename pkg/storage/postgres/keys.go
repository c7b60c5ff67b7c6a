package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gatehousehq/gatehouse/pkg/auth"
)

// KeyStore persists API keys in the api_keys table
type KeyStore struct {
	db *sql.DB
}

// NewKeyStore creates a key store on the given connection pool
func NewKeyStore(db *sql.DB) *KeyStore {
	return &KeyStore{db: db}
}

// Insert persists a new API key record
func (s *KeyStore) Insert(ctx context.Context, key *auth.APIKey) error {
	query := `
		INSERT INTO api_keys (hashed_key, user_id, is_active, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		key.HashedKey,
		key.UserID,
		key.IsActive,
		key.CreatedAt,
		key.ExpiresAt,
	).Scan(&key.ID)

	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}

	return nil
}

// FindActiveByHash returns the active key matching the hash, joined with its
// owner's public projection, or (nil, nil) when no row matches.
func (s *KeyStore) FindActiveByHash(ctx context.Context, hashedKey string) (*auth.APIKey, error) {
	query := `
		SELECT k.id, k.hashed_key, k.user_id, k.is_active, k.created_at, k.expires_at,
		       u.id, u.name, u.email, u.role
		FROM api_keys k
		JOIN users u ON u.id = k.user_id AND u.is_active = TRUE
		WHERE k.hashed_key = $1 AND k.is_active = TRUE
	`

	var key auth.APIKey
	var user auth.Principal

	err := s.db.QueryRowContext(ctx, query, hashedKey).Scan(
		&key.ID,
		&key.HashedKey,
		&key.UserID,
		&key.IsActive,
		&key.CreatedAt,
		&key.ExpiresAt,
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Role,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find api key by hash: %w", err)
	}

	key.User = &user
	return &key, nil
}

// FindByHash returns the key matching the hash regardless of activity flag,
// or (nil, nil) when no row matches.
func (s *KeyStore) FindByHash(ctx context.Context, hashedKey string) (*auth.APIKey, error) {
	query := `
		SELECT id, hashed_key, user_id, is_active, created_at, expires_at
		FROM api_keys
		WHERE hashed_key = $1
	`

	var key auth.APIKey
	err := s.db.QueryRowContext(ctx, query, hashedKey).Scan(
		&key.ID,
		&key.HashedKey,
		&key.UserID,
		&key.IsActive,
		&key.CreatedAt,
		&key.ExpiresAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find api key by hash: %w", err)
	}

	return &key, nil
}

// FindValidForUser returns an active, non-expired key for the user, or
// (nil, nil) when none exists.
func (s *KeyStore) FindValidForUser(ctx context.Context, userID int64, now time.Time) (*auth.APIKey, error) {
	query := `
		SELECT id, hashed_key, user_id, is_active, created_at, expires_at
		FROM api_keys
		WHERE user_id = $1 AND is_active = TRUE AND expires_at > $2
		ORDER BY expires_at DESC
		LIMIT 1
	`

	var key auth.APIKey
	err := s.db.QueryRowContext(ctx, query, userID, now).Scan(
		&key.ID,
		&key.HashedKey,
		&key.UserID,
		&key.IsActive,
		&key.CreatedAt,
		&key.ExpiresAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find valid key for user %d: %w", userID, err)
	}

	return &key, nil
}

// UpdateHashAndExpiry rotates a key in place: same row, new digest and expiry
func (s *KeyStore) UpdateHashAndExpiry(ctx context.Context, id int64, hashedKey string, expiresAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET hashed_key = $1, expires_at = $2 WHERE id = $3
	`, hashedKey, expiresAt, id)
	if err != nil {
		return fmt.Errorf("failed to update api key %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("api key not found: %d", id)
	}

	return nil
}

// DeleteByID hard-deletes a key row
func (s *KeyStore) DeleteByID(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM api_keys WHERE id = $1", id); err != nil {
		return fmt.Errorf("failed to delete api key %d: %w", id, err)
	}
	return nil
}

// DeleteExpired removes all rows past their expiry and reports how many
func (s *KeyStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM api_keys WHERE expires_at < $1", now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired api keys: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return rows, nil
}

// CountActive returns the number of active, non-expired keys
func (s *KeyStore) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM api_keys WHERE is_active = TRUE AND expires_at > NOW()",
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active api keys: %w", err)
	}
	return count, nil
}
