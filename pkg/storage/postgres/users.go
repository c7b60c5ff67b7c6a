package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/gatehousehq/gatehouse/pkg/users"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations
const uniqueViolation = "23505"

// UserStore persists accounts in the users table
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a user store on the given connection pool
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// Create inserts a new user row. A duplicate email surfaces as
// users.ErrEmailTaken.
func (s *UserStore) Create(ctx context.Context, user *users.User) error {
	query := `
		INSERT INTO users (email, name, password_hash, role, is_email_confirmed, is_active, is_registered_with_google)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := s.db.QueryRowContext(ctx, query,
		user.Email,
		user.Name,
		user.PasswordHash,
		user.Role,
		user.IsEmailConfirmed,
		user.IsActive,
		user.IsRegisteredWithGoogle,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return users.ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

const userColumns = `id, email, name, password_hash, role, is_email_confirmed, is_active, is_registered_with_google, created_at, updated_at`

func scanUser(row *sql.Row) (*users.User, error) {
	var u users.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.PasswordHash,
		&u.Role,
		&u.IsEmailConfirmed,
		&u.IsActive,
		&u.IsRegisteredWithGoogle,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// GetByID returns an active user by id, or (nil, nil) when absent
func (s *UserStore) GetByID(ctx context.Context, id int64) (*users.User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE id = $1 AND is_active = TRUE", userColumns)
	return scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetByEmail returns an active user by email, or (nil, nil) when absent
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE email = $1 AND is_active = TRUE", userColumns)
	return scanUser(s.db.QueryRowContext(ctx, query, email))
}

// List returns a page of active users matching the search term, plus the
// total match count. An empty search matches everyone.
func (s *UserStore) List(ctx context.Context, search string, limit, offset int) ([]*users.User, int, error) {
	pattern := "%" + search + "%"

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM users
		WHERE is_active = TRUE AND ($1 = '' OR name ILIKE $2 OR email ILIKE $2 OR role ILIKE $2)
	`, search, pattern).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM users
		WHERE is_active = TRUE AND ($1 = '' OR name ILIKE $2 OR email ILIKE $2 OR role ILIKE $2)
		ORDER BY id ASC
		LIMIT $3 OFFSET $4
	`, userColumns)

	rows, err := s.db.QueryContext(ctx, query, search, pattern, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var result []*users.User
	for rows.Next() {
		var u users.User
		err := rows.Scan(
			&u.ID,
			&u.Email,
			&u.Name,
			&u.PasswordHash,
			&u.Role,
			&u.IsEmailConfirmed,
			&u.IsActive,
			&u.IsRegisteredWithGoogle,
			&u.CreatedAt,
			&u.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		result = append(result, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate users: %w", err)
	}

	return result, total, nil
}

// UpdateProfile changes a user's display name
func (s *UserStore) UpdateProfile(ctx context.Context, id int64, name string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET name = $1, updated_at = NOW() WHERE id = $2", name, id)
	if err != nil {
		return fmt.Errorf("failed to update user %d: %w", id, err)
	}
	return nil
}

// UpdatePassword replaces a user's password hash
func (s *UserStore) UpdatePassword(ctx context.Context, id int64, passwordHash []byte) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET password_hash = $1, updated_at = NOW() WHERE id = $2", passwordHash, id)
	if err != nil {
		return fmt.Errorf("failed to update password for user %d: %w", id, err)
	}
	return nil
}

// MarkEmailConfirmed flags the account's email as verified
func (s *UserStore) MarkEmailConfirmed(ctx context.Context, email string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET is_email_confirmed = TRUE, updated_at = NOW() WHERE email = $1", email)
	if err != nil {
		return fmt.Errorf("failed to mark email confirmed: %w", err)
	}
	return nil
}

// Deactivate disables an account, clears its stored credential and revokes
// its API keys in one transaction
func (s *UserStore) Deactivate(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"UPDATE users SET is_active = FALSE, password_hash = NULL, updated_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to deactivate user %d: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM api_keys WHERE user_id = $1", id); err != nil {
		return fmt.Errorf("failed to revoke keys for user %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deactivation of user %d: %w", id, err)
	}
	return nil
}
