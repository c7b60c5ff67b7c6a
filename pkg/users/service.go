package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/gatehousehq/gatehouse/pkg/auth"
	"github.com/gatehousehq/gatehouse/pkg/observability"
)

var (
	// ErrNotFound means no active user matched the lookup
	ErrNotFound = errors.New("user not found")

	// ErrEmailTaken means a user with that email already exists
	ErrEmailTaken = errors.New("user with that email already exists")

	// ErrWrongCredentials covers both unknown email and bad password so the
	// two are indistinguishable to a caller probing for accounts
	ErrWrongCredentials = errors.New("wrong credentials provided")

	// ErrSelfDeactivation means a user tried to deactivate themselves
	ErrSelfDeactivation = errors.New("you are not allowed to deactivate yourself")
)

// User is an account record. PasswordHash is nil for accounts registered
// through an external identity provider.
type User struct {
	ID                     int64     `json:"id"`
	Email                  string    `json:"email"`
	Name                   string    `json:"name"`
	PasswordHash           []byte    `json:"-"`
	Role                   auth.Role `json:"role"`
	IsEmailConfirmed       bool      `json:"is_email_confirmed"`
	IsActive               bool      `json:"is_active"`
	IsRegisteredWithGoogle bool      `json:"is_registered_with_google"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Projection returns the public principal shape attached to requests
func (u *User) Projection() *auth.Principal {
	return &auth.Principal{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
		Role:  u.Role,
	}
}

// Store is the durable user table. Lookups return (nil, nil) when no row
// matches; Create returns ErrEmailTaken on a unique violation.
type Store interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, search string, limit, offset int) ([]*User, int, error)
	UpdateProfile(ctx context.Context, id int64, name string) error
	UpdatePassword(ctx context.Context, id int64, passwordHash []byte) error
	MarkEmailConfirmed(ctx context.Context, email string) error
	Deactivate(ctx context.Context, id int64) error
}

// Page carries pagination metadata for list responses
type Page struct {
	Users      []*User `json:"users"`
	Total      int     `json:"total"`
	PageNumber int     `json:"page"`
	Limit      int     `json:"limit"`
	TotalPages int     `json:"total_pages"`
}

// Service implements account management on top of a Store
type Service struct {
	store      Store
	bcryptCost int
	logger     *observability.Logger
}

// NewService creates a user service. A zero bcrypt cost uses the library
// default.
func NewService(store Store, bcryptCost int, logger *observability.Logger) *Service {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		store:      store,
		bcryptCost: bcryptCost,
		logger:     logger,
	}
}

// Register creates a new account with the default user role
func (s *Service) Register(ctx context.Context, name, email, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Name:         name,
		PasswordHash: hash,
		Role:         auth.RoleUser,
		IsActive:     true,
	}

	if err := s.store.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", user.ID).Info("Registered user")
	return user, nil
}

// RegisterExternal creates an account for an externally verified identity.
// The email is treated as confirmed and no password is set.
func (s *Service) RegisterExternal(ctx context.Context, name, email string) (*User, error) {
	user := &User{
		Email:                  strings.ToLower(strings.TrimSpace(email)),
		Name:                   name,
		Role:                   auth.RoleUser,
		IsActive:               true,
		IsEmailConfirmed:       true,
		IsRegisteredWithGoogle: true,
	}

	if err := s.store.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", user.ID).Info("Registered user via Google")
	return user, nil
}

// Authenticate verifies an email/password pair. Unknown email and wrong
// password both return ErrWrongCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.store.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil || user.PasswordHash == nil {
		return nil, ErrWrongCredentials
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return nil, ErrWrongCredentials
	}

	return user, nil
}

// GetByID returns an active user by id
func (s *Service) GetByID(ctx context.Context, id int64) (*User, error) {
	user, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

// GetByEmail returns an active user by email
func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	user, err := s.store.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

// List returns a page of active users matching the optional search term
func (s *Service) List(ctx context.Context, search string, page, limit int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}

	users, total, err := s.store.List(ctx, search, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	totalPages := total / limit
	if total%limit != 0 {
		totalPages++
	}

	return &Page{
		Users:      users,
		Total:      total,
		PageNumber: page,
		Limit:      limit,
		TotalPages: totalPages,
	}, nil
}

// UpdateProfile changes a user's display name
func (s *Service) UpdateProfile(ctx context.Context, id int64, name string) (*User, error) {
	if err := s.store.UpdateProfile(ctx, id, name); err != nil {
		return nil, fmt.Errorf("failed to update user %d: %w", id, err)
	}
	return s.GetByID(ctx, id)
}

// UpdatePassword replaces a user's password hash
func (s *Service) UpdatePassword(ctx context.Context, id int64, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.store.UpdatePassword(ctx, id, hash); err != nil {
		return fmt.Errorf("failed to update password for user %d: %w", id, err)
	}
	s.logger.WithField("user_id", id).Info("Updated password")
	return nil
}

// MarkEmailConfirmed flags the account's email as verified
func (s *Service) MarkEmailConfirmed(ctx context.Context, email string) error {
	if err := s.store.MarkEmailConfirmed(ctx, strings.ToLower(strings.TrimSpace(email))); err != nil {
		return fmt.Errorf("failed to confirm email: %w", err)
	}
	return nil
}

// Deactivate disables an account. A user cannot deactivate themselves.
func (s *Service) Deactivate(ctx context.Context, id, requestedBy int64) (*User, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if user.ID == requestedBy {
		return nil, ErrSelfDeactivation
	}

	if err := s.store.Deactivate(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to deactivate user %d: %w", id, err)
	}

	user.IsActive = false
	s.logger.WithFields(map[string]interface{}{
		"user_id":      id,
		"requested_by": requestedBy,
	}).Info("Deactivated user")
	return user, nil
}
