package email

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyConfirmed means the account's email is already verified
var ErrAlreadyConfirmed = errors.New("email already confirmed")

// ConfirmationConfig configures the confirmation service
type ConfirmationConfig struct {
	// VerificationSecret signs confirmation link tokens
	VerificationSecret []byte
	// ResetSecret signs password-reset link tokens
	ResetSecret []byte
	// TokenTTL bounds how long a link stays usable
	TokenTTL time.Duration
	// BaseURL is the public URL links point at
	BaseURL string
}

// ConfirmationService produces and consumes the signed links used for
// email verification and password resets. Delivery goes through a Sender;
// token mechanics through a TokenCodec per secret.
type ConfirmationService struct {
	sender       Sender
	verification *TokenCodec
	reset        *TokenCodec
	baseURL      string
}

// NewConfirmationService creates a confirmation service
func NewConfirmationService(sender Sender, config ConfirmationConfig) *ConfirmationService {
	return &ConfirmationService{
		sender:       sender,
		verification: NewTokenCodec(config.VerificationSecret, config.TokenTTL),
		reset:        NewTokenCodec(config.ResetSecret, config.TokenTTL),
		baseURL:      config.BaseURL,
	}
}

// SendVerificationLink mails a confirmation link for the address
func (s *ConfirmationService) SendVerificationLink(ctx context.Context, email string) error {
	token, err := s.verification.Encode(email)
	if err != nil {
		return err
	}

	link := fmt.Sprintf("%s/email/confirm?token=%s", s.baseURL, token)
	body := fmt.Sprintf("Welcome! Confirm your email by opening this link: %s", link)
	return s.sender.Send(ctx, email, "Confirm your email", body)
}

// DecodeVerificationToken returns the email a confirmation token was issued for
func (s *ConfirmationService) DecodeVerificationToken(token string) (string, error) {
	return s.verification.Decode(token)
}

// SendPasswordResetLink mails a password reset link for the address
func (s *ConfirmationService) SendPasswordResetLink(ctx context.Context, email string) error {
	token, err := s.reset.Encode(email)
	if err != nil {
		return err
	}

	link := fmt.Sprintf("%s/auth/reset-password?token=%s", s.baseURL, token)
	body := fmt.Sprintf("A password reset was requested for your account. Reset it here: %s", link)
	return s.sender.Send(ctx, email, "Reset your password", body)
}

// DecodeResetToken returns the email a reset token was issued for
func (s *ConfirmationService) DecodeResetToken(token string) (string, error) {
	return s.reset.Decode(token)
}
