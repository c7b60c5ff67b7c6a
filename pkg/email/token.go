package email

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers malformed, mis-signed and expired tokens
var ErrInvalidToken = errors.New("invalid or expired token")

type emailClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies the short-lived tokens embedded in
// confirmation and password-reset links
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewTokenCodec creates a codec with the given HMAC secret and token TTL
func NewTokenCodec(secret []byte, ttl time.Duration) *TokenCodec {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &TokenCodec{
		secret: secret,
		ttl:    ttl,
		issuer: "gatehouse",
	}
}

// Encode signs a token carrying the email address
func (c *TokenCodec) Encode(email string) (string, error) {
	now := time.Now()
	claims := emailClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			Issuer:    c.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies a token and returns the embedded email address
func (c *TokenCodec) Decode(tokenStr string) (string, error) {
	claims := &emailClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return c.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	if claims.Email == "" {
		return "", ErrInvalidToken
	}

	return claims.Email, nil
}
