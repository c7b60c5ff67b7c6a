// Package email handles email confirmation and password-reset links:
// HMAC-signed short-lived tokens plus pluggable delivery.
package email
