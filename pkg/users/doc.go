// Package users provides account management: registration with bcrypt
// password hashing, credential verification, profile and password updates,
// email confirmation state and account deactivation.
package users
