// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings. Every variable carries the GATEHOUSE_ prefix.
//
// # Configuration Structure
//
// Server settings: host, ports, timeouts, and the separate health port.
//
// Storage settings: PostgreSQL connection and pool sizing, Redis connection.
//
// Auth settings: key lifetime, cache TTL and prefix, session cookie name,
// bcrypt cost, and the janitor schedule.
//
// Email settings: SMTP delivery, link-token secrets and TTL, public base URL.
//
// Google settings: OAuth client credentials for Google sign-in.
//
// Observability settings: log level, metrics toggle, OpenTelemetry exporter.
package config
