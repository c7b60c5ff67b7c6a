// Package storage holds backend configuration shared by the Postgres and
// Redis clients. The store and cache contracts themselves live next to
// their consumers (auth.KeyStore, auth.KeyCache, users.Store).
package storage

import "time"

// Config for the storage backends
type Config struct {
	// PostgreSQL config
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PostgresURL:      "postgres://localhost/gatehouse?sslmode=disable",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		RedisURL:         "redis://localhost:6379",
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
	}
}
