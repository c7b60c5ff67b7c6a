package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gatehousehq/gatehouse/pkg/auth"
	"github.com/gatehousehq/gatehouse/pkg/email"
	"github.com/gatehousehq/gatehouse/pkg/observability"
	"github.com/gatehousehq/gatehouse/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Auth configuration (key policy + guard surface)
	Auth AuthConfig

	// Email configuration
	Email EmailConfig

	// Google OAuth configuration
	Google GoogleConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuthConfig holds the key lifecycle policy and guard settings
type AuthConfig struct {
	// Keys carries the manager policy (lifetime, cache TTL, prefix)
	Keys auth.Config

	// CookieName is the session cookie the key guard reads
	CookieName string

	// BcryptCost for password hashing
	BcryptCost int

	// JanitorSchedule is the cron expression for expired-key cleanup;
	// empty disables the janitor
	JanitorSchedule string
}

// EmailConfig holds SMTP delivery and link-token settings
type EmailConfig struct {
	// Enabled toggles real SMTP delivery; when false a no-op sender is
	// used and links are only logged
	Enabled bool

	SMTP email.SMTPConfig

	// VerificationSecret signs email-confirmation tokens
	VerificationSecret string
	// ResetSecret signs password-reset tokens
	ResetSecret string
	// TokenTTL bounds how long a mailed link stays usable
	TokenTTL time.Duration
	// BaseURL is the public URL mailed links point at
	BaseURL string
}

// GoogleConfig holds Google OpenID Connect sign-in settings
type GoogleConfig struct {
	Enabled      bool
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Email:         loadEmailConfig(),
		Google:        loadGoogleConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATEHOUSE_HOST", "0.0.0.0"),
		Port:            getEnv("GATEHOUSE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEHOUSE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GATEHOUSE_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	if pgURL := getEnv("GATEHOUSE_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("GATEHOUSE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("GATEHOUSE_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("GATEHOUSE_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	if redisURL := getEnv("GATEHOUSE_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("GATEHOUSE_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("GATEHOUSE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("GATEHOUSE_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("GATEHOUSE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	return cfg
}

// loadAuthConfig loads key policy and guard configuration from environment
func loadAuthConfig() AuthConfig {
	keys := auth.DefaultConfig()

	if lifetime := getEnvDuration("GATEHOUSE_KEY_LIFETIME", 0); lifetime > 0 {
		keys.KeyLifetime = lifetime
	}
	if cacheTTL := getEnvDuration("GATEHOUSE_KEY_CACHE_TTL", 0); cacheTTL > 0 {
		keys.CacheTTL = cacheTTL
	}
	if prefix := getEnv("GATEHOUSE_KEY_CACHE_PREFIX", ""); prefix != "" {
		keys.CachePrefix = prefix
	}

	return AuthConfig{
		Keys:            keys,
		CookieName:      getEnv("GATEHOUSE_COOKIE_NAME", "ApiKey"),
		BcryptCost:      getEnvInt("GATEHOUSE_BCRYPT_COST", 10),
		JanitorSchedule: getEnv("GATEHOUSE_JANITOR_SCHEDULE", "0 * * * *"),
	}
}

// loadEmailConfig loads mail delivery configuration from environment
func loadEmailConfig() EmailConfig {
	return EmailConfig{
		Enabled: getEnvBool("GATEHOUSE_EMAIL_ENABLED", false),
		SMTP: email.SMTPConfig{
			Host:     getEnv("GATEHOUSE_SMTP_HOST", "localhost"),
			Port:     getEnvInt("GATEHOUSE_SMTP_PORT", 587),
			Username: getEnv("GATEHOUSE_SMTP_USERNAME", ""),
			Password: getEnv("GATEHOUSE_SMTP_PASSWORD", ""),
			From:     getEnv("GATEHOUSE_SMTP_FROM", "no-reply@gatehouse.local"),
		},
		VerificationSecret: getEnv("GATEHOUSE_EMAIL_VERIFICATION_SECRET", ""),
		ResetSecret:        getEnv("GATEHOUSE_EMAIL_RESET_SECRET", ""),
		TokenTTL:           getEnvDuration("GATEHOUSE_EMAIL_TOKEN_TTL", 24*time.Hour),
		BaseURL:            getEnv("GATEHOUSE_BASE_URL", "http://localhost:8080"),
	}
}

// loadGoogleConfig loads Google sign-in configuration from environment
func loadGoogleConfig() GoogleConfig {
	return GoogleConfig{
		Enabled:      getEnvBool("GATEHOUSE_GOOGLE_ENABLED", false),
		ClientID:     getEnv("GATEHOUSE_GOOGLE_CLIENT_ID", ""),
		ClientSecret: getEnv("GATEHOUSE_GOOGLE_CLIENT_SECRET", ""),
		RedirectURL:  getEnv("GATEHOUSE_GOOGLE_REDIRECT_URL", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("GATEHOUSE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GATEHOUSE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GATEHOUSE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATEHOUSE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATEHOUSE_OTEL_SERVICE_NAME", "gatehouse"),
		OTelServiceVersion: getEnv("GATEHOUSE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATEHOUSE_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate storage config
	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required")
	}

	// Validate auth config
	if c.Auth.CookieName == "" {
		return fmt.Errorf("cookie name is required")
	}
	if c.Auth.Keys.KeyLifetime <= 0 {
		return fmt.Errorf("key lifetime must be positive")
	}
	if c.Auth.Keys.CacheTTL <= 0 {
		return fmt.Errorf("key cache TTL must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("bcrypt cost must be between 4 and 31")
	}

	// Validate email config
	if c.Email.Enabled {
		if c.Email.SMTP.Host == "" {
			return fmt.Errorf("SMTP host is required when email is enabled")
		}
		if c.Email.VerificationSecret == "" || c.Email.ResetSecret == "" {
			return fmt.Errorf("email token secrets are required when email is enabled")
		}
	}

	// Validate Google config
	if c.Google.Enabled {
		if c.Google.ClientID == "" || c.Google.ClientSecret == "" {
			return fmt.Errorf("Google client ID and secret are required when Google sign-in is enabled")
		}
		if c.Google.RedirectURL == "" {
			return fmt.Errorf("Google redirect URL is required when Google sign-in is enabled")
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
