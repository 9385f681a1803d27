// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Identity modes.
const (
	IdentityModeMock    = "mock"
	IdentityModeGateway = "gateway"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Referral store
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Redis is optional. When unset, rate limiting and the event stream are disabled.
	RedisURL string `env:"REDIS_URL"`

	// Base URL for shareable referral links
	ShareBaseURL string `env:"SHARE_BASE_URL" envDefault:"https://cartoncaps.app/refer"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Identity
	IdentityMode     string `env:"IDENTITY_MODE" envDefault:"mock"`
	GatewayTokenHash string `env:"GATEWAY_TOKEN_HASH"`

	// Development conveniences
	AutoProvisionUsers bool `env:"AUTO_PROVISION_USERS" envDefault:"true"`
	// SeedMockData accepts a boolean; empty means "only in development".
	SeedMockData string `env:"SEED_MOCK_DATA"`

	// Rate limiting of the unauthenticated referral code endpoints
	RateLimitPublicEnabled bool `env:"RATE_LIMIT_PUBLIC_ENABLED" envDefault:"true"`
	RateLimitPublicRPS     int  `env:"RATE_LIMIT_PUBLIC_RPS" envDefault:"20"`
	RateLimitPublicBurst   int  `env:"RATE_LIMIT_PUBLIC_BURST" envDefault:"40"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	// Webhook relay. Disabled when WEBHOOK_URL is empty; requires Redis.
	WebhookURL         string   `env:"WEBHOOK_URL"`
	WebhookSecret      string   `env:"WEBHOOK_SECRET"`
	WebhookEvents      []string `env:"WEBHOOK_EVENTS" envSeparator:"," envDefault:"referral_completed"`
	WebhookMaxAttempts int      `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"5"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// WebhookEnabled reports whether the webhook relay should run.
func (c *Config) WebhookEnabled() bool {
	return c.WebhookURL != ""
}

// ShouldSeed reports whether mock data should be loaded at startup.
func (c *Config) ShouldSeed() bool {
	if c.SeedMockData == "" {
		return c.IsDevelopment()
	}
	seed, _ := strconv.ParseBool(c.SeedMockData)
	return seed
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres"))
		}
	case StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver))
	}

	switch c.IdentityMode {
	case IdentityModeMock:
	case IdentityModeGateway:
		if c.GatewayTokenHash == "" {
			errs = append(errs, errors.New("GATEWAY_TOKEN_HASH is required when IDENTITY_MODE=gateway"))
		}
	default:
		errs = append(errs, fmt.Errorf("IDENTITY_MODE must be %q or %q, got %q", IdentityModeMock, IdentityModeGateway, c.IdentityMode))
	}

	if c.SeedMockData != "" {
		if _, err := strconv.ParseBool(c.SeedMockData); err != nil {
			errs = append(errs, fmt.Errorf("SEED_MOCK_DATA must be a boolean, got %q", c.SeedMockData))
		}
	}

	if c.RateLimitPublicEnabled && (c.RateLimitPublicRPS <= 0 || c.RateLimitPublicBurst <= 0) {
		errs = append(errs, errors.New("RATE_LIMIT_PUBLIC_RPS and RATE_LIMIT_PUBLIC_BURST must be positive"))
	}

	if c.MaxRequestBodySize <= 0 {
		errs = append(errs, errors.New("MAX_REQUEST_BODY_SIZE must be positive"))
	}

	if c.WebhookEnabled() {
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when WEBHOOK_URL is set"))
		}
		if c.WebhookSecret == "" {
			errs = append(errs, errors.New("WEBHOOK_SECRET is required when WEBHOOK_URL is set"))
		}
		if c.WebhookMaxAttempts <= 0 {
			errs = append(errs, errors.New("WEBHOOK_MAX_ATTEMPTS must be positive"))
		}
	}

	return errors.Join(errs...)
}

// Load parses environment variables and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
