package oauth

import (
	"log/slog"
	"time"
)

// ServerConfig holds the protocol engine configuration
// Structured using composition for better organization and maintainability
type ServerConfig struct {
	// SupportedScopes are the scopes this server will grant.
	// Empty means any requested scope is accepted.
	SupportedScopes []string

	// TransactionTTL bounds the lifetime of a pending authorization
	// transaction. Default: 5 minutes.
	TransactionTTL time.Duration

	// CodeTTL bounds the lifetime of an authorization code.
	// Default: 10 minutes.
	CodeTTL time.Duration

	// AccessTokenTTL bounds the lifetime of an access token.
	// Default: 1 hour.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL bounds the lifetime of a refresh token.
	// Default: 90 days.
	RefreshTokenTTL time.Duration

	// RateLimit configures per-client rate limiting at the token endpoint.
	RateLimit RateLimitConfig

	// EnableAuditLogging enables security audit logging.
	// Logs grant decisions, token operations, and violations
	// (sensitive data hashed).
	EnableAuditLogging bool

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// RateLimitConfig holds token endpoint rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per client. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per client.
	Burst int

	// CleanupInterval is how often to cleanup inactive rate limiters.
	CleanupInterval time.Duration
}

// applySecureDefaults fills in safe defaults for unset fields.
func (c *ServerConfig) applySecureDefaults() {
	if c.TransactionTTL <= 0 {
		c.TransactionTTL = 5 * time.Minute
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = 10 * time.Minute
	}
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = 1 * time.Hour
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = 90 * 24 * time.Hour
	}
	if c.RateLimit.Burst <= 0 && c.RateLimit.Rate > 0 {
		c.RateLimit.Burst = c.RateLimit.Rate * 2
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
