package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/authkit/oauthengine/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "oauth:"

	// tokenIDLogLength is the number of characters to include when logging
	// token and code identifiers
	tokenIDLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of the storage interfaces.
// It implements TransactionStore, CodeStore, and TokenStore, and is the
// recommended backend for multi-instance deployments: the atomic consume
// operations are implemented server-side (GETDEL and Lua), so the
// one-winner guarantees hold across engine instances sharing one Valkey.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.TransactionStore  = (*Store)(nil)
	_ storage.CodeStore         = (*Store)(nil)
	_ storage.TokenStore        = (*Store)(nil)
	_ storage.RotatedTokenStore = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// ============================================================
// Key helpers
// ============================================================

func (s *Store) txKey(id string) string {
	return s.prefix + "tx:" + id
}

func (s *Store) codeKey(code string) string {
	return s.prefix + "code:" + code
}

func (s *Store) accessKey(token string) string {
	return s.prefix + "access:" + token
}

func (s *Store) refreshKey(token string) string {
	return s.prefix + "refresh:" + token
}

func (s *Store) rotatedKey(token string) string {
	return s.prefix + "rotated:" + token
}

// ============================================================
// Lua Scripts for Atomic Operations
// ============================================================

// luaConsumeCode atomically checks that an authorization code is unredeemed
// and marks it redeemed, preserving the key TTL. Only ONE concurrent
// redemption can succeed; later attempts observe ALREADY_REDEEMED, which the
// caller treats as a reuse signal.
//
// KEYS[1] = code key
// ARGV[1] = current Unix timestamp in seconds (for expiry check)
//
// Returns:
//   - original JSON data if the code was unredeemed and is now marked
//   - "NOT_FOUND" if the key doesn't exist
//   - "EXPIRED" if the code has expired
//   - "ALREADY_REDEEMED:<json>" if the code was previously consumed
const luaConsumeCode = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local code = cjson.decode(data)

local now = tonumber(ARGV[1])
local expiresAt = tonumber(code.expires_at)
if expiresAt and now > expiresAt then
    return 'EXPIRED'
end

if code.redeemed then
    return 'ALREADY_REDEEMED:' .. data
end

code.redeemed = true
redis.call('SET', KEYS[1], cjson.encode(code), 'KEEPTTL')

return data
`

// ============================================================
// Shared helpers
// ============================================================

// isNilError checks if the error indicates a nil/not-found result from Valkey.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// safeTruncate safely truncates a string to n characters
func safeTruncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// calculateTTL calculates the TTL for a key based on expiry time.
// Returns 0 if the key has already expired.
func calculateTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return 0
	}
	return ttl
}
