// Package storage defines interfaces for persisting OAuth clients, pending
// authorization transactions, authorization codes, and issued tokens.
// It supports various backend implementations including in-memory, Valkey,
// and SQL databases.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by stores. Callers distinguish them with errors.Is.
var (
	// ErrNotFound indicates the requested record does not exist (or has been
	// consumed or swept after expiry).
	ErrNotFound = errors.New("storage: record not found")

	// ErrExpired indicates the record exists but its lifetime has elapsed.
	ErrExpired = errors.New("storage: record expired")

	// ErrRedeemed indicates an authorization code was already redeemed.
	// Reuse of a redeemed code is a security event, not a routine miss.
	ErrRedeemed = errors.New("storage: authorization code already redeemed")
)

// ClientStore resolves registered OAuth clients.
// Client registration itself happens upstream; the engine only reads.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// GetClient retrieves a client by ID. Returns ErrNotFound if unknown.
	GetClient(ctx context.Context, clientID string) (*Client, error)
}

// TransactionStore holds pending authorization transactions with a bounded
// lifetime. A transaction correlates an in-progress authorization request
// with its eventual resource-owner decision.
//
// Consume MUST be atomic per transaction ID: given two concurrent Consume
// calls for the same ID, exactly one receives the transaction and the other
// receives ErrNotFound. This guarantees at most one grant per transaction
// even under duplicate decision submissions (double form-submit, replay).
type TransactionStore interface {
	// Save persists a transaction until its ExpiresAt.
	Save(ctx context.Context, tx *Transaction) error

	// Get retrieves a transaction without consuming it.
	// Returns ErrNotFound for unknown or expired IDs.
	Get(ctx context.Context, id string) (*Transaction, error)

	// Consume atomically retrieves and deletes a transaction.
	// Returns ErrNotFound for unknown, expired, or already-consumed IDs.
	Consume(ctx context.Context, id string) (*Transaction, error)

	// Delete removes a transaction. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id string) error
}

// CodeStore persists issued authorization codes.
//
// ConsumeCode MUST atomically check that the code is unredeemed and mark it
// redeemed, so that concurrent redemption attempts yield exactly one winner.
type CodeStore interface {
	// SaveCode persists an authorization code until its ExpiresAt.
	SaveCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeCode atomically marks a code redeemed and returns it.
	// Returns ErrNotFound for unknown codes, ErrExpired for expired ones,
	// and ErrRedeemed if the code was already consumed.
	ConsumeCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteCode removes a code. Deleting an unknown code is not an error.
	DeleteCode(ctx context.Context, code string) error
}

// TokenStore persists issued access and refresh tokens.
type TokenStore interface {
	// SaveAccessToken persists an access token record.
	SaveAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken retrieves an access token record.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// DeleteAccessToken removes an access token record.
	DeleteAccessToken(ctx context.Context, token string) error

	// SaveRefreshToken persists a refresh token record until its ExpiresAt.
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// ConsumeRefreshToken atomically retrieves and deletes a refresh token.
	// This is the rotation primitive: concurrent refresh attempts with the
	// same token yield exactly one winner.
	// Returns ErrNotFound for unknown or already-rotated tokens and
	// ErrExpired for expired ones.
	ConsumeRefreshToken(ctx context.Context, token string) (*RefreshToken, error)
}

// RotatedTokenStore exposes tombstones for rotated refresh tokens.
// This is optional - only implemented by stores that support it.
// A hit means the presented token was already rotated away: a theft
// indicator that triggers family revocation.
type RotatedTokenStore interface {
	// GetRotatedRefreshToken retrieves the tombstone of a rotated refresh
	// token. Returns ErrNotFound if the token was never rotated (or the
	// tombstone has expired).
	GetRotatedRefreshToken(ctx context.Context, token string) (*RefreshToken, error)
}

// TokenRevocationStore supports bulk token revocation.
// This is optional - only implemented by stores that support it.
// Used when authorization code reuse is detected: all tokens minted for the
// affected user+client pair are revoked.
type TokenRevocationStore interface {
	// RevokeTokensForUserClient revokes all tokens (access + refresh) for a
	// user+client combination. Returns the number of tokens revoked.
	RevokeTokensForUserClient(ctx context.Context, userID, clientID string) (int, error)
}

// Client represents a registered OAuth client
type Client struct {
	ID            string
	SecretHash    string // bcrypt hash, empty for public clients
	Type          string // "public" or "confidential"
	RedirectURIs  []string
	GrantTypes    []string
	ResponseTypes []string
	Name          string
	Scopes        []string
	CreatedAt     time.Time
}

// Confidential reports whether the client holds a secret.
func (c *Client) Confidential() bool {
	return c.Type != "public"
}

// AllowsGrantType reports whether the client may use the given grant type.
// An empty GrantTypes list allows all grant types.
func (c *Client) AllowsGrantType(grantType string) bool {
	if len(c.GrantTypes) == 0 {
		return true
	}
	for _, gt := range c.GrantTypes {
		if gt == grantType {
			return true
		}
	}
	return false
}

// AuthorizationRequest captures a validated authorize request.
// It is immutable once built by a grant module's request phase.
type AuthorizationRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string

	// Extra carries grant-type-specific parameters not modeled above.
	Extra map[string]string
}

// Transaction is the server-held state correlating an authorization request
// with its eventual decision. Consumed exactly once, never reused.
type Transaction struct {
	ID string

	// SerializedClient is the identity-registry serialization of the
	// requesting client, stable across the consent round trip.
	SerializedClient string

	ClientID string
	Request  *AuthorizationRequest

	// UserID is the authenticated resource owner, set at decision time.
	UserID string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the transaction's lifetime has elapsed.
func (t *Transaction) Expired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// AuthorizationCode represents an issued authorization code
type AuthorizationCode struct {
	Code                string
	ClientID            string
	UserID              string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Redeemed            bool
}

// AccessToken represents an issued access token
type AccessToken struct {
	Token     string
	ClientID  string
	UserID    string
	Scopes    []string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// RefreshToken represents an issued refresh token with family tracking
// for reuse detection.
type RefreshToken struct {
	Token    string
	ClientID string
	UserID   string
	Scopes   []string

	// FamilyID groups all tokens descending from one grant; Generation
	// increments with each rotation.
	FamilyID   string
	Generation int

	CreatedAt time.Time
	ExpiresAt time.Time
}
