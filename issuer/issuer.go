// Package issuer defines the code/token issuer collaborator and provides
// two implementations: an opaque issuer backed by random artifacts and a
// JWT issuer that signs access tokens.
package issuer

import (
	"context"

	"github.com/authkit/oauthengine/storage"
)

// Issuer mints and redeems authorization grants. Grant and exchange modules
// delegate all artifact creation here; the engine never generates codes or
// tokens inline.
type Issuer interface {
	// IssueCode mints a single-use authorization code bound to the client,
	// resource owner, and the validated authorization request.
	IssueCode(ctx context.Context, client *storage.Client, userID string, req *storage.AuthorizationRequest) (string, error)

	// IssueToken mints an access token (and optionally a refresh token)
	// for the client and resource owner. userID is empty for
	// client-only grants.
	IssueToken(ctx context.Context, client *storage.Client, userID string, scopes []string, opts IssueOptions) (*Tokens, error)

	// ExchangeCode atomically redeems an authorization code and returns the
	// grant details recorded at issuance. Returns an error wrapping
	// storage.ErrRedeemed on reuse; in that case the returned record is
	// still populated so callers can revoke derived tokens.
	ExchangeCode(ctx context.Context, code string) (*storage.AuthorizationCode, error)
}

// IssueOptions controls refresh token issuance.
type IssueOptions struct {
	// IncludeRefreshToken requests a refresh token alongside the access token.
	IncludeRefreshToken bool

	// RefreshFamilyID continues an existing rotation family. Empty starts
	// a new family.
	RefreshFamilyID string

	// RefreshGeneration is the generation number within the family.
	// Zero means first generation.
	RefreshGeneration int
}

// Tokens is an issued token set.
type Tokens struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
	Scopes       []string
}
