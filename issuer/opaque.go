package issuer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/authkit/oauthengine/security"
	"github.com/authkit/oauthengine/storage"
)

// Default artifact lifetimes, applied when the corresponding Config field
// is zero.
const (
	DefaultCodeTTL         = 10 * time.Minute
	DefaultAccessTokenTTL  = 1 * time.Hour
	DefaultRefreshTokenTTL = 90 * 24 * time.Hour
)

// Config holds artifact lifetimes for an issuer.
type Config struct {
	CodeTTL         time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

func (c *Config) applyDefaults() {
	if c.CodeTTL <= 0 {
		c.CodeTTL = DefaultCodeTTL
	}
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
}

// OpaqueIssuer mints cryptographically random opaque artifacts and persists
// them through the code and token stores. This is the default issuer.
type OpaqueIssuer struct {
	codes  storage.CodeStore
	tokens storage.TokenStore
	config Config
	logger *slog.Logger
}

var _ Issuer = (*OpaqueIssuer)(nil)

// NewOpaque creates an opaque issuer over the given stores.
func NewOpaque(codes storage.CodeStore, tokens storage.TokenStore, config Config, logger *slog.Logger) (*OpaqueIssuer, error) {
	if codes == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	config.applyDefaults()

	return &OpaqueIssuer{
		codes:  codes,
		tokens: tokens,
		config: config,
		logger: logger,
	}, nil
}

// IssueCode mints and persists a single-use authorization code.
func (i *OpaqueIssuer) IssueCode(ctx context.Context, client *storage.Client, userID string, req *storage.AuthorizationRequest) (string, error) {
	now := time.Now()
	code := &storage.AuthorizationCode{
		Code:                security.GenerateArtifact(),
		ClientID:            client.ID,
		UserID:              userID,
		RedirectURI:         req.RedirectURI,
		Scopes:              req.Scopes,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(i.config.CodeTTL),
	}

	if err := i.codes.SaveCode(ctx, code); err != nil {
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}

	i.logger.Debug("Issued authorization code",
		"client_id", client.ID,
		"expires_at", code.ExpiresAt)
	return code.Code, nil
}

// IssueToken mints and persists an access token, plus a refresh token when
// requested.
func (i *OpaqueIssuer) IssueToken(ctx context.Context, client *storage.Client, userID string, scopes []string, opts IssueOptions) (*Tokens, error) {
	now := time.Now()

	access := &storage.AccessToken{
		Token:     security.GenerateArtifact(),
		ClientID:  client.ID,
		UserID:    userID,
		Scopes:    scopes,
		CreatedAt: now,
		ExpiresAt: now.Add(i.config.AccessTokenTTL),
	}
	if err := i.tokens.SaveAccessToken(ctx, access); err != nil {
		return nil, fmt.Errorf("failed to save access token: %w", err)
	}

	result := &Tokens{
		AccessToken: access.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(i.config.AccessTokenTTL.Seconds()),
		Scopes:      scopes,
	}

	if opts.IncludeRefreshToken {
		familyID := opts.RefreshFamilyID
		if familyID == "" {
			familyID = uuid.NewString()
		}
		generation := opts.RefreshGeneration
		if generation <= 0 {
			generation = 1
		}

		refresh := &storage.RefreshToken{
			Token:      security.GenerateArtifact(),
			ClientID:   client.ID,
			UserID:     userID,
			Scopes:     scopes,
			FamilyID:   familyID,
			Generation: generation,
			CreatedAt:  now,
			ExpiresAt:  now.Add(i.config.RefreshTokenTTL),
		}
		if err := i.tokens.SaveRefreshToken(ctx, refresh); err != nil {
			// The access token is already durable; surface the refresh
			// failure rather than returning a half-issued pair.
			return nil, fmt.Errorf("failed to save refresh token: %w", err)
		}
		result.RefreshToken = refresh.Token
	}

	i.logger.Debug("Issued tokens",
		"client_id", client.ID,
		"refresh", opts.IncludeRefreshToken)
	return result, nil
}

// ExchangeCode atomically redeems an authorization code.
func (i *OpaqueIssuer) ExchangeCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	rec, err := i.codes.ConsumeCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrRedeemed) {
			i.logger.Warn("Authorization code reuse detected",
				"client_id", clientIDOf(rec))
		}
		return rec, err
	}
	return rec, nil
}

func clientIDOf(rec *storage.AuthorizationCode) string {
	if rec == nil {
		return ""
	}
	return rec.ClientID
}
