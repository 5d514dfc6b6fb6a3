package issuer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/authkit/oauthengine/security"
	"github.com/authkit/oauthengine/storage"
)

// AccessClaims are the claims carried by a signed access token.
type AccessClaims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// JWTIssuer signs access tokens as HS256 JWTs. Authorization codes and
// refresh tokens stay opaque and go through the wrapped opaque issuer;
// only the access token format differs.
type JWTIssuer struct {
	opaque     *OpaqueIssuer
	issuerName string
	secret     []byte
	tokens     storage.TokenStore
	logger     *slog.Logger
}

var _ Issuer = (*JWTIssuer)(nil)

// NewJWT creates a JWT issuer. issuerName becomes the "iss" claim; secret
// is the HS256 signing key.
func NewJWT(codes storage.CodeStore, tokens storage.TokenStore, config Config, issuerName string, secret []byte, logger *slog.Logger) (*JWTIssuer, error) {
	if strings.TrimSpace(issuerName) == "" {
		return nil, errors.New("issuer name is required")
	}
	if len(secret) == 0 {
		return nil, errors.New("signing secret is required")
	}

	opaque, err := NewOpaque(codes, tokens, config, logger)
	if err != nil {
		return nil, err
	}

	return &JWTIssuer{
		opaque:     opaque,
		issuerName: issuerName,
		secret:     secret,
		tokens:     tokens,
		logger:     opaque.logger,
	}, nil
}

// IssueCode mints an opaque single-use authorization code.
func (i *JWTIssuer) IssueCode(ctx context.Context, client *storage.Client, userID string, req *storage.AuthorizationRequest) (string, error) {
	return i.opaque.IssueCode(ctx, client, userID, req)
}

// IssueToken signs an access token and persists its record keyed by "jti",
// so revocation checks work without parsing the JWT.
func (i *JWTIssuer) IssueToken(ctx context.Context, client *storage.Client, userID string, scopes []string, opts IssueOptions) (*Tokens, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(i.opaque.config.AccessTokenTTL)
	jti := uuid.NewString()

	subject := userID
	if subject == "" {
		subject = client.ID
	}
	claims := AccessClaims{
		Scope: strings.Join(scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuerName,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{client.ID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	record := &storage.AccessToken{
		Token:     jti,
		ClientID:  client.ID,
		UserID:    userID,
		Scopes:    scopes,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	if err := i.tokens.SaveAccessToken(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save access token record: %w", err)
	}

	result := &Tokens{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(i.opaque.config.AccessTokenTTL.Seconds()),
		Scopes:      scopes,
	}

	if opts.IncludeRefreshToken {
		refresh, err := i.issueRefresh(ctx, client, userID, scopes, opts, now)
		if err != nil {
			return nil, err
		}
		result.RefreshToken = refresh
	}

	i.logger.Debug("Issued JWT access token",
		"client_id", client.ID,
		"jti", jti)
	return result, nil
}

func (i *JWTIssuer) issueRefresh(ctx context.Context, client *storage.Client, userID string, scopes []string, opts IssueOptions, now time.Time) (string, error) {
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
		ExpiresAt:  now.Add(i.opaque.config.RefreshTokenTTL),
	}
	if err := i.tokens.SaveRefreshToken(ctx, refresh); err != nil {
		return "", fmt.Errorf("failed to save refresh token: %w", err)
	}
	return refresh.Token, nil
}

// ExchangeCode atomically redeems an authorization code.
func (i *JWTIssuer) ExchangeCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	return i.opaque.ExchangeCode(ctx, code)
}
