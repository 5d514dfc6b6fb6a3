package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	oauth "github.com/authkit/oauthengine"
	"github.com/authkit/oauthengine/instrumentation"
	"github.com/authkit/oauthengine/issuer"
	"github.com/authkit/oauthengine/security"
	"github.com/authkit/oauthengine/storage"
)

// RefreshTokenConfig configures the refresh_token exchange.
type RefreshTokenConfig struct {
	// Issuer mints the replacement token pair (required).
	Issuer issuer.Issuer

	// Tokens is the refresh token store (required). Consumption is the
	// rotation primitive: the presented token is atomically retired.
	Tokens storage.TokenStore

	// Rotated, when set, enables reuse detection: a presented token found
	// among rotation tombstones indicates theft and revokes the family.
	Rotated storage.RotatedTokenStore

	// Revocation, when set, revokes all tokens for the affected user and
	// client on detected reuse.
	Revocation storage.TokenRevocationStore

	Auditor *security.Auditor
	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// RefreshTokenExchange rotates refresh tokens. Every successful exchange
// retires the presented token and issues a replacement in the same family
// with an incremented generation.
type RefreshTokenExchange struct {
	issuer     issuer.Issuer
	tokens     storage.TokenStore
	rotated    storage.RotatedTokenStore
	revocation storage.TokenRevocationStore
	auditor    *security.Auditor
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
}

var _ oauth.Exchange = (*RefreshTokenExchange)(nil)

// NewRefreshToken creates the refresh_token exchange module.
func NewRefreshToken(cfg RefreshTokenConfig) (*RefreshTokenExchange, error) {
	if cfg.Issuer == nil {
		return nil, fmt.Errorf("issuer is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RefreshTokenExchange{
		issuer:     cfg.Issuer,
		tokens:     cfg.Tokens,
		rotated:    cfg.Rotated,
		revocation: cfg.Revocation,
		auditor:    cfg.Auditor,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}, nil
}

// GrantTypes returns the grant types this module handles.
func (e *RefreshTokenExchange) GrantTypes() []string {
	return []string{"refresh_token"}
}

// Token rotates a refresh token into a fresh token pair.
func (e *RefreshTokenExchange) Token(ctx context.Context, req *oauth.TokenRequest) (*oauth.TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, oauth.NewTokenError(oauth.ErrorCodeInvalidRequest, "refresh_token is required", http.StatusBadRequest)
	}

	rec, err := e.tokens.ConsumeRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.checkReuse(ctx, req)
			return nil, oauth.NewTokenError(oauth.ErrorCodeInvalidGrant, "refresh token is invalid", http.StatusBadRequest)
		}
		if errors.Is(err, storage.ErrExpired) {
			return nil, oauth.NewTokenError(oauth.ErrorCodeInvalidGrant, "refresh token has expired", http.StatusBadRequest)
		}
		return nil, err
	}

	if rec.ClientID != req.Client.ID {
		return nil, oauth.NewTokenError(oauth.ErrorCodeInvalidGrant, "refresh token was issued to another client", http.StatusBadRequest)
	}

	scopes := rec.Scopes
	if len(req.Scopes) > 0 {
		// A refresh may narrow the granted scopes, never widen them.
		if !subsetOf(req.Scopes, rec.Scopes) {
			return nil, oauth.NewTokenError(oauth.ErrorCodeInvalidScope,
				fmt.Sprintf("requested scopes exceed the original grant: %s", strings.Join(req.Scopes, " ")),
				http.StatusBadRequest)
		}
		scopes = req.Scopes
	}

	tokens, err := e.issuer.IssueToken(ctx, req.Client, rec.UserID, scopes, issuer.IssueOptions{
		IncludeRefreshToken: true,
		RefreshFamilyID:     rec.FamilyID,
		RefreshGeneration:   rec.Generation + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}

	e.logger.Debug("Refresh token rotated",
		"client_id", req.Client.ID,
		"generation", rec.Generation+1)
	return tokenResponse(tokens), nil
}

// checkReuse inspects rotation tombstones when a presented token is
// unknown. A hit means a retired token was replayed, so every token for the
// affected user and client is revoked.
func (e *RefreshTokenExchange) checkReuse(ctx context.Context, req *oauth.TokenRequest) {
	if e.rotated == nil {
		return
	}

	tomb, err := e.rotated.GetRotatedRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		return
	}

	e.logger.Warn("Refresh token reuse detected, revoking token family",
		"client_id", tomb.ClientID,
		"family_generation", tomb.Generation)
	if e.auditor != nil {
		e.auditor.LogTokenReuse(tomb.UserID, tomb.ClientID, tomb.FamilyID)
	}
	if e.metrics != nil {
		e.metrics.RecordTokenReuseDetected(ctx)
	}

	if e.revocation == nil {
		return
	}
	revoked, err := e.revocation.RevokeTokensForUserClient(ctx, tomb.UserID, tomb.ClientID)
	if err != nil {
		e.logger.Error("Failed to revoke tokens after refresh reuse",
			"client_id", tomb.ClientID,
			"error", err)
		return
	}
	e.logger.Info("Revoked tokens after refresh reuse",
		"client_id", tomb.ClientID,
		"revoked", revoked)
}
