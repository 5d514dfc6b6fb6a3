package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	oauth "github.com/authkit/oauthengine"
	"github.com/authkit/oauthengine/instrumentation"
	"github.com/authkit/oauthengine/issuer"
	"github.com/authkit/oauthengine/security"
	"github.com/authkit/oauthengine/storage"
)

// AuthorizationCodeConfig configures the authorization_code exchange.
type AuthorizationCodeConfig struct {
	// Issuer redeems codes and mints tokens (required).
	Issuer issuer.Issuer

	// Revocation, when set, revokes all tokens for the affected user and
	// client when code reuse is detected.
	Revocation storage.TokenRevocationStore

	// GracePeriod is the clock-skew allowance for code expiry checks.
	// Defaults to security.DefaultClockSkewGracePeriod.
	GracePeriod time.Duration

	Auditor *security.Auditor
	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// AuthorizationCodeExchange redeems authorization codes for tokens.
// A code is single-use: redeeming one that was already consumed fails with
// invalid_grant and revokes every token minted from the original grant,
// since reuse indicates the code was intercepted.
type AuthorizationCodeExchange struct {
	issuer     issuer.Issuer
	revocation storage.TokenRevocationStore
	grace      time.Duration
	auditor    *security.Auditor
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
}

var _ oauth.Exchange = (*AuthorizationCodeExchange)(nil)

// NewAuthorizationCode creates the authorization_code exchange module.
func NewAuthorizationCode(cfg AuthorizationCodeConfig) (*AuthorizationCodeExchange, error) {
	if cfg.Issuer == nil {
		return nil, fmt.Errorf("issuer is required")
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = security.DefaultClockSkewGracePeriod
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &AuthorizationCodeExchange{
		issuer:     cfg.Issuer,
		revocation: cfg.Revocation,
		grace:      cfg.GracePeriod,
		auditor:    cfg.Auditor,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}, nil
}

// GrantTypes returns the grant types this module handles.
func (e *AuthorizationCodeExchange) GrantTypes() []string {
	return []string{"authorization_code"}
}

// Token validates and redeems an authorization code.
func (e *AuthorizationCodeExchange) Token(ctx context.Context, req *oauth.TokenRequest) (*oauth.TokenResponse, error) {
	if req.Code == "" {
		return nil, oauth.NewTokenError(oauth.ErrorCodeInvalidRequest, "code is required", http.StatusBadRequest)
	}

	rec, err := e.issuer.ExchangeCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrRedeemed) {
			e.handleCodeReuse(ctx, rec)
			return nil, oauth.NewTokenError(oauth.ErrorCodeInvalidGrant, "authorization code is invalid", http.StatusBadRequest)
		}
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrExpired) {
			return nil, oauth.NewTokenError(oauth.ErrorCodeInvalidGrant, "authorization code is invalid or expired", http.StatusBadRequest)
		}
		return nil, err
	}

	if security.IsExpiredWithGracePeriod(rec.ExpiresAt, e.grace) {
		return nil, oauth.NewTokenError(oauth.ErrorCodeInvalidGrant, "authorization code has expired", http.StatusBadRequest)
	}

	if rec.ClientID != req.Client.ID {
		// Code issued to another client. Treat like reuse: the presenter
		// holds a code it should never have seen.
		e.handleCodeReuse(ctx, rec)
		return nil, oauth.NewTokenError(oauth.ErrorCodeInvalidGrant, "authorization code was issued to another client", http.StatusBadRequest)
	}

	if rec.RedirectURI != "" && rec.RedirectURI != req.RedirectURI {
		return nil, oauth.NewTokenError(oauth.ErrorCodeInvalidGrant, "redirect_uri does not match the authorization request", http.StatusBadRequest)
	}

	if rec.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, oauth.NewTokenError(oauth.ErrorCodeInvalidGrant, "code_verifier is required", http.StatusBadRequest)
		}
		if !verifyPKCE(rec.CodeChallenge, rec.CodeChallengeMethod, req.CodeVerifier) {
			return nil, oauth.NewTokenError(oauth.ErrorCodeInvalidGrant, "code_verifier does not match", http.StatusBadRequest)
		}
	}

	tokens, err := e.issuer.IssueToken(ctx, req.Client, rec.UserID, rec.Scopes, issuer.IssueOptions{
		IncludeRefreshToken: req.Client.AllowsGrantType("refresh_token"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}

	e.logger.Debug("Authorization code redeemed",
		"client_id", req.Client.ID)
	return tokenResponse(tokens), nil
}

// handleCodeReuse revokes tokens derived from a compromised code and
// records the security event.
func (e *AuthorizationCodeExchange) handleCodeReuse(ctx context.Context, rec *storage.AuthorizationCode) {
	if rec == nil {
		return
	}

	e.logger.Warn("Authorization code reuse detected, revoking derived tokens",
		"client_id", rec.ClientID)
	if e.auditor != nil {
		e.auditor.LogCodeReuse(rec.UserID, rec.ClientID)
	}
	if e.metrics != nil {
		e.metrics.RecordCodeReuseDetected(ctx)
	}

	if e.revocation == nil {
		return
	}
	revoked, err := e.revocation.RevokeTokensForUserClient(ctx, rec.UserID, rec.ClientID)
	if err != nil {
		e.logger.Error("Failed to revoke tokens after code reuse",
			"client_id", rec.ClientID,
			"error", err)
		return
	}
	e.logger.Info("Revoked tokens after code reuse",
		"client_id", rec.ClientID,
		"revoked", revoked)
}
