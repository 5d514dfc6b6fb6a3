package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	oauth "github.com/authkit/oauthengine"
	"github.com/authkit/oauthengine/issuer"
	"github.com/authkit/oauthengine/security"
)

// PasswordExchange implements the resource owner password credentials
// grant. Credential verification is delegated to the caller-supplied
// authenticator; the engine never sees how passwords are stored.
type PasswordExchange struct {
	issuer        issuer.Issuer
	authenticator oauth.UserAuthenticator
	auditor       *security.Auditor
	logger        *slog.Logger
}

var _ oauth.Exchange = (*PasswordExchange)(nil)

// NewPassword creates the password exchange module.
func NewPassword(iss issuer.Issuer, authenticator oauth.UserAuthenticator, auditor *security.Auditor, logger *slog.Logger) (*PasswordExchange, error) {
	if iss == nil {
		return nil, fmt.Errorf("issuer is required")
	}
	if authenticator == nil {
		return nil, fmt.Errorf("user authenticator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PasswordExchange{
		issuer:        iss,
		authenticator: authenticator,
		auditor:       auditor,
		logger:        logger,
	}, nil
}

// GrantTypes returns the grant types this module handles.
func (e *PasswordExchange) GrantTypes() []string {
	return []string{"password"}
}

// Token verifies the resource owner's credentials and issues a token pair.
func (e *PasswordExchange) Token(ctx context.Context, req *oauth.TokenRequest) (*oauth.TokenResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, oauth.NewTokenError(oauth.ErrorCodeInvalidRequest,
			"username and password are required", http.StatusBadRequest)
	}

	userID, err := e.authenticator.AuthenticateUser(ctx, req.Username, req.Password)
	if err != nil {
		// Deliberately detail-free: credential errors must not leak
		// whether the username exists.
		if e.auditor != nil {
			e.auditor.LogAuthFailure("", req.Client.ID, "password grant authentication failed")
		}
		return nil, oauth.NewTokenError(oauth.ErrorCodeInvalidGrant,
			"resource owner authentication failed", http.StatusBadRequest)
	}

	tokens, err := e.issuer.IssueToken(ctx, req.Client, userID, req.Scopes, issuer.IssueOptions{
		IncludeRefreshToken: req.Client.AllowsGrantType("refresh_token"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}

	e.logger.Debug("Password grant issued",
		"client_id", req.Client.ID)
	return tokenResponse(tokens), nil
}
