package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	oauth "github.com/authkit/oauthengine"
	"github.com/authkit/oauthengine/issuer"
)

// ClientCredentialsExchange implements the client_credentials grant.
// Only confidential clients may use it, and no refresh token is issued:
// the client can always re-authenticate directly.
type ClientCredentialsExchange struct {
	issuer issuer.Issuer
	logger *slog.Logger
}

var _ oauth.Exchange = (*ClientCredentialsExchange)(nil)

// NewClientCredentials creates the client_credentials exchange module.
func NewClientCredentials(iss issuer.Issuer, logger *slog.Logger) (*ClientCredentialsExchange, error) {
	if iss == nil {
		return nil, fmt.Errorf("issuer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientCredentialsExchange{issuer: iss, logger: logger}, nil
}

// GrantTypes returns the grant types this module handles.
func (e *ClientCredentialsExchange) GrantTypes() []string {
	return []string{"client_credentials"}
}

// Token issues an access token bound to the client itself.
func (e *ClientCredentialsExchange) Token(ctx context.Context, req *oauth.TokenRequest) (*oauth.TokenResponse, error) {
	if !req.Client.Confidential() {
		return nil, oauth.NewTokenError(oauth.ErrorCodeInvalidClient,
			"client_credentials requires a confidential client", http.StatusUnauthorized)
	}

	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = req.Client.Scopes
	} else if len(req.Client.Scopes) > 0 && !subsetOf(scopes, req.Client.Scopes) {
		return nil, oauth.NewTokenError(oauth.ErrorCodeInvalidScope,
			"requested scopes exceed the client's registered scopes", http.StatusBadRequest)
	}

	tokens, err := e.issuer.IssueToken(ctx, req.Client, "", scopes, issuer.IssueOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}

	e.logger.Debug("Client credentials grant issued",
		"client_id", req.Client.ID)
	return tokenResponse(tokens), nil
}
