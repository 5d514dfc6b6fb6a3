package grant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	oauth "github.com/authkit/oauthengine"
	"github.com/authkit/oauthengine/issuer"
	"github.com/authkit/oauthengine/storage"
)

// ImplicitGrant implements the implicit grant (response type "token").
// The access token is delivered in the redirect URI fragment; no
// authorization code and no refresh token are involved.
type ImplicitGrant struct {
	clients  storage.ClientStore
	issuer   issuer.Issuer
	validate oauth.RedirectValidator
	logger   *slog.Logger
}

var _ oauth.Grant = (*ImplicitGrant)(nil)

// NewImplicit creates the implicit grant module.
func NewImplicit(clients storage.ClientStore, iss issuer.Issuer, validate oauth.RedirectValidator, logger *slog.Logger) (*ImplicitGrant, error) {
	if clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if iss == nil {
		return nil, fmt.Errorf("issuer is required")
	}
	if validate == nil {
		validate = oauth.DefaultRedirectValidator
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ImplicitGrant{clients: clients, issuer: iss, validate: validate, logger: logger}, nil
}

// ResponseTypes returns the response types this module handles.
func (g *ImplicitGrant) ResponseTypes() []string {
	return []string{"token"}
}

// Request validates an authorization request for the implicit flow.
func (g *ImplicitGrant) Request(ctx context.Context, req *oauth.AuthorizeRequest) (*storage.AuthorizationRequest, *storage.Client, error) {
	return validateRequest(ctx, g.clients, g.validate, req, "token")
}

// Respond issues an access token in the fragment for an allowed decision,
// or an access_denied fragment redirect for a declined one.
func (g *ImplicitGrant) Respond(ctx context.Context, tx *storage.Transaction, decision *oauth.Decision) (*oauth.Redirect, error) {
	if !decision.Allow {
		return deniedRedirect(tx, true)
	}

	scopes, ok := narrowScopes(tx.Request.Scopes, decision.Scopes)
	if !ok {
		authErr := oauth.NewRedirectableError(oauth.ErrorCodeInvalidScope,
			"decision scopes exceed the requested scopes", tx.Request.RedirectURI, tx.Request.State)
		authErr.Fragment = true
		return nil, authErr
	}

	client, err := g.clients.GetClient(ctx, tx.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, oauth.NewAuthorizationError(oauth.ErrorCodeInvalidClient,
				"client is no longer registered", http.StatusUnauthorized)
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	tokens, err := g.issuer.IssueToken(ctx, client, decision.UserID, scopes, issuer.IssueOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	rawURL, err := oauth.BuildRedirectURL(tx.Request.RedirectURI, map[string]string{
		"access_token": tokens.AccessToken,
		"token_type":   tokens.TokenType,
		"expires_in":   strconv.FormatInt(tokens.ExpiresIn, 10),
		"scope":        strings.Join(scopes, " "),
		"state":        tx.Request.State,
	}, true)
	if err != nil {
		return nil, fmt.Errorf("failed to build redirect: %w", err)
	}

	g.logger.Debug("Implicit access token issued",
		"client_id", tx.ClientID,
		"transaction_id", tx.ID)
	return &oauth.Redirect{URL: rawURL}, nil
}
