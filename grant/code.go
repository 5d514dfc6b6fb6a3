package grant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	oauth "github.com/authkit/oauthengine"
	"github.com/authkit/oauthengine/issuer"
	"github.com/authkit/oauthengine/storage"
)

// CodeGrant implements the authorization code grant (response type "code").
// The request phase validates the client, redirect URI, and PKCE
// parameters; the response phase mints a single-use code and delivers it in
// the redirect query string.
type CodeGrant struct {
	clients  storage.ClientStore
	issuer   issuer.Issuer
	validate oauth.RedirectValidator
	logger   *slog.Logger
}

var _ oauth.Grant = (*CodeGrant)(nil)

// NewCode creates the authorization code grant module. A nil validator
// falls back to exact redirect URI matching.
func NewCode(clients storage.ClientStore, iss issuer.Issuer, validate oauth.RedirectValidator, logger *slog.Logger) (*CodeGrant, error) {
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
	return &CodeGrant{clients: clients, issuer: iss, validate: validate, logger: logger}, nil
}

// ResponseTypes returns the response types this module handles.
func (g *CodeGrant) ResponseTypes() []string {
	return []string{"code"}
}

// Request validates an authorization request for the code flow.
func (g *CodeGrant) Request(ctx context.Context, req *oauth.AuthorizeRequest) (*storage.AuthorizationRequest, *storage.Client, error) {
	validated, client, err := validateRequest(ctx, g.clients, g.validate, req, "code")
	if err != nil {
		return nil, nil, err
	}

	challenge, method, err := validatePKCE(req, validated)
	if err != nil {
		return nil, nil, err
	}
	validated.CodeChallenge = challenge
	validated.CodeChallengeMethod = method

	return validated, client, nil
}

// Respond issues an authorization code for an allowed decision, or an
// access_denied redirect for a declined one.
func (g *CodeGrant) Respond(ctx context.Context, tx *storage.Transaction, decision *oauth.Decision) (*oauth.Redirect, error) {
	if !decision.Allow {
		return deniedRedirect(tx, false)
	}

	scopes, ok := narrowScopes(tx.Request.Scopes, decision.Scopes)
	if !ok {
		return nil, oauth.NewRedirectableError(oauth.ErrorCodeInvalidScope,
			"decision scopes exceed the requested scopes", tx.Request.RedirectURI, tx.Request.State)
	}

	client, err := g.clients.GetClient(ctx, tx.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, oauth.NewAuthorizationError(oauth.ErrorCodeInvalidClient,
				"client is no longer registered", http.StatusUnauthorized)
		}
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	request := *tx.Request
	request.Scopes = scopes
	code, err := g.issuer.IssueCode(ctx, client, decision.UserID, &request)
	if err != nil {
		return nil, fmt.Errorf("failed to issue authorization code: %w", err)
	}

	rawURL, err := oauth.BuildRedirectURL(tx.Request.RedirectURI, map[string]string{
		"code":  code,
		"state": tx.Request.State,
	}, false)
	if err != nil {
		return nil, fmt.Errorf("failed to build redirect: %w", err)
	}

	g.logger.Debug("Authorization code issued",
		"client_id", tx.ClientID,
		"transaction_id", tx.ID)
	return &oauth.Redirect{URL: rawURL}, nil
}

// validatePKCE checks the code challenge parameters. Violations are
// redirectable since the redirect URI was validated first.
func validatePKCE(req *oauth.AuthorizeRequest, validated *storage.AuthorizationRequest) (challenge, method string, err error) {
	method = req.CodeChallengeMethod
	challenge = req.CodeChallenge

	if challenge == "" {
		if method != "" {
			return "", "", oauth.NewRedirectableError(oauth.ErrorCodeInvalidRequest,
				"code_challenge_method requires code_challenge", validated.RedirectURI, validated.State)
		}
		return "", "", nil
	}

	switch method {
	case "":
		method = "plain"
	case "plain", "S256":
	default:
		return "", "", oauth.NewRedirectableError(oauth.ErrorCodeInvalidRequest,
			fmt.Sprintf("unsupported code_challenge_method %q", method), validated.RedirectURI, validated.State)
	}
	return challenge, method, nil
}
