// Package grant implements the grant modules of the authorization pipeline:
// the authorization code grant (response type "code") and the implicit
// grant (response type "token"). Each module validates authorization
// requests and, after the resource-owner decision, issues its grant and
// computes the redirect target.
package grant

import (
	"context"
	"errors"
	"net/http"

	oauth "github.com/authkit/oauthengine"
	"github.com/authkit/oauthengine/storage"
)

// validateRequest performs the validation shared by all grant modules:
// resolving the client, validating the redirect URI, and checking that the
// client may use the response type. Failures before the redirect URI is
// trusted are direct errors; failures after it are redirectable.
func validateRequest(ctx context.Context, clients storage.ClientStore, validate oauth.RedirectValidator, req *oauth.AuthorizeRequest, responseType string) (*storage.AuthorizationRequest, *storage.Client, error) {
	if req.ClientID == "" {
		return nil, nil, oauth.NewAuthorizationError(oauth.ErrorCodeInvalidRequest,
			"client_id is required", http.StatusBadRequest)
	}

	client, err := clients.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, oauth.NewAuthorizationError(oauth.ErrorCodeInvalidClient,
				"unknown client", http.StatusUnauthorized)
		}
		return nil, nil, oauth.NewServerError(err)
	}

	redirectURI, ok := validate(client, req.RedirectURI)
	if !ok {
		// Mismatches are fatal and never silently corrected; no redirect
		// target is trusted.
		return nil, nil, oauth.NewAuthorizationError(oauth.ErrorCodeInvalidRedirectURI,
			"redirect URI is not registered for this client", http.StatusBadRequest)
	}

	if !allowsResponseType(client, responseType) {
		authErr := oauth.NewRedirectableError(oauth.ErrorCodeUnauthorizedClient,
			"client is not authorized for this response type", redirectURI, req.State)
		authErr.Fragment = responseType == "token"
		return nil, nil, authErr
	}

	return &storage.AuthorizationRequest{
		ResponseType: responseType,
		ClientID:     client.ID,
		RedirectURI:  redirectURI,
		Scopes:       req.Scopes,
		State:        req.State,
		Extra:        req.Extra,
	}, client, nil
}

// allowsResponseType reports whether the client may use the response type.
// An empty list allows all response types.
func allowsResponseType(client *storage.Client, responseType string) bool {
	if len(client.ResponseTypes) == 0 {
		return true
	}
	for _, rt := range client.ResponseTypes {
		if rt == responseType {
			return true
		}
	}
	return false
}

// narrowScopes applies the resource owner's optional scope narrowing.
// The decision may only narrow, never widen.
func narrowScopes(requested, decided []string) ([]string, bool) {
	if decided == nil {
		return requested, true
	}
	allowed := make(map[string]bool, len(requested))
	for _, scope := range requested {
		allowed[scope] = true
	}
	for _, scope := range decided {
		if !allowed[scope] {
			return nil, false
		}
	}
	return decided, true
}

// deniedRedirect builds the access_denied redirect for a declined decision.
func deniedRedirect(tx *storage.Transaction, fragment bool) (*oauth.Redirect, error) {
	rawURL, err := oauth.BuildRedirectURL(tx.Request.RedirectURI, map[string]string{
		"error": oauth.ErrorCodeAccessDenied,
		"state": tx.Request.State,
	}, fragment)
	if err != nil {
		return nil, err
	}
	return &oauth.Redirect{URL: rawURL}, nil
}
