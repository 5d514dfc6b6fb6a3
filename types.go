package oauth

import (
	"context"
	"net/url"

	"github.com/authkit/oauthengine/storage"
)

// AuthorizeRequest carries the raw parameters of an authorization request.
// Field values arrive pre-parsed from whatever transport fronts the engine.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string

	// Extra carries grant-type-specific parameters not modeled above.
	Extra map[string]string
}

// Decision is the resource owner's answer to a pending authorization
// request, supplied by the consent UI.
type Decision struct {
	TransactionID string
	Allow         bool

	// Scopes optionally narrows the grant to a subset of the requested
	// scopes. Nil keeps the requested scopes.
	Scopes []string

	// UserID is the authenticated resource owner granting access.
	UserID string
}

// AuthorizePage is the rendering context handed to the external consent UI
// after a successful authorize call.
type AuthorizePage struct {
	TransactionID string
	Client        *storage.Client
	Scopes        []string
	Request       *storage.AuthorizationRequest
}

// Redirect is the computed redirect target concluding an authorization flow.
type Redirect struct {
	URL string
}

// TokenRequest carries the parameters of a token endpoint request.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	RefreshToken string
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
	CodeVerifier string
	Scopes       []string

	// Client is the authenticated client, set by the server before
	// dispatching to an exchange module.
	Client *storage.Client
}

// TokenResponse represents an OAuth 2.0 token endpoint response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Grant is a grant module handling one or more response types. Request
// validates an authorization request; Respond issues the grant after the
// resource-owner decision and computes the redirect target.
type Grant interface {
	// ResponseTypes returns the response types this module handles. The
	// first entry is the canonical name; the rest are aliases.
	ResponseTypes() []string

	// Request validates the raw request and produces an immutable
	// AuthorizationRequest along with the client it resolved, or fails
	// with an *AuthorizationError. Returning the client lets the server
	// reuse the lookup the validation already performed.
	Request(ctx context.Context, req *AuthorizeRequest) (*storage.AuthorizationRequest, *storage.Client, error)

	// Respond issues a grant for an allowed decision, or computes an
	// access_denied redirect for a denied one.
	Respond(ctx context.Context, tx *storage.Transaction, decision *Decision) (*Redirect, error)
}

// Exchange is an exchange module handling one or more grant types. Token
// validates the grant and issues a token response, or fails with a
// *TokenError.
type Exchange interface {
	// GrantTypes returns the grant types this module handles. The first
	// entry is the canonical name; the rest are aliases.
	GrantTypes() []string

	// Token validates the request and issues tokens.
	Token(ctx context.Context, req *TokenRequest) (*TokenResponse, error)
}

// UserAuthenticator verifies resource-owner credentials for the password
// grant. Implementations live outside the engine.
type UserAuthenticator interface {
	// AuthenticateUser verifies the credentials and returns the user ID.
	// Failed authentication returns an error; the exchange maps it to
	// invalid_grant without detail.
	AuthenticateUser(ctx context.Context, username, password string) (string, error)
}

// RedirectValidator decides whether a requested redirect URI is acceptable
// for a client and resolves the effective URI. It returns the URI to use
// and whether the request is valid.
type RedirectValidator func(client *storage.Client, requestedURI string) (string, bool)

// DefaultRedirectValidator matches the requested URI exactly against the
// client's registered URIs. When the client has exactly one registered URI
// and none was requested, that URI is used. Mismatches are fatal and are
// never silently corrected.
func DefaultRedirectValidator(client *storage.Client, requestedURI string) (string, bool) {
	if requestedURI == "" {
		if len(client.RedirectURIs) == 1 {
			return client.RedirectURIs[0], true
		}
		return "", false
	}
	for _, registered := range client.RedirectURIs {
		if registered == requestedURI {
			return requestedURI, true
		}
	}
	return "", false
}

// BuildRedirectURL appends parameters to a redirect URI, in the query
// string or, for implicit responses, the fragment. Existing query
// parameters on the URI are preserved.
func BuildRedirectURL(redirectURI string, params map[string]string, fragment bool) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", err
	}

	values := url.Values{}
	if !fragment {
		values = u.Query()
	}
	for k, v := range params {
		if v != "" {
			values.Set(k, v)
		}
	}

	if fragment {
		u.Fragment = values.Encode()
		return u.String(), nil
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}
