package oauth_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	oauth "github.com/authkit/oauthengine"
	"github.com/authkit/oauthengine/exchange"
	"github.com/authkit/oauthengine/grant"
	"github.com/authkit/oauthengine/issuer"
	"github.com/authkit/oauthengine/security"
	"github.com/authkit/oauthengine/storage"
	"github.com/authkit/oauthengine/storage/memory"
)

const testClientSecret = "s3cret-value"

// newTestServer wires a complete engine over the in-memory store: both
// grant modules, all four exchange modules, client identity strategies,
// and two seeded clients.
func newTestServer(t *testing.T, config *oauth.ServerConfig) (*oauth.Server, *memory.Store) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)
	logger := slog.Default()

	hash, err := security.HashClientSecret(testClientSecret)
	if err != nil {
		t.Fatalf("HashClientSecret: %v", err)
	}
	webApp := &storage.Client{
		ID:            "web-app",
		SecretHash:    hash,
		Type:          "confidential",
		RedirectURIs:  []string{"https://app.example.com/callback"},
		GrantTypes:    []string{"authorization_code", "refresh_token", "client_credentials"},
		ResponseTypes: []string{"code"},
		Name:          "Web App",
		Scopes:        []string{"read", "write"},
	}
	spa := &storage.Client{
		ID:            "spa",
		Type:          "public",
		RedirectURIs:  []string{"https://spa.example.com/cb"},
		GrantTypes:    []string{"authorization_code"},
		ResponseTypes: []string{"code", "token"},
		Name:          "Single Page App",
	}
	for _, c := range []*storage.Client{webApp, spa} {
		if err := store.SaveClient(context.Background(), c); err != nil {
			t.Fatalf("SaveClient(%s): %v", c.ID, err)
		}
	}

	srv, err := oauth.NewServer(store, store, config, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(srv.Close)

	srv.Identity().RegisterClientSerializer(func(ctx context.Context, principal any) (string, error) {
		c, ok := principal.(*storage.Client)
		if !ok {
			return "", oauth.ErrPass
		}
		return c.ID, nil
	})
	srv.Identity().RegisterClientDeserializer(func(ctx context.Context, id string) (any, error) {
		c, err := store.GetClient(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return c, err
	})

	iss, err := issuer.NewOpaque(store, store, issuer.Config{}, logger)
	if err != nil {
		t.Fatalf("NewOpaque: %v", err)
	}

	codeGrant, err := grant.NewCode(store, iss, nil, logger)
	if err != nil {
		t.Fatalf("NewCode: %v", err)
	}
	implicitGrant, err := grant.NewImplicit(store, iss, nil, logger)
	if err != nil {
		t.Fatalf("NewImplicit: %v", err)
	}
	for _, g := range []oauth.Grant{codeGrant, implicitGrant} {
		if err := srv.RegisterGrant(g); err != nil {
			t.Fatalf("RegisterGrant: %v", err)
		}
	}

	codeExchange, err := exchange.NewAuthorizationCode(exchange.AuthorizationCodeConfig{
		Issuer:     iss,
		Revocation: store,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("NewAuthorizationCode: %v", err)
	}
	refreshExchange, err := exchange.NewRefreshToken(exchange.RefreshTokenConfig{
		Issuer:     iss,
		Tokens:     store,
		Rotated:    store,
		Revocation: store,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("NewRefreshToken: %v", err)
	}
	ccExchange, err := exchange.NewClientCredentials(iss, logger)
	if err != nil {
		t.Fatalf("NewClientCredentials: %v", err)
	}
	for _, e := range []oauth.Exchange{codeExchange, refreshExchange, ccExchange} {
		if err := srv.RegisterExchange(e); err != nil {
			t.Fatalf("RegisterExchange: %v", err)
		}
	}

	return srv, store
}

func parseQueryParams(t *testing.T, rawURL string) url.Values {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse redirect %q: %v", rawURL, err)
	}
	return u.Query()
}

func parseFragmentParams(t *testing.T, rawURL string) url.Values {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse redirect %q: %v", rawURL, err)
	}
	values, err := url.ParseQuery(u.Fragment)
	if err != nil {
		t.Fatalf("parse fragment %q: %v", u.Fragment, err)
	}
	return values
}

// authorizeAndAllow drives a code flow through authorize and an allow
// decision, returning the issued authorization code.
func authorizeAndAllow(t *testing.T, srv *oauth.Server, req *oauth.AuthorizeRequest, userID string) string {
	t.Helper()
	ctx := context.Background()

	page, err := srv.Authorize(ctx, req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	redirect, err := srv.Decision(ctx, &oauth.Decision{
		TransactionID: page.TransactionID,
		Allow:         true,
		UserID:        userID,
	})
	if err != nil {
		t.Fatalf("Decision: %v", err)
	}
	code := parseQueryParams(t, redirect.URL).Get("code")
	if code == "" {
		t.Fatalf("no code in redirect %q", redirect.URL)
	}
	return code
}

func TestAuthorizationCodeFlow(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()

	page, err := srv.Authorize(ctx, &oauth.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "web-app",
		RedirectURI:  "https://app.example.com/callback",
		Scopes:       []string{"read"},
		State:        "xyz",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if page.TransactionID == "" {
		t.Fatal("empty transaction ID")
	}
	if page.Client.ID != "web-app" {
		t.Errorf("client = %q, want web-app", page.Client.ID)
	}

	redirect, err := srv.Decision(ctx, &oauth.Decision{
		TransactionID: page.TransactionID,
		Allow:         true,
		UserID:        "user-1",
	})
	if err != nil {
		t.Fatalf("Decision: %v", err)
	}
	params := parseQueryParams(t, redirect.URL)
	code := params.Get("code")
	if code == "" {
		t.Fatalf("no code in redirect %q", redirect.URL)
	}
	if got := params.Get("state"); got != "xyz" {
		t.Errorf("state = %q, want xyz", got)
	}

	resp, err := srv.Token(ctx, &oauth.TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  "https://app.example.com/callback",
		ClientID:     "web-app",
		ClientSecret: testClientSecret,
	})
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if resp.AccessToken == "" {
		t.Error("empty access token")
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("token type = %q, want Bearer", resp.TokenType)
	}
	if resp.RefreshToken == "" {
		t.Error("client allows refresh_token, expected a refresh token")
	}
	if resp.Scope != "read" {
		t.Errorf("scope = %q, want read", resp.Scope)
	}
}

func TestDeniedDecisionRedirectsAccessDenied(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()

	page, err := srv.Authorize(ctx, &oauth.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "web-app",
		RedirectURI:  "https://app.example.com/callback",
		State:        "abc",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	redirect, err := srv.Decision(ctx, &oauth.Decision{
		TransactionID: page.TransactionID,
		Allow:         false,
		UserID:        "user-1",
	})
	if err != nil {
		t.Fatalf("Decision: %v", err)
	}
	params := parseQueryParams(t, redirect.URL)
	if got := params.Get("error"); got != "access_denied" {
		t.Errorf("error = %q, want access_denied", got)
	}
	if got := params.Get("state"); got != "abc" {
		t.Errorf("state = %q, want abc", got)
	}
	if params.Get("code") != "" {
		t.Error("denied decision must not carry a code")
	}
}

func TestCodeReplayRejected(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()

	code := authorizeAndAllow(t, srv, &oauth.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "web-app",
		RedirectURI:  "https://app.example.com/callback",
	}, "user-1")

	req := &oauth.TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  "https://app.example.com/callback",
		ClientID:     "web-app",
		ClientSecret: testClientSecret,
	}
	if _, err := srv.Token(ctx, req); err != nil {
		t.Fatalf("first redemption: %v", err)
	}

	_, err := srv.Token(ctx, req)
	var tokenErr *oauth.TokenError
	if !errors.As(err, &tokenErr) {
		t.Fatalf("error type %T, want *TokenError", err)
	}
	if tokenErr.Code != oauth.ErrorCodeInvalidGrant {
		t.Errorf("code = %q, want invalid_grant", tokenErr.Code)
	}
}

func TestUntrustedRedirectIsDirectError(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	_, err := srv.Authorize(context.Background(), &oauth.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "web-app",
		RedirectURI:  "https://evil.example.com/steal",
	})
	var authErr *oauth.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("error type %T, want *AuthorizationError", err)
	}
	if authErr.Redirectable {
		t.Error("unregistered redirect URI must never produce an error redirect")
	}
	if _, ok := oauth.RedirectForError(err); ok {
		t.Error("RedirectForError must refuse an untrusted redirect")
	}
}

func TestUnknownResponseType(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	_, err := srv.Authorize(context.Background(), &oauth.AuthorizeRequest{
		ResponseType: "device_code",
		ClientID:     "web-app",
	})
	var authErr *oauth.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("error type %T, want *AuthorizationError", err)
	}
	if authErr.Code != oauth.ErrorCodeUnsupportedResponseType {
		t.Errorf("code = %q, want unsupported_response_type", authErr.Code)
	}
	if authErr.Redirectable {
		t.Error("unsupported response type is a direct error")
	}
}

func TestAuthorizeNilRequest(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	_, err := srv.Authorize(context.Background(), nil)
	var authErr *oauth.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("error type %T, want *AuthorizationError", err)
	}
	if authErr.Code != oauth.ErrorCodeInvalidRequest {
		t.Errorf("code = %q, want invalid_request", authErr.Code)
	}
}

// countingClientStore records how many lookups a flow performs.
type countingClientStore struct {
	inner storage.ClientStore
	calls int
}

func (c *countingClientStore) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	c.calls++
	return c.inner.GetClient(ctx, clientID)
}

func TestAuthorizeResolvesClientOnce(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)
	ctx := context.Background()

	err := store.SaveClient(ctx, &storage.Client{
		ID:           "spa",
		Type:         "public",
		RedirectURIs: []string{"https://spa.example.com/cb"},
	})
	if err != nil {
		t.Fatalf("SaveClient: %v", err)
	}
	clients := &countingClientStore{inner: store}

	srv, err := oauth.NewServer(clients, store, nil, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(srv.Close)
	srv.Identity().RegisterClientSerializer(func(ctx context.Context, principal any) (string, error) {
		return principal.(*storage.Client).ID, nil
	})
	srv.Identity().RegisterClientDeserializer(func(ctx context.Context, id string) (any, error) {
		return store.GetClient(ctx, id)
	})

	iss, err := issuer.NewOpaque(store, store, issuer.Config{}, nil)
	if err != nil {
		t.Fatalf("NewOpaque: %v", err)
	}
	codeGrant, err := grant.NewCode(clients, iss, nil, nil)
	if err != nil {
		t.Fatalf("NewCode: %v", err)
	}
	if err := srv.RegisterGrant(codeGrant); err != nil {
		t.Fatalf("RegisterGrant: %v", err)
	}

	_, err = srv.Authorize(ctx, &oauth.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "spa",
		RedirectURI:  "https://spa.example.com/cb",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if clients.calls != 1 {
		t.Errorf("GetClient calls = %d, want the request-phase lookup only", clients.calls)
	}
}

func TestResponseTypeAliasDispatch(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()

	// "authorization_code" is an alias for "code" and must reach the same module.
	page, err := srv.Authorize(ctx, &oauth.AuthorizeRequest{
		ResponseType: "authorization_code",
		ClientID:     "web-app",
		RedirectURI:  "https://app.example.com/callback",
	})
	if err != nil {
		t.Fatalf("Authorize via alias: %v", err)
	}
	if page.Request.ResponseType != "code" {
		t.Errorf("validated response type = %q, want canonical code", page.Request.ResponseType)
	}
}

func TestGrantTypeAliasDispatch(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()

	code := authorizeAndAllow(t, srv, &oauth.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "web-app",
		RedirectURI:  "https://app.example.com/callback",
	}, "user-1")

	// "code" is an alias for "authorization_code" at the token endpoint.
	resp, err := srv.Token(ctx, &oauth.TokenRequest{
		GrantType:    "code",
		Code:         code,
		RedirectURI:  "https://app.example.com/callback",
		ClientID:     "web-app",
		ClientSecret: testClientSecret,
	})
	if err != nil {
		t.Fatalf("Token via alias: %v", err)
	}
	if resp.AccessToken == "" {
		t.Error("empty access token")
	}
}

func TestImplicitFlow(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()

	page, err := srv.Authorize(ctx, &oauth.AuthorizeRequest{
		ResponseType: "token",
		ClientID:     "spa",
		RedirectURI:  "https://spa.example.com/cb",
		State:        "s1",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	redirect, err := srv.Decision(ctx, &oauth.Decision{
		TransactionID: page.TransactionID,
		Allow:         true,
		UserID:        "user-1",
	})
	if err != nil {
		t.Fatalf("Decision: %v", err)
	}
	params := parseFragmentParams(t, redirect.URL)
	if params.Get("access_token") == "" {
		t.Errorf("no access_token in fragment of %q", redirect.URL)
	}
	if got := params.Get("token_type"); got != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", got)
	}
	if got := params.Get("state"); got != "s1" {
		t.Errorf("state = %q, want s1", got)
	}
	if params.Get("refresh_token") != "" {
		t.Error("implicit responses must not carry a refresh token")
	}
}

func TestDecisionConsumedExactlyOnce(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()

	page, err := srv.Authorize(ctx, &oauth.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "web-app",
		RedirectURI:  "https://app.example.com/callback",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	successes := make(chan struct{}, workers)
	staleness := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := srv.Decision(ctx, &oauth.Decision{
				TransactionID: page.TransactionID,
				Allow:         true,
				UserID:        "user-1",
			})
			if err == nil {
				successes <- struct{}{}
				return
			}
			staleness <- err
		}()
	}
	wg.Wait()
	close(successes)
	close(staleness)

	if got := len(successes); got != 1 {
		t.Fatalf("%d decisions succeeded, want exactly 1", got)
	}
	for err := range staleness {
		var txErr *oauth.TransactionError
		if !errors.As(err, &txErr) {
			t.Errorf("loser error type %T, want *TransactionError", err)
		}
	}
}

func TestDecisionUnknownTransaction(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	_, err := srv.Decision(context.Background(), &oauth.Decision{
		TransactionID: "no-such-transaction",
		Allow:         true,
		UserID:        "user-1",
	})
	var txErr *oauth.TransactionError
	if !errors.As(err, &txErr) {
		t.Fatalf("error type %T, want *TransactionError", err)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want wrapped ErrNotFound", err)
	}
}

func TestUnsupportedScopeRedirects(t *testing.T) {
	srv, _ := newTestServer(t, &oauth.ServerConfig{
		SupportedScopes: []string{"read", "write"},
	})

	_, err := srv.Authorize(context.Background(), &oauth.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "web-app",
		RedirectURI:  "https://app.example.com/callback",
		Scopes:       []string{"read", "admin"},
		State:        "s2",
	})
	var authErr *oauth.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("error type %T, want *AuthorizationError", err)
	}
	if authErr.Code != oauth.ErrorCodeInvalidScope {
		t.Errorf("code = %q, want invalid_scope", authErr.Code)
	}
	if !authErr.Redirectable {
		t.Fatal("scope violation after redirect validation must be redirectable")
	}

	redirect, ok := oauth.RedirectForError(err)
	if !ok {
		t.Fatal("RedirectForError should handle a redirectable error")
	}
	params := parseQueryParams(t, redirect.URL)
	if got := params.Get("error"); got != "invalid_scope" {
		t.Errorf("error = %q, want invalid_scope", got)
	}
	if got := params.Get("state"); got != "s2" {
		t.Errorf("state = %q, want s2", got)
	}
}

func TestClientAuthenticationFailure(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *oauth.TokenRequest
	}{
		{
			name: "wrong secret",
			req: &oauth.TokenRequest{
				GrantType:    "client_credentials",
				ClientID:     "web-app",
				ClientSecret: "wrong",
			},
		},
		{
			name: "unknown client",
			req: &oauth.TokenRequest{
				GrantType:    "client_credentials",
				ClientID:     "nobody",
				ClientSecret: testClientSecret,
			},
		},
		{
			name: "public client presenting a secret",
			req: &oauth.TokenRequest{
				GrantType:    "authorization_code",
				Code:         "whatever",
				ClientID:     "spa",
				ClientSecret: "sneaky",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.Token(ctx, tt.req)
			var tokenErr *oauth.TokenError
			if !errors.As(err, &tokenErr) {
				t.Fatalf("error type %T, want *TokenError", err)
			}
			if tokenErr.Code != oauth.ErrorCodeInvalidClient {
				t.Errorf("code = %q, want invalid_client", tokenErr.Code)
			}
			if tokenErr.Status != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", tokenErr.Status)
			}
		})
	}
}

func TestUnauthorizedGrantType(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	// spa is registered for authorization_code only.
	_, err := srv.Token(context.Background(), &oauth.TokenRequest{
		GrantType: "client_credentials",
		ClientID:  "spa",
	})
	var tokenErr *oauth.TokenError
	if !errors.As(err, &tokenErr) {
		t.Fatalf("error type %T, want *TokenError", err)
	}
	if tokenErr.Code != oauth.ErrorCodeUnauthorizedClient {
		t.Errorf("code = %q, want unauthorized_client", tokenErr.Code)
	}
}

func TestUnsupportedGrantType(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	_, err := srv.Token(context.Background(), &oauth.TokenRequest{
		GrantType:    "urn:ietf:params:oauth:grant-type:device_code",
		ClientID:     "web-app",
		ClientSecret: testClientSecret,
	})
	var tokenErr *oauth.TokenError
	if !errors.As(err, &tokenErr) {
		t.Fatalf("error type %T, want *TokenError", err)
	}
	if tokenErr.Code != oauth.ErrorCodeUnsupportedGrantType {
		t.Errorf("code = %q, want unsupported_grant_type", tokenErr.Code)
	}
}

func TestRefreshTokenRotationThroughServer(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()

	code := authorizeAndAllow(t, srv, &oauth.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "web-app",
		RedirectURI:  "https://app.example.com/callback",
		Scopes:       []string{"read"},
	}, "user-1")

	first, err := srv.Token(ctx, &oauth.TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  "https://app.example.com/callback",
		ClientID:     "web-app",
		ClientSecret: testClientSecret,
	})
	if err != nil {
		t.Fatalf("code exchange: %v", err)
	}

	second, err := srv.Token(ctx, &oauth.TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: first.RefreshToken,
		ClientID:     "web-app",
		ClientSecret: testClientSecret,
	})
	if err != nil {
		t.Fatalf("refresh exchange: %v", err)
	}
	if second.RefreshToken == "" || second.RefreshToken == first.RefreshToken {
		t.Error("refresh exchange must rotate the refresh token")
	}

	// The retired token is now a reuse signal.
	_, err = srv.Token(ctx, &oauth.TokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: first.RefreshToken,
		ClientID:     "web-app",
		ClientSecret: testClientSecret,
	})
	var tokenErr *oauth.TokenError
	if !errors.As(err, &tokenErr) {
		t.Fatalf("error type %T, want *TokenError", err)
	}
	if tokenErr.Code != oauth.ErrorCodeInvalidGrant {
		t.Errorf("code = %q, want invalid_grant", tokenErr.Code)
	}
}

func TestTokenEndpointRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, &oauth.ServerConfig{
		RateLimit: oauth.RateLimitConfig{Rate: 1, Burst: 1},
	})
	ctx := context.Background()

	// Burst of one: the second immediate request is refused before client
	// authentication runs.
	_, _ = srv.Token(ctx, &oauth.TokenRequest{
		GrantType:    "client_credentials",
		ClientID:     "web-app",
		ClientSecret: testClientSecret,
	})
	_, err := srv.Token(ctx, &oauth.TokenRequest{
		GrantType:    "client_credentials",
		ClientID:     "web-app",
		ClientSecret: testClientSecret,
	})
	var tokenErr *oauth.TokenError
	if !errors.As(err, &tokenErr) {
		t.Fatalf("error type %T, want *TokenError", err)
	}
	if tokenErr.Code != oauth.ErrorCodeRateLimitExceeded {
		t.Errorf("code = %q, want rate_limit_exceeded", tokenErr.Code)
	}
	if tokenErr.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", tokenErr.Status)
	}
}

func TestRegisterRejectsDivergentRebinding(t *testing.T) {
	srv, store := newTestServer(t, nil)
	logger := slog.Default()

	iss, err := issuer.NewOpaque(store, store, issuer.Config{}, logger)
	if err != nil {
		t.Fatalf("NewOpaque: %v", err)
	}
	other, err := grant.NewCode(store, iss, nil, logger)
	if err != nil {
		t.Fatalf("NewCode: %v", err)
	}

	err = srv.RegisterGrant(other)
	var cfgErr *oauth.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error type %T, want *ConfigError", err)
	}

	cc, err := exchange.NewClientCredentials(iss, logger)
	if err != nil {
		t.Fatalf("NewClientCredentials: %v", err)
	}
	if err := srv.RegisterExchange(cc); !errors.As(err, &cfgErr) {
		t.Fatalf("rebinding a grant type must fail with *ConfigError, got %v", err)
	}
}

func TestPKCEFlowThroughServer(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	code := authorizeAndAllow(t, srv, &oauth.AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "spa",
		RedirectURI:         "https://spa.example.com/cb",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	}, "user-1")

	// A failed PKCE check still consumes the code, so a fresh code is
	// needed for the successful redemption below.
	_, err := srv.Token(ctx, &oauth.TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  "https://spa.example.com/cb",
		ClientID:     "spa",
		CodeVerifier: "not-the-verifier",
	})
	var tokenErr *oauth.TokenError
	if !errors.As(err, &tokenErr) {
		t.Fatalf("error type %T, want *TokenError", err)
	}
	if tokenErr.Code != oauth.ErrorCodeInvalidGrant {
		t.Errorf("code = %q, want invalid_grant", tokenErr.Code)
	}

	code = authorizeAndAllow(t, srv, &oauth.AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "spa",
		RedirectURI:         "https://spa.example.com/cb",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	}, "user-1")

	resp, err := srv.Token(ctx, &oauth.TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  "https://spa.example.com/cb",
		ClientID:     "spa",
		CodeVerifier: verifier,
	})
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if resp.AccessToken == "" {
		t.Error("empty access token")
	}
}

func TestScopeNarrowingAtDecision(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ctx := context.Background()

	page, err := srv.Authorize(ctx, &oauth.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "web-app",
		RedirectURI:  "https://app.example.com/callback",
		Scopes:       []string{"read", "write"},
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	redirect, err := srv.Decision(ctx, &oauth.Decision{
		TransactionID: page.TransactionID,
		Allow:         true,
		Scopes:        []string{"read"},
		UserID:        "user-1",
	})
	if err != nil {
		t.Fatalf("Decision: %v", err)
	}
	code := parseQueryParams(t, redirect.URL).Get("code")

	resp, err := srv.Token(ctx, &oauth.TokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  "https://app.example.com/callback",
		ClientID:     "web-app",
		ClientSecret: testClientSecret,
	})
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if resp.Scope != "read" {
		t.Errorf("scope = %q, want the narrowed read", resp.Scope)
	}
}

func TestExpiredTransaction(t *testing.T) {
	srv, _ := newTestServer(t, &oauth.ServerConfig{
		TransactionTTL: time.Nanosecond,
	})
	ctx := context.Background()

	page, err := srv.Authorize(ctx, &oauth.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     "web-app",
		RedirectURI:  "https://app.example.com/callback",
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	_, err = srv.Decision(ctx, &oauth.Decision{
		TransactionID: page.TransactionID,
		Allow:         true,
		UserID:        "user-1",
	})
	var txErr *oauth.TransactionError
	if !errors.As(err, &txErr) {
		t.Fatalf("error type %T, want *TransactionError", err)
	}
}
