package issuer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/authkit/oauthengine/storage"
	"github.com/authkit/oauthengine/storage/memory"
)

func testClient() *storage.Client {
	return &storage.Client{
		ID:           "test-client",
		Type:         "confidential",
		RedirectURIs: []string{"https://app.example.com/callback"},
	}
}

func TestOpaqueIssueAndExchangeCode(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	iss, err := NewOpaque(store, store, Config{}, nil)
	if err != nil {
		t.Fatalf("NewOpaque: %v", err)
	}

	ctx := context.Background()
	client := testClient()
	req := &storage.AuthorizationRequest{
		ResponseType: "code",
		ClientID:     client.ID,
		RedirectURI:  "https://app.example.com/callback",
		Scopes:       []string{"read"},
	}

	code, err := iss.IssueCode(ctx, client, "user-1", req)
	if err != nil {
		t.Fatalf("IssueCode: %v", err)
	}
	if code == "" {
		t.Fatal("expected non-empty code")
	}

	rec, err := iss.ExchangeCode(ctx, code)
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if rec.ClientID != client.ID || rec.UserID != "user-1" {
		t.Errorf("unexpected binding: client=%q user=%q", rec.ClientID, rec.UserID)
	}
	if rec.RedirectURI != req.RedirectURI {
		t.Errorf("RedirectURI = %q, want %q", rec.RedirectURI, req.RedirectURI)
	}

	// Redeeming the same code again must fail and still identify the grant.
	rec2, err := iss.ExchangeCode(ctx, code)
	if !errors.Is(err, storage.ErrRedeemed) {
		t.Fatalf("second exchange err = %v, want ErrRedeemed", err)
	}
	if rec2 == nil || rec2.UserID != "user-1" {
		t.Error("reuse result should carry the original grant for revocation")
	}
}

func TestOpaqueExchangeUnknownCode(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	iss, err := NewOpaque(store, store, Config{}, nil)
	if err != nil {
		t.Fatalf("NewOpaque: %v", err)
	}

	_, err = iss.ExchangeCode(context.Background(), "no-such-code")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestOpaqueIssueToken(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	iss, err := NewOpaque(store, store, Config{AccessTokenTTL: 2 * time.Hour}, nil)
	if err != nil {
		t.Fatalf("NewOpaque: %v", err)
	}

	ctx := context.Background()
	tokens, err := iss.IssueToken(ctx, testClient(), "user-1", []string{"read", "write"},
		IssueOptions{IncludeRefreshToken: true})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if tokens.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", tokens.TokenType)
	}
	if tokens.ExpiresIn != 7200 {
		t.Errorf("ExpiresIn = %d, want 7200", tokens.ExpiresIn)
	}
	if tokens.RefreshToken == "" {
		t.Error("expected a refresh token")
	}

	access, err := store.GetAccessToken(ctx, tokens.AccessToken)
	if err != nil {
		t.Fatalf("GetAccessToken: %v", err)
	}
	if access.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", access.UserID)
	}

	refresh, err := store.ConsumeRefreshToken(ctx, tokens.RefreshToken)
	if err != nil {
		t.Fatalf("ConsumeRefreshToken: %v", err)
	}
	if refresh.FamilyID == "" || refresh.Generation != 1 {
		t.Errorf("expected fresh family generation 1, got family=%q gen=%d",
			refresh.FamilyID, refresh.Generation)
	}
}

func TestOpaqueIssueTokenContinuesFamily(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	iss, err := NewOpaque(store, store, Config{}, nil)
	if err != nil {
		t.Fatalf("NewOpaque: %v", err)
	}

	ctx := context.Background()
	tokens, err := iss.IssueToken(ctx, testClient(), "user-1", []string{"read"},
		IssueOptions{IncludeRefreshToken: true, RefreshFamilyID: "family-1", RefreshGeneration: 3})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	refresh, err := store.ConsumeRefreshToken(ctx, tokens.RefreshToken)
	if err != nil {
		t.Fatalf("ConsumeRefreshToken: %v", err)
	}
	if refresh.FamilyID != "family-1" || refresh.Generation != 3 {
		t.Errorf("got family=%q gen=%d, want family-1 gen 3", refresh.FamilyID, refresh.Generation)
	}
}

func TestJWTIssueToken(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	secret := []byte("test-signing-secret")
	iss, err := NewJWT(store, store, Config{}, "https://auth.example.com", secret, nil)
	if err != nil {
		t.Fatalf("NewJWT: %v", err)
	}

	ctx := context.Background()
	tokens, err := iss.IssueToken(ctx, testClient(), "user-1", []string{"read", "write"},
		IssueOptions{IncludeRefreshToken: true})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	parsed, err := jwt.ParseWithClaims(tokens.AccessToken, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		t.Fatal("invalid token claims")
	}
	if claims.Issuer != "https://auth.example.com" {
		t.Errorf("iss = %q", claims.Issuer)
	}
	if claims.Subject != "user-1" {
		t.Errorf("sub = %q, want user-1", claims.Subject)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != "test-client" {
		t.Errorf("aud = %v, want [test-client]", claims.Audience)
	}
	if claims.Scope != "read write" {
		t.Errorf("scope = %q, want %q", claims.Scope, "read write")
	}
	if claims.ID == "" {
		t.Error("expected jti claim")
	}

	// The revocation record is keyed by jti.
	if _, err := store.GetAccessToken(ctx, claims.ID); err != nil {
		t.Errorf("GetAccessToken(jti): %v", err)
	}
	if tokens.RefreshToken == "" {
		t.Error("expected a refresh token")
	}
}

func TestJWTSubjectFallsBackToClient(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	secret := []byte("test-signing-secret")
	iss, err := NewJWT(store, store, Config{}, "https://auth.example.com", secret, nil)
	if err != nil {
		t.Fatalf("NewJWT: %v", err)
	}

	tokens, err := iss.IssueToken(context.Background(), testClient(), "", []string{"read"}, IssueOptions{})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	parsed, err := jwt.ParseWithClaims(tokens.AccessToken, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	claims := parsed.Claims.(*AccessClaims)
	if claims.Subject != "test-client" {
		t.Errorf("sub = %q, want test-client", claims.Subject)
	}
}

func TestNewIssuerValidation(t *testing.T) {
	store := memory.New()
	defer store.Stop()

	if _, err := NewOpaque(nil, store, Config{}, nil); err == nil {
		t.Error("expected error for nil code store")
	}
	if _, err := NewOpaque(store, nil, Config{}, nil); err == nil {
		t.Error("expected error for nil token store")
	}
	if _, err := NewJWT(store, store, Config{}, "", []byte("k"), nil); err == nil {
		t.Error("expected error for empty issuer name")
	}
	if _, err := NewJWT(store, store, Config{}, "iss", nil, nil); err == nil {
		t.Error("expected error for missing secret")
	}
}
