// Package testutil provides shared fixtures for store and pipeline tests.
package testutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/authkit/oauthengine/storage"
)

// ConfidentialClient returns a confidential test client. The secret hash is
// a bcrypt hash of "secret".
func ConfidentialClient(id string) *storage.Client {
	return &storage.Client{
		ID:            id,
		SecretHash:    "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy",
		Type:          "confidential",
		RedirectURIs:  []string{"https://example.com/callback"},
		GrantTypes:    []string{"authorization_code", "refresh_token"},
		ResponseTypes: []string{"code"},
		Name:          "Test Client",
		Scopes:        []string{"read", "write"},
		CreatedAt:     time.Now(),
	}
}

// PublicClient returns a public test client.
func PublicClient(id string) *storage.Client {
	c := ConfidentialClient(id)
	c.SecretHash = ""
	c.Type = "public"
	return c
}

// AuthorizationCode returns a redeemable test code record expiring in ten
// minutes.
func AuthorizationCode(clientID, userID string) *storage.AuthorizationCode {
	now := time.Now()
	return &storage.AuthorizationCode{
		Code:        RandomString(32),
		ClientID:    clientID,
		UserID:      userID,
		RedirectURI: "https://example.com/callback",
		Scopes:      []string{"read"},
		CreatedAt:   now,
		ExpiresAt:   now.Add(10 * time.Minute),
	}
}

// RefreshToken returns a live test refresh token record.
func RefreshToken(clientID, userID, familyID string, generation int) *storage.RefreshToken {
	now := time.Now()
	return &storage.RefreshToken{
		Token:      RandomString(32),
		ClientID:   clientID,
		UserID:     userID,
		Scopes:     []string{"read"},
		FamilyID:   familyID,
		Generation: generation,
		CreatedAt:  now,
		ExpiresAt:  now.Add(24 * time.Hour),
	}
}

// AccessToken returns a live test access token record.
func AccessToken(clientID, userID string) *storage.AccessToken {
	now := time.Now()
	return &storage.AccessToken{
		Token:     RandomString(32),
		ClientID:  clientID,
		UserID:    userID,
		Scopes:    []string{"read"},
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
}

// RandomString generates a random URL-safe string.
func RandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// PKCEPair generates a matching S256 challenge and verifier.
func PKCEPair() (challenge, verifier string) {
	verifier = RandomString(50)
	hash := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(hash[:])
	return challenge, verifier
}
