package security

import (
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// GenerateArtifact generates an opaque, cryptographically random protocol
// artifact (authorization code, access token, refresh token, family ID).
// Uses the same generator as PKCE verifiers for consistent entropy.
func GenerateArtifact() string {
	return oauth2.GenerateVerifier()
}

// NewTransactionID generates an unguessable transaction identifier.
func NewTransactionID() string {
	return uuid.NewString()
}
