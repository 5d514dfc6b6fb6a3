// Package exchange implements the exchange modules of the token pipeline:
// authorization_code, refresh_token, client_credentials, and password.
// Each module validates a token request against its grant-type invariants
// and issues tokens through the issuer collaborator. All failures surface
// as *oauth.TokenError values for direct JSON reporting.
package exchange

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"

	oauth "github.com/authkit/oauthengine"
	"github.com/authkit/oauthengine/issuer"
)

// tokenResponse converts an issued token set into the wire response.
func tokenResponse(tokens *issuer.Tokens) *oauth.TokenResponse {
	return &oauth.TokenResponse{
		AccessToken:  tokens.AccessToken,
		TokenType:    tokens.TokenType,
		ExpiresIn:    tokens.ExpiresIn,
		RefreshToken: tokens.RefreshToken,
		Scope:        strings.Join(tokens.Scopes, " "),
	}
}

// verifyPKCE checks a code verifier against the challenge recorded at
// authorization time. Comparisons are constant-time.
func verifyPKCE(challenge, method, verifier string) bool {
	switch method {
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
	case "plain", "":
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
	default:
		return false
	}
}

// subsetOf reports whether every requested scope was originally granted.
func subsetOf(requested, granted []string) bool {
	allowed := make(map[string]bool, len(granted))
	for _, scope := range granted {
		allowed[scope] = true
	}
	for _, scope := range requested {
		if !allowed[scope] {
			return false
		}
	}
	return true
}
