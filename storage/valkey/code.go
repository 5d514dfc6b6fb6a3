package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/authkit/oauthengine/storage"
)

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveCode persists an authorization code with a TTL derived from its expiry.
func (s *Store) SaveCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code must not be empty")
	}

	ttl := calculateTTL(code.ExpiresAt)
	if ttl == 0 {
		return fmt.Errorf("authorization code already expired")
	}

	data, err := json.Marshal(toAuthorizationCodeJSON(code))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	key := s.codeKey(code.Code)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", safeTruncate(code.Code, tokenIDLogLength),
		"ttl", ttl)
	return nil
}

// ConsumeCode atomically checks that a code is unredeemed and marks it
// redeemed via a Lua script, so only ONE concurrent redemption succeeds.
//
// On reuse the stale record is returned alongside storage.ErrRedeemed to
// enable detection and revocation of the tokens minted from it.
func (s *Store) ConsumeCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeCode).
			Numkeys(1).
			Key(s.codeKey(code)).
			Arg(fmt.Sprintf("%d", time.Now().Unix())).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic code consume: %w", err)
	}

	switch {
	case result == "NOT_FOUND":
		return nil, fmt.Errorf("authorization code: %w", storage.ErrNotFound)
	case result == "EXPIRED":
		return nil, fmt.Errorf("authorization code: %w", storage.ErrExpired)
	case strings.HasPrefix(result, "ALREADY_REDEEMED:"):
		codeData := strings.TrimPrefix(result, "ALREADY_REDEEMED:")
		var j authorizationCodeJSON
		if err := json.Unmarshal([]byte(codeData), &j); err != nil {
			return nil, fmt.Errorf("%w: failed to parse reused code", storage.ErrRedeemed)
		}
		return fromAuthorizationCodeJSON(&j), storage.ErrRedeemed
	}

	var j authorizationCodeJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to parse authorization code: %w", err)
	}

	s.logger.Debug("Marked authorization code as redeemed",
		"code_prefix", safeTruncate(code, tokenIDLogLength))

	rec := fromAuthorizationCodeJSON(&j)
	rec.Redeemed = true
	return rec, nil
}

// DeleteCode removes an authorization code.
func (s *Store) DeleteCode(ctx context.Context, code string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.codeKey(code)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	return nil
}
