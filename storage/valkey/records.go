package valkey

import (
	"time"

	"github.com/authkit/oauthengine/storage"
)

// JSON representations of storage records. Timestamps are Unix seconds so
// the records stay readable in valkey-cli and comparable inside Lua.

type transactionJSON struct {
	ID               string                `json:"id"`
	SerializedClient string                `json:"serialized_client"`
	ClientID         string                `json:"client_id"`
	Request          *authorizeRequestJSON `json:"request,omitempty"`
	UserID           string                `json:"user_id,omitempty"`
	CreatedAt        int64                 `json:"created_at"`
	ExpiresAt        int64                 `json:"expires_at"`
}

type authorizeRequestJSON struct {
	ResponseType        string            `json:"response_type"`
	ClientID            string            `json:"client_id"`
	RedirectURI         string            `json:"redirect_uri,omitempty"`
	Scopes              []string          `json:"scopes,omitempty"`
	State               string            `json:"state,omitempty"`
	CodeChallenge       string            `json:"code_challenge,omitempty"`
	CodeChallengeMethod string            `json:"code_challenge_method,omitempty"`
	Extra               map[string]string `json:"extra,omitempty"`
}

type authorizationCodeJSON struct {
	Code                string   `json:"code"`
	ClientID            string   `json:"client_id"`
	UserID              string   `json:"user_id"`
	RedirectURI         string   `json:"redirect_uri,omitempty"`
	Scopes              []string `json:"scopes,omitempty"`
	CodeChallenge       string   `json:"code_challenge,omitempty"`
	CodeChallengeMethod string   `json:"code_challenge_method,omitempty"`
	CreatedAt           int64    `json:"created_at"`
	ExpiresAt           int64    `json:"expires_at"`
	Redeemed            bool     `json:"redeemed"`
}

type accessTokenJSON struct {
	Token     string   `json:"token"`
	ClientID  string   `json:"client_id"`
	UserID    string   `json:"user_id,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	CreatedAt int64    `json:"created_at"`
	ExpiresAt int64    `json:"expires_at"`
}

type refreshTokenJSON struct {
	Token      string   `json:"token"`
	ClientID   string   `json:"client_id"`
	UserID     string   `json:"user_id,omitempty"`
	Scopes     []string `json:"scopes,omitempty"`
	FamilyID   string   `json:"family_id,omitempty"`
	Generation int      `json:"generation"`
	CreatedAt  int64    `json:"created_at"`
	ExpiresAt  int64    `json:"expires_at"`
}

func toTransactionJSON(tx *storage.Transaction) *transactionJSON {
	j := &transactionJSON{
		ID:               tx.ID,
		SerializedClient: tx.SerializedClient,
		ClientID:         tx.ClientID,
		UserID:           tx.UserID,
		CreatedAt:        tx.CreatedAt.Unix(),
		ExpiresAt:        tx.ExpiresAt.Unix(),
	}
	if tx.Request != nil {
		j.Request = &authorizeRequestJSON{
			ResponseType:        tx.Request.ResponseType,
			ClientID:            tx.Request.ClientID,
			RedirectURI:         tx.Request.RedirectURI,
			Scopes:              tx.Request.Scopes,
			State:               tx.Request.State,
			CodeChallenge:       tx.Request.CodeChallenge,
			CodeChallengeMethod: tx.Request.CodeChallengeMethod,
			Extra:               tx.Request.Extra,
		}
	}
	return j
}

func fromTransactionJSON(j *transactionJSON) *storage.Transaction {
	tx := &storage.Transaction{
		ID:               j.ID,
		SerializedClient: j.SerializedClient,
		ClientID:         j.ClientID,
		UserID:           j.UserID,
		CreatedAt:        time.Unix(j.CreatedAt, 0),
		ExpiresAt:        time.Unix(j.ExpiresAt, 0),
	}
	if j.Request != nil {
		tx.Request = &storage.AuthorizationRequest{
			ResponseType:        j.Request.ResponseType,
			ClientID:            j.Request.ClientID,
			RedirectURI:         j.Request.RedirectURI,
			Scopes:              j.Request.Scopes,
			State:               j.Request.State,
			CodeChallenge:       j.Request.CodeChallenge,
			CodeChallengeMethod: j.Request.CodeChallengeMethod,
			Extra:               j.Request.Extra,
		}
	}
	return tx
}

func toAuthorizationCodeJSON(code *storage.AuthorizationCode) *authorizationCodeJSON {
	return &authorizationCodeJSON{
		Code:                code.Code,
		ClientID:            code.ClientID,
		UserID:              code.UserID,
		RedirectURI:         code.RedirectURI,
		Scopes:              code.Scopes,
		CodeChallenge:       code.CodeChallenge,
		CodeChallengeMethod: code.CodeChallengeMethod,
		CreatedAt:           code.CreatedAt.Unix(),
		ExpiresAt:           code.ExpiresAt.Unix(),
		Redeemed:            code.Redeemed,
	}
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                j.Code,
		ClientID:            j.ClientID,
		UserID:              j.UserID,
		RedirectURI:         j.RedirectURI,
		Scopes:              j.Scopes,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		CreatedAt:           time.Unix(j.CreatedAt, 0),
		ExpiresAt:           time.Unix(j.ExpiresAt, 0),
		Redeemed:            j.Redeemed,
	}
}

func toAccessTokenJSON(t *storage.AccessToken) *accessTokenJSON {
	return &accessTokenJSON{
		Token:     t.Token,
		ClientID:  t.ClientID,
		UserID:    t.UserID,
		Scopes:    t.Scopes,
		CreatedAt: t.CreatedAt.Unix(),
		ExpiresAt: t.ExpiresAt.Unix(),
	}
}

func fromAccessTokenJSON(j *accessTokenJSON) *storage.AccessToken {
	return &storage.AccessToken{
		Token:     j.Token,
		ClientID:  j.ClientID,
		UserID:    j.UserID,
		Scopes:    j.Scopes,
		CreatedAt: time.Unix(j.CreatedAt, 0),
		ExpiresAt: time.Unix(j.ExpiresAt, 0),
	}
}

func toRefreshTokenJSON(t *storage.RefreshToken) *refreshTokenJSON {
	return &refreshTokenJSON{
		Token:      t.Token,
		ClientID:   t.ClientID,
		UserID:     t.UserID,
		Scopes:     t.Scopes,
		FamilyID:   t.FamilyID,
		Generation: t.Generation,
		CreatedAt:  t.CreatedAt.Unix(),
		ExpiresAt:  t.ExpiresAt.Unix(),
	}
}

func fromRefreshTokenJSON(j *refreshTokenJSON) *storage.RefreshToken {
	return &storage.RefreshToken{
		Token:      j.Token,
		ClientID:   j.ClientID,
		UserID:     j.UserID,
		Scopes:     j.Scopes,
		FamilyID:   j.FamilyID,
		Generation: j.Generation,
		CreatedAt:  time.Unix(j.CreatedAt, 0),
		ExpiresAt:  time.Unix(j.ExpiresAt, 0),
	}
}
