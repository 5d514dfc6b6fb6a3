package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestOAuthError_Error(t *testing.T) {
	tests := []struct {
		name        string
		code        string
		description string
		want        string
	}{
		{
			name:        "simple error",
			code:        "invalid_request",
			description: "Missing required parameter",
			want:        "invalid_request: Missing required parameter",
		},
		{
			name:        "error with empty description",
			code:        "server_error",
			description: "",
			want:        "server_error: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &OAuthError{
				Code:        tt.code,
				Description: tt.description,
			}
			if got := e.Error(); got != tt.want {
				t.Errorf("OAuthError.Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorConstants(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		expected string
	}{
		{"invalid_request", ErrorCodeInvalidRequest, "invalid_request"},
		{"invalid_grant", ErrorCodeInvalidGrant, "invalid_grant"},
		{"invalid_client", ErrorCodeInvalidClient, "invalid_client"},
		{"invalid_scope", ErrorCodeInvalidScope, "invalid_scope"},
		{"unauthorized_client", ErrorCodeUnauthorizedClient, "unauthorized_client"},
		{"unsupported_grant_type", ErrorCodeUnsupportedGrantType, "unsupported_grant_type"},
		{"unsupported_response_type", ErrorCodeUnsupportedResponseType, "unsupported_response_type"},
		{"server_error", ErrorCodeServerError, "server_error"},
		{"access_denied", ErrorCodeAccessDenied, "access_denied"},
		{"invalid_redirect_uri", ErrorCodeInvalidRedirectURI, "invalid_redirect_uri"},
		{"rate_limit_exceeded", ErrorCodeRateLimitExceeded, "rate_limit_exceeded"},
		{"grant_unrecoverable", ErrorCodeGrantUnrecoverable, "grant_unrecoverable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code != tt.expected {
				t.Errorf("constant %s = %q, want %q", tt.name, tt.code, tt.expected)
			}
		})
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name           string
		constructor    func(string) *OAuthError
		expectedCode   string
		expectedStatus int
	}{
		{
			name:           "ErrInvalidRequest",
			constructor:    ErrInvalidRequest,
			expectedCode:   ErrorCodeInvalidRequest,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "ErrInvalidGrant",
			constructor:    ErrInvalidGrant,
			expectedCode:   ErrorCodeInvalidGrant,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "ErrInvalidClient",
			constructor:    ErrInvalidClient,
			expectedCode:   ErrorCodeInvalidClient,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "ErrInvalidScope",
			constructor:    ErrInvalidScope,
			expectedCode:   ErrorCodeInvalidScope,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "ErrUnauthorizedClient",
			constructor:    ErrUnauthorizedClient,
			expectedCode:   ErrorCodeUnauthorizedClient,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "ErrUnsupportedGrantType",
			constructor:    ErrUnsupportedGrantType,
			expectedCode:   ErrorCodeUnsupportedGrantType,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "ErrUnsupportedResponseType",
			constructor:    ErrUnsupportedResponseType,
			expectedCode:   ErrorCodeUnsupportedResponseType,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "ErrAccessDenied",
			constructor:    ErrAccessDenied,
			expectedCode:   ErrorCodeAccessDenied,
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "ErrInvalidRedirectURI",
			constructor:    ErrInvalidRedirectURI,
			expectedCode:   ErrorCodeInvalidRedirectURI,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "ErrRateLimitExceeded",
			constructor:    ErrRateLimitExceeded,
			expectedCode:   ErrorCodeRateLimitExceeded,
			expectedStatus: http.StatusTooManyRequests,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := "test description"
			err := tt.constructor(desc)
			if err.Code != tt.expectedCode {
				t.Errorf("Code = %q, want %q", err.Code, tt.expectedCode)
			}
			if err.Description != desc {
				t.Errorf("Description = %q, want %q", err.Description, desc)
			}
			if err.Status != tt.expectedStatus {
				t.Errorf("Status = %d, want %d", err.Status, tt.expectedStatus)
			}
		})
	}
}

func TestAuthorizationErrorRedirectability(t *testing.T) {
	direct := NewAuthorizationError(ErrorCodeInvalidRedirectURI, "not registered", http.StatusBadRequest)
	if direct.Redirectable {
		t.Error("direct error must not be redirectable")
	}

	redirectable := NewRedirectableError(ErrorCodeInvalidScope, "bad scope", "https://cb.example.com", "xyz")
	if !redirectable.Redirectable {
		t.Error("expected redirectable error")
	}
	if redirectable.RedirectURI != "https://cb.example.com" || redirectable.State != "xyz" {
		t.Errorf("redirect target not preserved: %+v", redirectable)
	}

	// errors.As reaches the embedded OAuthError through Unwrap.
	var oauthErr *OAuthError
	if !errors.As(error(redirectable), &oauthErr) {
		t.Fatal("errors.As should find the underlying OAuthError")
	}
	if oauthErr.Code != ErrorCodeInvalidScope {
		t.Errorf("Code = %q, want invalid_scope", oauthErr.Code)
	}
}

func TestTokenErrorUnwrap(t *testing.T) {
	tokenErr := NewTokenError(ErrorCodeInvalidGrant, "expired", http.StatusBadRequest)

	var oauthErr *OAuthError
	if !errors.As(error(tokenErr), &oauthErr) {
		t.Fatal("errors.As should find the underlying OAuthError")
	}
	if oauthErr.Status != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", oauthErr.Status)
	}
}

func TestServerErrorCodes(t *testing.T) {
	cause := fmt.Errorf("store unavailable")

	generic := NewServerError(cause)
	if generic.Code != ErrorCodeServerError {
		t.Errorf("Code = %q, want server_error", generic.Code)
	}
	if !errors.Is(generic, cause) {
		t.Error("ServerError should unwrap to its cause")
	}

	unrecoverable := NewUnrecoverableError(cause)
	if unrecoverable.Code != ErrorCodeGrantUnrecoverable {
		t.Errorf("Code = %q, want grant_unrecoverable", unrecoverable.Code)
	}
}

func TestTransactionError(t *testing.T) {
	cause := fmt.Errorf("gone")
	txErr := &TransactionError{TransactionID: "tx-1", Err: cause}
	if txErr.Error() == "" {
		t.Error("expected an error message")
	}
	if !errors.Is(txErr, cause) {
		t.Error("TransactionError should unwrap to its cause")
	}
}
