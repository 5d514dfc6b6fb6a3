package oauth

import (
	"fmt"
	"net/http"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeServerError             = "server_error"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeInvalidRedirectURI      = "invalid_redirect_uri"
	ErrorCodeRateLimitExceeded       = "rate_limit_exceeded"
	ErrorCodeGrantUnrecoverable      = "grant_unrecoverable"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common OAuth errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates the authorization code or refresh token is invalid or expired
	ErrInvalidGrant = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidScope indicates the requested scope is invalid or unsupported
	ErrInvalidScope = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidScope, desc, http.StatusBadRequest)
	}

	// ErrUnauthorizedClient indicates the client is not authorized for the requested grant type
	ErrUnauthorizedClient = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnauthorizedClient, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedResponseType indicates the response type is not supported
	ErrUnsupportedResponseType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedResponseType, desc, http.StatusBadRequest)
	}

	// ErrAccessDenied indicates the user or authorization server denied the request
	ErrAccessDenied = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeAccessDenied, desc, http.StatusForbidden)
	}

	// ErrInvalidRedirectURI indicates the redirect URI is invalid or not registered
	ErrInvalidRedirectURI = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRedirectURI, desc, http.StatusBadRequest)
	}

	// ErrRateLimitExceeded indicates the client exceeded the token endpoint rate limit
	ErrRateLimitExceeded = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeRateLimitExceeded, desc, http.StatusTooManyRequests)
	}
)

// AuthorizationError is an authorize-phase failure. Redirectable reports
// whether the error may be delivered to the client's redirect URI: it is
// false until the redirect URI has been validated, and such errors must be
// reported directly to the caller, never via redirect.
type AuthorizationError struct {
	*OAuthError

	Redirectable bool
	RedirectURI  string
	State        string

	// Fragment delivers the error in the URI fragment instead of the
	// query string (implicit flow).
	Fragment bool
}

// NewAuthorizationError creates a direct (non-redirectable) authorize error.
func NewAuthorizationError(code, description string, status int) *AuthorizationError {
	return &AuthorizationError{
		OAuthError: NewOAuthError(code, description, status),
	}
}

// NewRedirectableError creates an authorize error that is delivered to the
// already-validated redirect URI with standard error parameters.
func NewRedirectableError(code, description, redirectURI, state string) *AuthorizationError {
	return &AuthorizationError{
		OAuthError:   NewOAuthError(code, description, http.StatusFound),
		Redirectable: true,
		RedirectURI:  redirectURI,
		State:        state,
	}
}

// Unwrap exposes the underlying OAuthError for errors.As.
func (e *AuthorizationError) Unwrap() error {
	return e.OAuthError
}

// TokenError is an exchange-phase failure. It is always reported as a
// direct JSON body, never a redirect.
type TokenError struct {
	*OAuthError
}

// NewTokenError creates a token endpoint error.
func NewTokenError(code, description string, status int) *TokenError {
	return &TokenError{OAuthError: NewOAuthError(code, description, status)}
}

// Unwrap exposes the underlying OAuthError for errors.As.
func (e *TokenError) Unwrap() error {
	return e.OAuthError
}

// ConfigError indicates a missing or invalid registration. It is a
// programmer error, always fatal, never retried.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// NewConfigError creates a configuration error.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// TransactionError indicates the referenced transaction is unknown, expired,
// or already consumed. No redirect target can be trusted, so it is always a
// direct error.
type TransactionError struct {
	TransactionID string
	Err           error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %q not found or expired", e.TransactionID)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// ServerError wraps a collaborator failure. Code distinguishes the generic
// case ("server_error") from the unrecoverable post-consumption issuance
// failure ("grant_unrecoverable"), where the transaction is already gone and
// a retry would misleadingly report a stale transaction.
type ServerError struct {
	Code string
	Err  error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

// NewServerError wraps a collaborator failure as a generic server error.
func NewServerError(err error) *ServerError {
	return &ServerError{Code: ErrorCodeServerError, Err: err}
}

// NewUnrecoverableError marks an issuance failure that happened after the
// transaction was consumed.
func NewUnrecoverableError(err error) *ServerError {
	return &ServerError{Code: ErrorCodeGrantUnrecoverable, Err: err}
}
