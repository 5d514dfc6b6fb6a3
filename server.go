package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/authkit/oauthengine/instrumentation"
	"github.com/authkit/oauthengine/security"
	"github.com/authkit/oauthengine/storage"
)

// Alias tables mapping alternate module names to their canonical keys.
// The registration tables are keyed by canonical name only; aliases are
// resolved before lookup and can never rebind to a different module.
var (
	responseTypeAliases = map[string]string{
		"implicit":           "token",
		"authorization_code": "code",
	}
	grantTypeAliases = map[string]string{
		"code": "authorization_code",
	}
)

func canonicalResponseType(responseType string) string {
	if canonical, ok := responseTypeAliases[responseType]; ok {
		return canonical
	}
	return responseType
}

func canonicalGrantType(grantType string) string {
	if canonical, ok := grantTypeAliases[grantType]; ok {
		return canonical
	}
	return grantType
}

// Server is the protocol engine façade. It binds the identity registry, the
// grant and exchange pipelines, and the stores, and exposes the authorize,
// decision, and token entry points. Registration happens at startup; the
// registries are read-only under traffic.
type Server struct {
	identity  *IdentityRegistry
	grants    map[string]Grant
	exchanges map[string]Exchange

	clients      storage.ClientStore
	transactions storage.TransactionStore

	limiter *security.RateLimiter
	auditor *security.Auditor
	instr   *instrumentation.Instrumentation
	metrics *instrumentation.Metrics
	tracer  trace.Tracer

	logger *slog.Logger
	config ServerConfig
}

// NewServer creates a protocol engine over the given stores. Secure
// defaults are applied to unset config fields.
func NewServer(clients storage.ClientStore, transactions storage.TransactionStore, config *ServerConfig, instr *instrumentation.Instrumentation) (*Server, error) {
	if clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if transactions == nil {
		return nil, fmt.Errorf("transaction store is required")
	}
	if config == nil {
		config = &ServerConfig{}
	}
	config.applySecureDefaults()

	if instr == nil {
		var err error
		instr, err = instrumentation.New(instrumentation.Config{Enabled: false})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
		}
	}

	s := &Server{
		identity:     NewIdentityRegistry(),
		grants:       make(map[string]Grant),
		exchanges:    make(map[string]Exchange),
		clients:      clients,
		transactions: transactions,
		auditor:      security.NewAuditor(config.Logger, config.EnableAuditLogging),
		instr:        instr,
		metrics:      instr.Metrics(),
		tracer:       instr.Tracer("server"),
		logger:       config.Logger,
		config:       *config,
	}

	if config.RateLimit.Rate > 0 {
		s.limiter = security.NewRateLimiter(config.RateLimit.Rate, config.RateLimit.Burst, config.Logger)
	}

	return s, nil
}

// Identity returns the identity registry for strategy registration.
func (s *Server) Identity() *IdentityRegistry {
	return s.identity
}

// RegisterGrant registers a grant module under each of its response types.
// Aliases resolve to canonical names first; binding an already-bound name
// to a different module is a configuration error.
func (s *Server) RegisterGrant(g Grant) error {
	if g == nil {
		return NewConfigError("grant module must not be nil")
	}
	types := g.ResponseTypes()
	if len(types) == 0 {
		return NewConfigError("grant module declares no response types")
	}
	for _, rt := range types {
		key := canonicalResponseType(rt)
		if existing, ok := s.grants[key]; ok && existing != g {
			return NewConfigError("response type %q is already bound to a different grant module", key)
		}
		s.grants[key] = g
	}
	return nil
}

// RegisterExchange registers an exchange module under each of its grant
// types, with the same alias and rebinding rules as RegisterGrant.
func (s *Server) RegisterExchange(e Exchange) error {
	if e == nil {
		return NewConfigError("exchange module must not be nil")
	}
	types := e.GrantTypes()
	if len(types) == 0 {
		return NewConfigError("exchange module declares no grant types")
	}
	for _, gt := range types {
		key := canonicalGrantType(gt)
		if existing, ok := s.exchanges[key]; ok && existing != e {
			return NewConfigError("grant type %q is already bound to a different exchange module", key)
		}
		s.exchanges[key] = e
	}
	return nil
}

// Close releases server-owned resources.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// Authorize validates an authorization request, creates a pending
// transaction, and returns the rendering context for the consent UI.
// Failures before the redirect URI is validated are direct errors.
func (s *Server) Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizePage, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "oauth.authorize")
	defer span.End()

	responseType := ""
	if req != nil {
		responseType = req.ResponseType
	}

	page, err := s.authorize(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	if err != nil {
		instrumentation.RecordError(span, err)
		s.metrics.RecordAuthorize(ctx, responseType, errorResult(err), durationMs)
		return nil, err
	}
	instrumentation.SetSpanSuccess(span)
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, page.Client.ID),
		attribute.String(instrumentation.AttrResponseType, responseType),
	)
	s.metrics.RecordAuthorize(ctx, responseType, "success", durationMs)
	return page, nil
}

func (s *Server) authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizePage, error) {
	if req == nil || req.ResponseType == "" {
		return nil, NewAuthorizationError(ErrorCodeInvalidRequest, "response_type is required", http.StatusBadRequest)
	}

	g, ok := s.grants[canonicalResponseType(req.ResponseType)]
	if !ok {
		// No module claims this response type; no redirect is trusted yet.
		return nil, NewAuthorizationError(ErrorCodeUnsupportedResponseType,
			fmt.Sprintf("response type %q is not supported", req.ResponseType), http.StatusBadRequest)
	}

	validated, client, err := s.grantRequest(ctx, g, req)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, NewServerError(fmt.Errorf("grant module %q returned no client", req.ResponseType))
	}

	if redirErr := s.validateScopes(validated.Scopes, validated.RedirectURI, validated.State, validated.ResponseType); redirErr != nil {
		return nil, redirErr
	}

	serialized, err := s.identity.SerializeClient(ctx, client)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		return nil, NewServerError(fmt.Errorf("failed to serialize client: %w", err))
	}

	now := time.Now()
	tx := &storage.Transaction{
		ID:               security.NewTransactionID(),
		SerializedClient: serialized,
		ClientID:         client.ID,
		Request:          validated,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.config.TransactionTTL),
	}
	if err := s.transactions.Save(ctx, tx); err != nil {
		return nil, NewServerError(fmt.Errorf("failed to save transaction: %w", err))
	}

	s.auditor.LogTransactionCreated(client.ID, validated.ResponseType, strings.Join(validated.Scopes, " "))
	s.metrics.RecordTransactionCreated(ctx, validated.ResponseType)
	s.logger.Debug("Authorization transaction created",
		"transaction_id", tx.ID,
		"client_id", client.ID,
		"response_type", validated.ResponseType)

	return &AuthorizePage{
		TransactionID: tx.ID,
		Client:        client,
		Scopes:        validated.Scopes,
		Request:       validated,
	}, nil
}

// grantRequest invokes a grant module's request phase with panic recovery
// at the pipeline boundary.
func (s *Server) grantRequest(ctx context.Context, g Grant, req *AuthorizeRequest) (validated *storage.AuthorizationRequest, client *storage.Client, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			validated = nil
			client = nil
			err = NewServerError(fmt.Errorf("grant request phase fault: %v", rec))
		}
	}()
	return g.Request(ctx, req)
}

// Decision resolves a pending transaction with the resource owner's answer.
// The transaction is consumed exactly once, before the grant is issued, so
// a duplicate or replayed decision finds no transaction.
func (s *Server) Decision(ctx context.Context, decision *Decision) (*Redirect, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "oauth.decision")
	defer span.End()

	redirect, err := s.decide(ctx, decision)

	durationMs := float64(time.Since(start).Milliseconds())
	allowed := decision != nil && decision.Allow
	if err != nil {
		instrumentation.RecordError(span, err)
		s.metrics.RecordDecision(ctx, allowed, errorResult(err), durationMs)
		return nil, err
	}
	instrumentation.SetSpanSuccess(span)
	instrumentation.SetSpanAttributes(span,
		attribute.Bool(instrumentation.AttrAllowed, allowed))
	s.metrics.RecordDecision(ctx, allowed, "success", durationMs)
	return redirect, nil
}

func (s *Server) decide(ctx context.Context, decision *Decision) (*Redirect, error) {
	if decision == nil || decision.TransactionID == "" {
		return nil, NewAuthorizationError(ErrorCodeInvalidRequest, "transaction ID is required", http.StatusBadRequest)
	}

	tx, err := s.transactions.Consume(ctx, decision.TransactionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrExpired) {
			return nil, &TransactionError{TransactionID: decision.TransactionID, Err: err}
		}
		return nil, NewServerError(fmt.Errorf("failed to consume transaction: %w", err))
	}

	principal, err := s.identity.DeserializeClient(ctx, tx.SerializedClient)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		return nil, NewServerError(fmt.Errorf("failed to deserialize client: %w", err))
	}
	if principal == nil {
		// Decisive invalid result from a deserializer: the client is no
		// longer valid. An authentication failure, not a system error.
		s.auditor.LogAuthFailure(decision.UserID, tx.ClientID, "client no longer valid")
		return nil, NewAuthorizationError(ErrorCodeInvalidClient, "client is no longer valid", http.StatusUnauthorized)
	}

	g, ok := s.grants[canonicalResponseType(tx.Request.ResponseType)]
	if !ok {
		return nil, NewServerError(fmt.Errorf("no grant module for response type %q", tx.Request.ResponseType))
	}

	tx.UserID = decision.UserID
	redirect, err := s.grantRespond(ctx, g, tx, decision)
	if err != nil {
		// The transaction is already gone. A redirectable protocol error
		// can still be delivered; anything else is unrecoverable, and must
		// not be mistaken for a stale transaction on retry.
		var authErr *AuthorizationError
		if errors.As(err, &authErr) && authErr.Redirectable {
			return errorRedirect(authErr)
		}
		return nil, NewUnrecoverableError(err)
	}

	if decision.Allow {
		s.auditor.LogGrantIssued(decision.UserID, tx.ClientID, tx.Request.ResponseType)
		s.metrics.RecordGrantIssued(ctx, tx.Request.ResponseType)
	} else {
		s.auditor.LogGrantDenied(decision.UserID, tx.ClientID)
		s.metrics.RecordGrantDenied(ctx, tx.Request.ResponseType)
	}
	return redirect, nil
}

func (s *Server) grantRespond(ctx context.Context, g Grant, tx *storage.Transaction, decision *Decision) (redirect *Redirect, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			redirect = nil
			err = fmt.Errorf("grant response phase fault: %v", rec)
		}
	}()
	return g.Respond(ctx, tx, decision)
}

// Token authenticates the requesting client and dispatches to the exchange
// module for the request's grant type. All failures are direct errors.
func (s *Server) Token(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "oauth.token")
	defer span.End()

	grantType := ""
	if req != nil {
		grantType = req.GrantType
	}

	resp, err := s.token(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	if err != nil {
		instrumentation.RecordError(span, err)
		s.metrics.RecordToken(ctx, grantType, errorResult(err), durationMs)
		var tokenErr *TokenError
		if errors.As(err, &tokenErr) {
			s.metrics.RecordExchangeFailed(ctx, grantType, tokenErr.Code)
		}
		return nil, err
	}
	instrumentation.SetSpanSuccess(span)
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrGrantType, grantType))
	s.metrics.RecordToken(ctx, grantType, "success", durationMs)
	return resp, nil
}

func (s *Server) token(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	if req == nil {
		return nil, NewTokenError(ErrorCodeInvalidRequest, "request is required", http.StatusBadRequest)
	}

	if s.limiter != nil && req.ClientID != "" && !s.limiter.Allow(req.ClientID) {
		s.auditor.LogRateLimitExceeded(req.ClientID)
		s.metrics.RecordRateLimitExceeded(ctx, "client")
		return nil, &TokenError{OAuthError: ErrRateLimitExceeded("too many token requests")}
	}

	client, err := s.authenticateClient(ctx, req)
	if err != nil {
		return nil, err
	}
	req.Client = client

	if req.GrantType == "" {
		return nil, NewTokenError(ErrorCodeInvalidRequest, "grant_type is required", http.StatusBadRequest)
	}
	ex, ok := s.exchanges[canonicalGrantType(req.GrantType)]
	if !ok {
		return nil, NewTokenError(ErrorCodeUnsupportedGrantType,
			fmt.Sprintf("grant type %q is not supported", req.GrantType), http.StatusBadRequest)
	}

	if !client.AllowsGrantType(canonicalGrantType(req.GrantType)) {
		return nil, NewTokenError(ErrorCodeUnauthorizedClient,
			"client is not authorized for this grant type", http.StatusBadRequest)
	}

	if invalid := s.invalidScopes(req.Scopes); len(invalid) > 0 {
		return nil, NewTokenError(ErrorCodeInvalidScope,
			fmt.Sprintf("unsupported scopes: %s", strings.Join(invalid, " ")), http.StatusBadRequest)
	}

	resp, err := s.exchangeToken(ctx, ex, req)
	if err != nil {
		var tokenErr *TokenError
		if errors.As(err, &tokenErr) {
			return nil, err
		}
		return nil, NewServerError(fmt.Errorf("exchange failed: %w", err))
	}

	s.auditor.LogTokenIssued(req.Username, client.ID, req.GrantType, resp.Scope)
	s.metrics.RecordTokenIssued(ctx, req.GrantType)
	return resp, nil
}

func (s *Server) exchangeToken(ctx context.Context, ex Exchange, req *TokenRequest) (resp *TokenResponse, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			resp = nil
			err = fmt.Errorf("exchange fault: %v", rec)
		}
	}()
	return ex.Token(ctx, req)
}

// authenticateClient resolves the client and verifies its credentials.
// Confidential clients must present their secret; public clients must not
// present one.
func (s *Server) authenticateClient(ctx context.Context, req *TokenRequest) (*storage.Client, error) {
	if req.ClientID == "" {
		return nil, NewTokenError(ErrorCodeInvalidClient, "client_id is required", http.StatusUnauthorized)
	}

	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.auditor.LogAuthFailure("", req.ClientID, "unknown client")
			return nil, NewTokenError(ErrorCodeInvalidClient, "client authentication failed", http.StatusUnauthorized)
		}
		return nil, NewServerError(fmt.Errorf("failed to load client: %w", err))
	}

	if client.Confidential() {
		if err := security.VerifyClientSecret(client.SecretHash, req.ClientSecret); err != nil {
			s.auditor.LogAuthFailure("", req.ClientID, "bad client secret")
			return nil, NewTokenError(ErrorCodeInvalidClient, "client authentication failed", http.StatusUnauthorized)
		}
	} else if req.ClientSecret != "" {
		s.auditor.LogAuthFailure("", req.ClientID, "secret presented by public client")
		return nil, NewTokenError(ErrorCodeInvalidClient, "client authentication failed", http.StatusUnauthorized)
	}

	return client, nil
}

// validateScopes checks requested scopes against the configured supported
// set. The redirect URI is trusted by the time this runs, so violations are
// delivered as error redirects.
func (s *Server) validateScopes(scopes []string, redirectURI, state, responseType string) *AuthorizationError {
	invalid := s.invalidScopes(scopes)
	if len(invalid) == 0 {
		return nil
	}
	authErr := NewRedirectableError(ErrorCodeInvalidScope,
		fmt.Sprintf("unsupported scopes: %s", strings.Join(invalid, " ")), redirectURI, state)
	authErr.Fragment = canonicalResponseType(responseType) == "token"
	return authErr
}

// invalidScopes returns the requested scopes not present in SupportedScopes.
// An empty SupportedScopes list accepts everything.
func (s *Server) invalidScopes(scopes []string) []string {
	if len(s.config.SupportedScopes) == 0 {
		return nil
	}
	supported := make(map[string]bool, len(s.config.SupportedScopes))
	for _, scope := range s.config.SupportedScopes {
		supported[scope] = true
	}
	var invalid []string
	for _, scope := range scopes {
		if !supported[scope] {
			invalid = append(invalid, scope)
		}
	}
	return invalid
}

// errorRedirect converts a redirectable authorization error into the
// standard error redirect.
func errorRedirect(authErr *AuthorizationError) (*Redirect, error) {
	params := map[string]string{
		"error": authErr.Code,
		"state": authErr.State,
	}
	if authErr.Description != "" {
		params["error_description"] = authErr.Description
	}
	rawURL, err := BuildRedirectURL(authErr.RedirectURI, params, authErr.Fragment)
	if err != nil {
		return nil, NewServerError(fmt.Errorf("failed to build error redirect: %w", err))
	}
	return &Redirect{URL: rawURL}, nil
}

// RedirectForError converts a redirectable authorization error into its
// error redirect. It returns false when the error must be reported directly
// because no redirect target is trusted.
func RedirectForError(err error) (*Redirect, bool) {
	var authErr *AuthorizationError
	if !errors.As(err, &authErr) || !authErr.Redirectable {
		return nil, false
	}
	redirect, buildErr := errorRedirect(authErr)
	if buildErr != nil {
		return nil, false
	}
	return redirect, true
}

// errorResult maps an error to a stable metric label.
func errorResult(err error) string {
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		return oauthErr.Code
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return "config_error"
	}
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		return "transaction_error"
	}
	var srvErr *ServerError
	if errors.As(err, &srvErr) {
		return srvErr.Code
	}
	return "error"
}
