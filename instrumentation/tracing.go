package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span and metric attribute keys.
//
// SECURITY WARNING: Never log actual sensitive values (access tokens, refresh
// tokens, authorization codes, client secrets) in traces or metrics. Only log
// metadata such as token types, expiry times, and validation results.
const (
	AttrClientID     = "oauth.client_id"     // Client identifier (non-secret)
	AttrUserID       = "oauth.user_id"       // User identifier (non-secret)
	AttrScope        = "oauth.scope"         // Requested scopes
	AttrGrantType    = "oauth.grant_type"    // OAuth grant type
	AttrResponseType = "oauth.response_type" // OAuth response type
	AttrClientType   = "oauth.client_type"   // Client type (public/confidential)
	AttrRedirectURI  = "oauth.redirect_uri"  // Redirect URI
	AttrEndpoint     = "oauth.endpoint"      // Engine entry point (authorize/decision/token)
	AttrResult       = "oauth.result"        // Outcome (success/error code)
	AttrAllowed      = "oauth.allowed"       // Resource-owner decision (boolean)
	AttrError        = "oauth.error"         // OAuth error code
	AttrPKCEMethod   = "oauth.pkce.method"   // PKCE method used (S256, plain)

	AttrTransactionPresent = "oauth.transaction_present" // Whether a transaction resolved (boolean)

	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	AttrRateLimiterType = "security.rate_limiter.type"
	AttrAuditEventType  = "security.audit.event_type"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
}

// AddFlowAttributes adds common OAuth flow attributes to a span
func AddFlowAttributes(span trace.Span, clientID, userID, scope string) {
	if span == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, 3)
	if clientID != "" {
		attrs = append(attrs, attribute.String(AttrClientID, clientID))
	}
	if userID != "" {
		attrs = append(attrs, attribute.String(AttrUserID, userID))
	}
	if scope != "" {
		attrs = append(attrs, attribute.String(AttrScope, scope))
	}
	span.SetAttributes(attrs...)
}
