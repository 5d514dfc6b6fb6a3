package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// Auditor handles security event logging with PII protection.
// Event identifiers are ULIDs, so audit records sort by emission time.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_id", ulid.MustNew(ulid.Timestamp(event.Timestamp), rand.Reader).String(),
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTransactionCreated logs the creation of an authorization transaction
func (a *Auditor) LogTransactionCreated(clientID, responseType, scope string) {
	a.LogEvent(Event{
		Type:     "transaction_created",
		ClientID: clientID,
		Details: map[string]any{
			"response_type": responseType,
			"scope":         scope,
		},
	})
}

// LogGrantIssued logs a grant issued after resource-owner approval
func (a *Auditor) LogGrantIssued(userID, clientID, responseType string) {
	a.LogEvent(Event{
		Type:     "grant_issued",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"response_type": responseType,
		},
	})
}

// LogGrantDenied logs a resource-owner denial
func (a *Auditor) LogGrantDenied(userID, clientID string) {
	a.LogEvent(Event{
		Type:     "grant_denied",
		UserID:   userID,
		ClientID: clientID,
	})
}

// LogTokenIssued logs when an access token is issued
func (a *Auditor) LogTokenIssued(userID, clientID, grantType, scope string) {
	a.LogEvent(Event{
		Type:     "token_issued",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"grant_type": grantType,
			"scope":      scope,
		},
	})
}

// LogCodeReuse logs an authorization code reuse attempt (token theft indicator)
func (a *Auditor) LogCodeReuse(userID, clientID string) {
	a.LogEvent(Event{
		Type:     "authorization_code_reuse_detected",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"severity": "critical",
			"action":   "tokens_revoked",
		},
	})
}

// LogTokenReuse logs a rotated refresh token reuse attempt
func (a *Auditor) LogTokenReuse(userID, clientID, familyID string) {
	a.LogEvent(Event{
		Type:     "refresh_token_reuse_detected",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"severity":  "critical",
			"family_id": familyID,
		},
	})
}

// LogAuthFailure logs an authentication or authorization failure
func (a *Auditor) LogAuthFailure(userID, clientID, reason string) {
	a.LogEvent(Event{
		Type:     "auth_failure",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(clientID string) {
	a.LogEvent(Event{
		Type:     "rate_limit_exceeded",
		ClientID: clientID,
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
