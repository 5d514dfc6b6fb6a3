package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the OAuth protocol engine
type Metrics struct {
	// Engine entry-point metrics
	AuthorizeRequests metric.Int64Counter
	DecisionRequests  metric.Int64Counter
	TokenRequests     metric.Int64Counter
	RequestDuration   metric.Float64Histogram

	// Grant pipeline metrics
	TransactionsCreated metric.Int64Counter
	GrantsIssued        metric.Int64Counter
	GrantsDenied        metric.Int64Counter

	// Exchange pipeline metrics
	TokensIssued    metric.Int64Counter
	ExchangesFailed metric.Int64Counter

	// Security metrics
	RateLimitExceeded  metric.Int64Counter
	CodeReuseDetected  metric.Int64Counter
	TokenReuseDetected metric.Int64Counter

	// Storage metrics
	StorageOperationTotal     metric.Int64Counter
	StorageOperationDuration  metric.Float64Histogram
	StorageTransactionsCount  metric.Int64ObservableGauge
	StorageCodesCount         metric.Int64ObservableGauge
	StorageAccessTokensCount  metric.Int64ObservableGauge
	StorageRefreshTokensCount metric.Int64ObservableGauge

	// Audit metrics
	AuditEventsTotal metric.Int64Counter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	serverMeter := inst.Meter("server")
	storageMeter := inst.Meter("storage")
	securityMeter := inst.Meter("security")

	var err error
	m.AuthorizeRequests, err = serverMeter.Int64Counter(
		"oauth.authorize.requests",
		metric.WithDescription("Number of authorize requests processed"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorize.requests counter: %w", err)
	}

	m.DecisionRequests, err = serverMeter.Int64Counter(
		"oauth.decision.requests",
		metric.WithDescription("Number of decision requests processed"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decision.requests counter: %w", err)
	}

	m.TokenRequests, err = serverMeter.Int64Counter(
		"oauth.token.requests",
		metric.WithDescription("Number of token requests processed"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.requests counter: %w", err)
	}

	m.RequestDuration, err = serverMeter.Float64Histogram(
		"oauth.request.duration",
		metric.WithDescription("Engine entry-point duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request.duration histogram: %w", err)
	}

	m.TransactionsCreated, err = serverMeter.Int64Counter(
		"oauth.transactions.created",
		metric.WithDescription("Number of authorization transactions created"),
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactions.created counter: %w", err)
	}

	m.GrantsIssued, err = serverMeter.Int64Counter(
		"oauth.grants.issued",
		metric.WithDescription("Number of grants issued after resource-owner approval"),
		metric.WithUnit("{grant}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grants.issued counter: %w", err)
	}

	m.GrantsDenied, err = serverMeter.Int64Counter(
		"oauth.grants.denied",
		metric.WithDescription("Number of grants denied by the resource owner"),
		metric.WithUnit("{grant}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grants.denied counter: %w", err)
	}

	m.TokensIssued, err = serverMeter.Int64Counter(
		"oauth.tokens.issued",
		metric.WithDescription("Number of access tokens issued by the exchange pipeline"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.issued counter: %w", err)
	}

	m.ExchangesFailed, err = serverMeter.Int64Counter(
		"oauth.exchanges.failed",
		metric.WithDescription("Number of failed token exchanges by error code"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create exchanges.failed counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"oauth.ratelimit.exceeded",
		metric.WithDescription("Number of requests rejected by rate limiting"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.exceeded counter: %w", err)
	}

	m.CodeReuseDetected, err = securityMeter.Int64Counter(
		"oauth.security.code_reuse_detected",
		metric.WithDescription("Number of authorization code reuse attempts detected"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code_reuse_detected counter: %w", err)
	}

	m.TokenReuseDetected, err = securityMeter.Int64Counter(
		"oauth.security.token_reuse_detected",
		metric.WithDescription("Number of refresh token reuse attempts detected"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_reuse_detected counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"oauth.storage.operations",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operations counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"oauth.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageTransactionsCount, err = storageMeter.Int64ObservableGauge(
		"oauth.storage.transactions",
		metric.WithDescription("Number of pending authorization transactions in storage"),
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.transactions gauge: %w", err)
	}

	m.StorageCodesCount, err = storageMeter.Int64ObservableGauge(
		"oauth.storage.codes",
		metric.WithDescription("Number of live authorization codes in storage"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.codes gauge: %w", err)
	}

	m.StorageAccessTokensCount, err = storageMeter.Int64ObservableGauge(
		"oauth.storage.access_tokens",
		metric.WithDescription("Number of access tokens in storage"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.access_tokens gauge: %w", err)
	}

	m.StorageRefreshTokensCount, err = storageMeter.Int64ObservableGauge(
		"oauth.storage.refresh_tokens",
		metric.WithDescription("Number of refresh tokens in storage"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.refresh_tokens gauge: %w", err)
	}

	m.AuditEventsTotal, err = securityMeter.Int64Counter(
		"oauth.audit.events",
		metric.WithDescription("Total number of security audit events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events counter: %w", err)
	}

	return m, nil
}

// RecordAuthorize records an authorize request with its outcome
func (m *Metrics) RecordAuthorize(ctx context.Context, responseType, result string, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String(AttrResponseType, responseType),
		attribute.String(AttrResult, result),
	)
	m.AuthorizeRequests.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String(AttrEndpoint, "authorize"),
		attribute.String(AttrResult, result),
	))
}

// RecordDecision records a decision request with its outcome
func (m *Metrics) RecordDecision(ctx context.Context, allowed bool, result string, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.Bool(AttrAllowed, allowed),
		attribute.String(AttrResult, result),
	)
	m.DecisionRequests.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String(AttrEndpoint, "decision"),
		attribute.String(AttrResult, result),
	))
}

// RecordToken records a token request with its outcome
func (m *Metrics) RecordToken(ctx context.Context, grantType, result string, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String(AttrGrantType, grantType),
		attribute.String(AttrResult, result),
	)
	m.TokenRequests.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String(AttrEndpoint, "token"),
		attribute.String(AttrResult, result),
	))
}

// RecordTransactionCreated records creation of an authorization transaction
func (m *Metrics) RecordTransactionCreated(ctx context.Context, responseType string) {
	m.TransactionsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrResponseType, responseType),
	))
}

// RecordGrantIssued records a grant issued after approval
func (m *Metrics) RecordGrantIssued(ctx context.Context, responseType string) {
	m.GrantsIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrResponseType, responseType),
	))
}

// RecordGrantDenied records a resource-owner denial
func (m *Metrics) RecordGrantDenied(ctx context.Context, responseType string) {
	m.GrantsDenied.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrResponseType, responseType),
	))
}

// RecordTokenIssued records a successful exchange
func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType string) {
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrGrantType, grantType),
	))
}

// RecordExchangeFailed records a failed exchange with its OAuth error code
func (m *Metrics) RecordExchangeFailed(ctx context.Context, grantType, errorCode string) {
	m.ExchangesFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrGrantType, grantType),
		attribute.String(AttrError, errorCode),
	))
}

// RecordRateLimitExceeded records a rate limit rejection
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrRateLimiterType, limiterType),
	))
}

// RecordCodeReuseDetected records an authorization code reuse attempt
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context) {
	m.CodeReuseDetected.Add(ctx, 1)
}

// RecordTokenReuseDetected records a refresh token reuse attempt
func (m *Metrics) RecordTokenReuseDetected(ctx context.Context) {
	m.TokenReuseDetected.Add(ctx, 1)
}

// RecordStorageOperation records a storage operation with count and duration
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageResult, result),
	)
	m.StorageOperationTotal.Add(ctx, 1, attrs)
	m.StorageOperationDuration.Record(ctx, durationMs, attrs)
}

// RecordAuditEvent records a security audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrAuditEventType, eventType),
	))
}
