// Package instrumentation provides OpenTelemetry metrics and tracing for the
// OAuth protocol engine. When disabled, no-op providers are used so that the
// instrumentation layer adds zero overhead.
package instrumentation
