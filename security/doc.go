// Package security provides security primitives for the OAuth protocol
// engine: random artifact generation, client secret verification, per-client
// rate limiting, expiry checks with clock-skew tolerance, and audit logging.
package security
