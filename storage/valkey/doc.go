// Package valkey provides a Valkey-backed implementation of the storage
// interfaces for multi-instance deployments.
//
// All records are stored as JSON with TTLs matching their expiry, so
// Valkey's own expiration acts as the sweep. The security-critical consume
// operations are atomic server-side: transactions and refresh tokens use
// GETDEL, authorization codes use a Lua check-and-mark script. This keeps
// the one-winner guarantees intact when several engine instances share one
// Valkey.
package valkey
