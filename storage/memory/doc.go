// Package memory provides an in-memory implementation of the storage interfaces.
//
// This package implements ClientStore, TransactionStore, CodeStore, TokenStore,
// and TokenRevocationStore using Go's built-in maps with mutex protection for
// thread safety. It is suitable for development, testing, and single-instance
// deployments where persistence is not required.
//
// Features:
//   - Thread-safe operations using sync.RWMutex
//   - Atomic consume operations for transactions, codes, and refresh tokens
//   - Automatic sweeping of expired records at a configurable interval
//   - OpenTelemetry spans and metrics via SetInstrumentation
//
// For production deployments requiring persistence or multi-instance
// deployments, use the storage/valkey package instead.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	server, _ := oauth.NewServer(store, store, config, nil)
package memory
