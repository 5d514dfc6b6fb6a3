package security

import (
	"fmt"
	"log/slog"
	"testing"
	"time"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter(10, 20, nil)
	defer rl.Stop()

	if rl.rate != 10 {
		t.Errorf("rate = %d, want 10", rl.rate)
	}
	if rl.burst != 20 {
		t.Errorf("burst = %d, want 20", rl.burst)
	}
	if rl.logger == nil {
		t.Error("logger should not be nil")
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(10, 5, slog.Default())
	defer rl.Stop()

	clientID := "client-1"

	// Requests up to burst are allowed
	for i := 0; i < 5; i++ {
		if !rl.Allow(clientID) {
			t.Errorf("Allow() request %d should be allowed", i+1)
		}
	}

	if rl.Allow(clientID) {
		t.Error("Allow() should return false when rate limited")
	}
}

func TestRateLimiter_Allow_PerClient(t *testing.T) {
	rl := NewRateLimiter(10, 1, slog.Default())
	defer rl.Stop()

	if !rl.Allow("client-a") {
		t.Error("first request for client-a should be allowed")
	}
	if !rl.Allow("client-b") {
		t.Error("client-b has its own bucket and should be allowed")
	}
	if rl.Allow("client-a") {
		t.Error("client-a exceeded its burst")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, 5, slog.Default())
	defer rl.Stop()

	rl.Allow("stale-client")
	if rl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", rl.Len())
	}

	// Everything is idle relative to a zero max idle time
	rl.Cleanup(0)
	if rl.Len() != 0 {
		t.Errorf("Len() = %d after cleanup, want 0", rl.Len())
	}
}

func TestRateLimiter_Cleanup_KeepsActive(t *testing.T) {
	rl := NewRateLimiter(10, 5, slog.Default())
	defer rl.Stop()

	rl.Allow("active-client")
	rl.Cleanup(time.Hour)
	if rl.Len() != 1 {
		t.Errorf("Len() = %d, want 1: recently used entries must survive", rl.Len())
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiterWithConfig(10, 5, 3, slog.Default())
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("client-%d", i))
	}

	if rl.Len() != 3 {
		t.Errorf("Len() = %d, want 3 (capacity bound)", rl.Len())
	}
}
