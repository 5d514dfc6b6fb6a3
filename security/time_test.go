package security

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{
			name:      "zero time never expires",
			expiresAt: time.Time{},
			want:      false,
		},
		{
			name:      "future expiry",
			expiresAt: time.Now().Add(time.Hour),
			want:      false,
		},
		{
			name:      "just expired but within grace period",
			expiresAt: time.Now().Add(-time.Second),
			want:      false,
		},
		{
			name:      "expired beyond grace period",
			expiresAt: time.Now().Add(-DefaultClockSkewGracePeriod - time.Second),
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(tt.expiresAt); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsExpiredWithGracePeriod(t *testing.T) {
	expiresAt := time.Now().Add(-30 * time.Second)

	if IsExpiredWithGracePeriod(expiresAt, time.Minute) {
		t.Error("should not be expired with a one minute grace period")
	}
	if !IsExpiredWithGracePeriod(expiresAt, time.Second) {
		t.Error("should be expired with a one second grace period")
	}
	if !IsExpiredWithGracePeriod(expiresAt, 0) {
		t.Error("should be expired with no grace period")
	}
}
