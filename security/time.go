package security

import "time"

const (
	// DefaultClockSkewGracePeriod is the default grace period for expiry
	// checks. It prevents false expiration errors caused by time
	// synchronization drift between cooperating systems.
	DefaultClockSkewGracePeriod = 5 * time.Second
)

// IsExpired checks whether an artifact is expired with the default clock
// skew grace period. A zero expiry means no expiration.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod checks expiry with a custom grace period.
// The artifact only counts as expired once it has been expired for longer
// than the grace period.
func IsExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}
