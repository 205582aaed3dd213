// Package lifecycle holds the pure token-lifecycle policy: deciding when a
// session credential counts as expired and when it should be refreshed ahead
// of need. The functions here never fail and perform no I/O.
package lifecycle

import "time"

const (
	// BufferWindow guards against a credential expiring underneath an
	// in-flight request: a credential within this window of its expiry is
	// already treated as expired.
	BufferWindow = 5 * time.Minute

	// ProactiveWindow is how far ahead of expiry the request client starts
	// refreshing opportunistically.
	ProactiveWindow = time.Hour
)

// IsExpired reports whether a credential expiring at expiresAt is unusable
// at the given instant, applying the buffer window.
func IsExpired(expiresAt, now time.Time) bool {
	return !now.Add(BufferWindow).Before(expiresAt)
}

// NeedsRefresh reports whether a credential expiring at expiresAt should be
// refreshed proactively using the given window. At exactly window remaining
// the answer is false; only strictly less time remaining triggers a refresh.
func NeedsRefresh(expiresAt, now time.Time, window time.Duration) bool {
	return expiresAt.Before(now.Add(window))
}

// NeedsRefreshDefault applies NeedsRefresh with the default proactive window.
func NeedsRefreshDefault(expiresAt, now time.Time) bool {
	return NeedsRefresh(expiresAt, now, ProactiveWindow)
}
