package fabric

import "time"

const (
	// DefaultReconnectBase is the delay before the first reconnect.
	DefaultReconnectBase = 5 * time.Second
	// DefaultMaxReconnectAttempts caps consecutive reconnects.
	DefaultMaxReconnectAttempts = 5
)

// Backoff is the reconnect policy: after attempt n (counting from zero) the
// connector waits Base * 2^n, for at most MaxAttempts attempts.
type Backoff struct {
	Base        time.Duration
	MaxAttempts int
}

// DefaultBackoff returns the standard reconnect policy.
func DefaultBackoff() Backoff {
	return Backoff{Base: DefaultReconnectBase, MaxAttempts: DefaultMaxReconnectAttempts}
}

// Delay returns the wait before reconnect attempt n and whether that attempt
// is allowed at all.
func (b Backoff) Delay(attempt int) (time.Duration, bool) {
	if attempt < 0 || attempt >= b.MaxAttempts {
		return 0, false
	}

	return b.Base << attempt, true
}
