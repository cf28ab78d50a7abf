package fabric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestBackoff_Growth doubles each delay and stops after the cap.
func TestBackoff_Growth(t *testing.T) {
	t.Parallel()

	b := Backoff{Base: 100 * time.Millisecond, MaxAttempts: 5}

	var previous time.Duration

	for attempt := range 5 {
		delay, ok := b.Delay(attempt)
		require.True(t, ok, attempt)

		if attempt > 0 {
			require.GreaterOrEqual(t, delay, 2*previous)
		}

		previous = delay
	}

	require.Equal(t, 1600*time.Millisecond, previous)

	_, ok := b.Delay(5)
	require.False(t, ok)

	_, ok = b.Delay(-1)
	require.False(t, ok)
}

// TestDefaultBackoff starts at five seconds with five attempts.
func TestDefaultBackoff(t *testing.T) {
	t.Parallel()

	delay, ok := DefaultBackoff().Delay(0)
	require.True(t, ok)
	require.Equal(t, 5*time.Second, delay)

	_, ok = DefaultBackoff().Delay(DefaultMaxReconnectAttempts)
	require.False(t, ok)
}
