package simulator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-pipeline/internal/decoder"
	"github.com/oshokin/alarm-pipeline/internal/domain/event"
)

// TestSamples_Decode ensures every sample is a valid frame for its protocol.
func TestSamples_Decode(t *testing.T) {
	t.Parallel()

	samples, err := Samples("1234", "")
	require.NoError(t, err)
	require.Len(t, samples, len(contactIDSamples)+len(siaSamples))

	// Interleaved.
	require.Equal(t, event.ProtocolContactID, samples[0].Protocol)
	require.Equal(t, event.ProtocolSIA, samples[1].Protocol)

	for _, s := range samples {
		ev, err := decoder.Decode(s.Protocol, s.Payload, time.Now())
		require.NoError(t, err, s.Payload)
		require.Equal(t, "1234", ev.AccountNumber)
		require.Equal(t, s.Protocol, decoder.Detect(s.Payload))
	}
}

// TestSamples_Filter restricts the catalogue to one protocol.
func TestSamples_Filter(t *testing.T) {
	t.Parallel()

	samples, err := Samples("9876", event.ProtocolSIA)
	require.NoError(t, err)
	require.Len(t, samples, len(siaSamples))

	for _, s := range samples {
		require.Equal(t, event.ProtocolSIA, s.Protocol)
	}

	samples, err = Samples("9876", event.ProtocolContactID)
	require.NoError(t, err)
	require.Len(t, samples, len(contactIDSamples))
	require.Len(t, samples[0].Payload, 16)
}

// TestDialAddress maps wildcard listen addresses to loopback.
func TestDialAddress(t *testing.T) {
	t.Parallel()

	require.Equal(t, "127.0.0.1:9000", dialAddress(":9000"))
	require.Equal(t, "127.0.0.1:9000", dialAddress("0.0.0.0:9000"))
	require.Equal(t, "10.0.0.5:9000", dialAddress("10.0.0.5:9000"))
	require.Equal(t, "garbage", dialAddress("garbage"))
}
