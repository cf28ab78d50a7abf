package receiver

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-pipeline/internal/decoder"
	"github.com/oshokin/alarm-pipeline/internal/domain/event"
)

type recordingSubmitter struct {
	mu       sync.Mutex
	payloads []string
	protos   []event.Protocol
}

func (s *recordingSubmitter) Submit(_ context.Context, protocol event.Protocol, raw string) (event.AlarmEvent, error) {
	ev, err := decoder.Decode(protocol, raw, time.Now())
	if err != nil {
		return event.AlarmEvent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.payloads = append(s.payloads, raw)
	s.protos = append(s.protos, protocol)

	return ev, nil
}

func (s *recordingSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.payloads)
}

// serve starts a receiver on a loopback port and returns its address.
func serve(t *testing.T, r *Receiver) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- r.Serve(ctx, ln)
	}()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	return ln.Addr().String()
}

// exchange writes one line and reads the acknowledgement byte.
func exchange(t *testing.T, conn net.Conn, reader *bufio.Reader, line string) byte {
	t.Helper()

	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err := conn.Write([]byte(line + "\r\n"))
	require.NoError(t, err)

	b, err := reader.ReadByte()
	require.NoError(t, err)

	return b
}

// TestAcknowledgements answers ACK for valid payloads and NAK for malformed ones.
func TestAcknowledgements(t *testing.T) {
	t.Parallel()

	sub := new(recordingSubmitter)
	addr := serve(t, New(sub))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	defer conn.Close()

	reader := bufio.NewReader(conn)

	require.Equal(t, ACK, exchange(t, conn, reader, "123418113001005"))
	require.Equal(t, ACK, exchange(t, conn, reader, "#AAAA|Nri/BA/007"))
	require.Equal(t, NAK, exchange(t, conn, reader, "garbage"))
	require.Equal(t, NAK, exchange(t, conn, reader, "1234181130010054"))

	sub.mu.Lock()
	defer sub.mu.Unlock()

	require.Equal(t, []event.Protocol{event.ProtocolContactID, event.ProtocolSIA}, sub.protos)
}

// TestDedupe acknowledges retransmissions without submitting them again.
func TestDedupe(t *testing.T) {
	t.Parallel()

	sub := new(recordingSubmitter)
	addr := serve(t, New(sub, WithDedupe(16, time.Minute)))

	for range 2 {
		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)

		reader := bufio.NewReader(conn)
		require.Equal(t, ACK, exchange(t, conn, reader, "123418113001005"))
		require.Equal(t, ACK, exchange(t, conn, reader, "123418113001005"))
		require.NoError(t, conn.Close())
	}

	require.Equal(t, 1, sub.count())
}

// TestBlankLines are ignored without an acknowledgement.
func TestBlankLines(t *testing.T) {
	t.Parallel()

	sub := new(recordingSubmitter)
	addr := serve(t, New(sub))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	defer conn.Close()

	_, err = conn.Write([]byte("\r\n  \r\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	require.Equal(t, ACK, exchange(t, conn, reader, "123418113001005"))
	require.Equal(t, 1, sub.count())
}

// TestIdleTimeout closes connections that stay silent.
func TestIdleTimeout(t *testing.T) {
	t.Parallel()

	addr := serve(t, New(new(recordingSubmitter), WithReadTimeout(50*time.Millisecond)))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	_, err = bufio.NewReader(conn).ReadByte()
	require.Error(t, err)
}
