package ingest

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/oshokin/alarm-pipeline/internal/decoder"
	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/pipeline"
)

// fakePipeline decodes synchronously and records what it accepted.
type fakePipeline struct {
	submitted []event.Protocol
	injected  []event.AlarmEvent
	err       error
}

func (f *fakePipeline) Submit(_ context.Context, protocol event.Protocol, raw string) (event.AlarmEvent, error) {
	if f.err != nil {
		return event.AlarmEvent{}, f.err
	}

	ev, err := decoder.Decode(protocol, raw, time.Now())
	if err != nil {
		return event.AlarmEvent{}, err
	}

	f.submitted = append(f.submitted, protocol)

	return ev.WithID("evt-1"), nil
}

func (f *fakePipeline) Inject(_ context.Context, ev event.AlarmEvent) (event.AlarmEvent, error) {
	if !ev.Stream.Valid() {
		return event.AlarmEvent{}, pipeline.ErrInvalidStream
	}

	f.injected = append(f.injected, ev)

	return ev.WithID("evt-2"), nil
}

// dial serves srv over an in-memory listener and returns a connected client.
func dial(t *testing.T, srv IngestServer) *IngestClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterIngestServer(s, srv)

	go func() { _ = s.Serve(lis) }()

	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	return NewIngestClient(conn)
}

// TestServer_Submit_Validation ensures invalid requests return InvalidArgument errors.
func TestServer_Submit_Validation(t *testing.T) {
	t.Parallel()

	s := NewServer(new(fakePipeline))

	_, err := s.Submit(context.Background(), nil)
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.Submit(context.Background(), &SubmitRequest{Payload: "123418113001005", Protocol: "X10"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.Submit(context.Background(), &SubmitRequest{Payload: "not a frame"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.Inject(context.Background(), &InjectRequest{Event: event.AlarmEvent{Stream: "weather"}})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

// TestServer_Submit_Detects picks the protocol from the payload when none is given.
func TestServer_Submit_Detects(t *testing.T) {
	t.Parallel()

	p := new(fakePipeline)
	s := NewServer(p)

	_, err := s.Submit(context.Background(), &SubmitRequest{Payload: "#AAAA|Nri/BA/007"})
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), &SubmitRequest{Payload: "123418113001005", Protocol: "cid"})
	require.NoError(t, err)

	require.Equal(t, []event.Protocol{event.ProtocolSIA, event.ProtocolContactID}, p.submitted)
}

// TestServer_ErrorCodes maps pipeline failures to gRPC codes.
func TestServer_ErrorCodes(t *testing.T) {
	t.Parallel()

	req := &SubmitRequest{Payload: "123418113001005"}

	_, err := NewServer(&fakePipeline{err: pipeline.ErrStopped}).Submit(context.Background(), req)
	require.Equal(t, codes.Unavailable, status.Code(err))

	_, err = NewServer(&fakePipeline{err: context.DeadlineExceeded}).Submit(context.Background(), req)
	require.Equal(t, codes.DeadlineExceeded, status.Code(err))

	_, err = NewServer(&fakePipeline{err: net.ErrClosed}).Submit(context.Background(), req)
	require.Equal(t, codes.Internal, status.Code(err))
}

// TestTransport_Roundtrip exercises both methods over a real gRPC connection.
func TestTransport_Roundtrip(t *testing.T) {
	t.Parallel()

	p := new(fakePipeline)
	client := dial(t, NewServer(p))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Submit(ctx, &SubmitRequest{Protocol: "ContactID", Payload: "123418113001005"})
	require.NoError(t, err)
	require.Equal(t, "evt-1", resp.Event.ID)
	require.Equal(t, "1234", resp.Event.AccountNumber)
	require.Equal(t, event.PriorityHigh, resp.Event.Priority)

	_, err = client.Submit(ctx, &SubmitRequest{Payload: "1234181130010054"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	resp, err = client.Inject(ctx, &InjectRequest{Event: event.AlarmEvent{
		Stream:    event.StreamCamera,
		EventCode: "motion",
		ClientID:  "client-1",
	}})
	require.NoError(t, err)
	require.Equal(t, "evt-2", resp.Event.ID)
	require.Len(t, p.injected, 1)
}
