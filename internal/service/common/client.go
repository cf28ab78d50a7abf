//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/oshokin/alarm-pipeline/internal/api/grpc/ingest"
	"github.com/oshokin/alarm-pipeline/internal/domain/event"
)

// DefaultCallTimeout bounds a single ingest call.
const DefaultCallTimeout = 5 * time.Second

// Client wraps the ingest API client with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the pipeline.
	conn *grpc.ClientConn
	// api is the ingest service client.
	api *ingest.IngestClient

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errPayloadRequired is returned when submitting an empty payload.
	errPayloadRequired = errors.New("payload must be provided")
)

// Dial creates a client for the ingest API at address.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy until native TLS is added.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial alarm pipeline: %w", err)
	}

	client := &Client{
		conn:        conn,
		api:         ingest.NewIngestClient(conn),
		callTimeout: DefaultCallTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// Submit sends a raw panel payload. An empty protocol lets the server detect it.
func (c *Client) Submit(ctx context.Context, protocol event.Protocol, payload string) (event.AlarmEvent, error) {
	if payload == "" {
		return event.AlarmEvent{}, errPayloadRequired
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.api.Submit(callCtx, &ingest.SubmitRequest{Protocol: string(protocol), Payload: payload})
	if err != nil {
		return event.AlarmEvent{}, fmt.Errorf("submit payload: %w", err)
	}

	return resp.Event, nil
}

// Inject sends a camera or system event.
func (c *Client) Inject(ctx context.Context, ev event.AlarmEvent) (event.AlarmEvent, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.api.Inject(callCtx, &ingest.InjectRequest{Event: ev})
	if err != nil {
		return event.AlarmEvent{}, fmt.Errorf("inject event: %w", err)
	}

	return resp.Event, nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
