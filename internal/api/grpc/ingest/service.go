package ingest

import (
	"context"

	"google.golang.org/grpc"

	"github.com/oshokin/alarm-pipeline/internal/domain/event"
)

// Fully qualified names.
const (
	ServiceName  = "alarmpipeline.v1.IngestService"
	SubmitMethod = "/" + ServiceName + "/Submit"
	InjectMethod = "/" + ServiceName + "/Inject"
)

// SubmitRequest carries a raw panel payload.
type SubmitRequest struct {
	// Protocol is ContactID or SIA. Empty means detect from the payload.
	Protocol string `json:"protocol,omitempty"`
	// Payload is the raw frame.
	Payload string `json:"payload"`
}

// InjectRequest carries an event produced outside the decoders.
type InjectRequest struct {
	Event event.AlarmEvent `json:"event"`
}

// EventResponse returns the accepted event.
type EventResponse struct {
	Event event.AlarmEvent `json:"event"`
}

// IngestServer is the server API of the ingest service.
type IngestServer interface {
	Submit(ctx context.Context, req *SubmitRequest) (*EventResponse, error)
	Inject(ctx context.Context, req *InjectRequest) (*EventResponse, error)
}

// ServiceDesc describes the ingest service to grpc.Server.RegisterService.
//
//nolint:gochecknoglobals // Service descriptors are package-level by convention.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
		{MethodName: "Inject", Handler: injectHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterIngestServer registers srv on s.
func RegisterIngestServer(s grpc.ServiceRegistrar, srv IngestServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func submitHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(SubmitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(IngestServer).Submit(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SubmitMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IngestServer).Submit(ctx, req.(*SubmitRequest))
	}

	return interceptor(ctx, in, info, handler)
}

func injectHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(InjectRequest)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(IngestServer).Inject(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: InjectMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IngestServer).Inject(ctx, req.(*InjectRequest))
	}

	return interceptor(ctx, in, info, handler)
}

// IngestClient calls the ingest service over a client connection.
type IngestClient struct {
	cc grpc.ClientConnInterface
}

// NewIngestClient wraps cc.
func NewIngestClient(cc grpc.ClientConnInterface) *IngestClient {
	return &IngestClient{cc: cc}
}

// Submit sends a raw payload.
func (c *IngestClient) Submit(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*EventResponse, error) {
	out := new(EventResponse)

	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, SubmitMethod, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// Inject sends a camera or system event.
func (c *IngestClient) Inject(ctx context.Context, in *InjectRequest, opts ...grpc.CallOption) (*EventResponse, error) {
	out := new(EventResponse)

	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, InjectMethod, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}
