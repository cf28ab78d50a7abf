package ingest

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oshokin/alarm-pipeline/internal/decoder"
	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/pipeline"
)

// Pipeline abstracts the ingestion operations the transport layer depends on.
type Pipeline interface {
	Submit(ctx context.Context, protocol event.Protocol, raw string) (event.AlarmEvent, error)
	Inject(ctx context.Context, ev event.AlarmEvent) (event.AlarmEvent, error)
}

// Server implements IngestServer.
type Server struct {
	// pipeline receives the accepted events.
	pipeline Pipeline
}

// NewServer wires the provided pipeline into a gRPC handler.
func NewServer(p Pipeline) *Server {
	return &Server{
		pipeline: p,
	}
}

// Submit decodes and queues a raw payload.
func (s *Server) Submit(ctx context.Context, req *SubmitRequest) (*EventResponse, error) {
	if req == nil || req.Payload == "" {
		return nil, status.Error(codes.InvalidArgument, "payload is required")
	}

	protocol := decoder.Detect(req.Payload)

	if req.Protocol != "" {
		var ok bool
		if protocol, ok = event.ParseProtocol(req.Protocol); !ok {
			return nil, status.Errorf(codes.InvalidArgument, "unsupported protocol %q", req.Protocol)
		}
	}

	ev, err := s.pipeline.Submit(ctx, protocol, req.Payload)
	if err != nil {
		return nil, toStatus(err)
	}

	return &EventResponse{Event: ev}, nil
}

// Inject queues an event produced outside the decoders.
func (s *Server) Inject(ctx context.Context, req *InjectRequest) (*EventResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "event is required")
	}

	ev, err := s.pipeline.Inject(ctx, req.Event)
	if err != nil {
		return nil, toStatus(err)
	}

	return &EventResponse{Event: ev}, nil
}

// toStatus maps pipeline errors to gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, decoder.ErrMalformed),
		errors.Is(err, decoder.ErrChecksum),
		errors.Is(err, decoder.ErrUnsupportedProtocol),
		errors.Is(err, pipeline.ErrInvalidStream):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, pipeline.ErrStopped):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, "unable to accept event")
	}
}
