// Package ingest implements the gRPC transport for event ingestion.
//
// Messages are plain Go structs carried by a JSON codec, so the service is
// declared by hand instead of being generated from protobuf definitions.
// Callers select the codec with grpc.CallContentSubtype(CodecName); the
// IngestClient in this package does that for every call.
package ingest
