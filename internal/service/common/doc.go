// Package common holds what the pipeline, simulator and monitor commands
// share: the gRPC client the simulator uses to submit reports to the ingest
// API with per-call timeouts, and ApplyLogLevel, which resolves the
// --log-level flag against the configured level.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
