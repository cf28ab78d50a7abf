// Package version holds the build metadata of the pipeline binaries.
//
// Version, Commit and BuildTime are set through ldflags at release time.
// Full is printed by the version subcommand, and UserAgent identifies the
// pipeline to webhook and camera endpoints and names its NATS connection.
package version
