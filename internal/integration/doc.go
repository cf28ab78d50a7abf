// Package integration runs the pipeline binaries' services end to end on
// loopback sockets.
package integration
