// Package simulator sends sample panel reports to a running pipeline, either
// over the panel TCP receiver or over the ingest API.
package simulator
