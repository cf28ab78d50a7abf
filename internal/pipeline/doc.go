// Package pipeline moves events from ingestion to distribution.
//
// Submit decodes a raw payload on the caller's goroutine, resolves the owning
// client and queues the event. Workers started by Run evaluate rules, publish
// the event to subscribers and hand it to the persistence sink.
package pipeline
