// Package fabric distributes processed events and notifications to live
// subscribers over websockets.
//
// The server side is a Hub holding a copy-on-write registry of connections.
// Registry mutations are serialized while broadcasts read an immutable
// snapshot, so a broadcast never blocks a new connection. Outbound traffic
// flows through a single broadcast channel drained by Hub.Run and then into a
// bounded per-connection queue; a connection that stops draining its queue is
// evicted instead of slowing everyone else down.
//
// A connection receives a broadcast when it is authenticated and either owns
// the event, or subscribed to AllEvents or to the owner's client channel.
//
// The client side is a Connector that dials with a token, waits for the
// authentication reply, resubscribes its channels and reconnects with
// exponential backoff after unexpected closes.
package fabric
