package fabric

import (
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Conn is the transport-independent state of one subscriber connection.
type Conn struct {
	id   string
	send chan []byte

	mu            sync.RWMutex
	clientID      string
	subscriptions map[string]struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn creates a connection with an outbound queue of the given size.
func NewConn(buffer int) *Conn {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}

	return &Conn{
		id:            uuid.NewString(),
		send:          make(chan []byte, buffer),
		subscriptions: make(map[string]struct{}),
		closed:        make(chan struct{}),
	}
}

// ID returns the connection identifier.
func (c *Conn) ID() string {
	return c.id
}

// Authenticate binds the connection to a client identity.
func (c *Conn) Authenticate(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clientID = clientID
}

// ClientID returns the bound client identity, if any.
func (c *Conn) ClientID() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.clientID, c.clientID != ""
}

// Subscribe adds a channel.
func (c *Conn) Subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subscriptions[channel] = struct{}{}
}

// Unsubscribe removes a channel.
func (c *Conn) Unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.subscriptions, channel)
}

// Subscriptions returns the subscribed channels in sorted order.
func (c *Conn) Subscriptions() []string {
	c.mu.RLock()
	channels := lo.Keys(c.subscriptions)
	c.mu.RUnlock()

	slices.Sort(channels)

	return channels
}

// Accepts reports whether a broadcast owned by owner is delivered here.
func (c *Conn) Accepts(owner string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.clientID == "" {
		return false
	}

	if owner != "" && c.clientID == owner {
		return true
	}

	if _, ok := c.subscriptions[AllEvents]; ok {
		return true
	}

	if owner == "" {
		return false
	}

	_, ok := c.subscriptions[ClientChannel(owner)]

	return ok
}

// Outbound returns the queue the transport writes from.
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Close marks the connection closed. It is safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// isClosed reports whether Close was called.
func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// enqueue queues a frame without blocking. It reports false when the
// connection is closed or its queue is full.
func (c *Conn) enqueue(frame []byte) bool {
	if c.isClosed() {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}
