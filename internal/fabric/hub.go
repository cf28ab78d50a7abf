package fabric

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/logger"
	"github.com/oshokin/alarm-pipeline/internal/metrics"
)

const (
	// DefaultSendBuffer is the per-connection outbound queue size.
	DefaultSendBuffer = 64
	// DefaultBroadcastBuffer is the size of the hub broadcast channel.
	DefaultBroadcastBuffer = 256
)

// ErrNoAuthenticator is returned for token authentication on a hub without one.
var ErrNoAuthenticator = errors.New("token authentication is not configured")

// broadcast is a frame addressed to the subscribers of one owner.
type broadcast struct {
	kind  MessageType
	owner string
	frame []byte
}

// Hub is the server-side connection registry.
type Hub struct {
	// mu serializes registry mutations; readers use the snapshot.
	mu    sync.Mutex
	conns atomic.Pointer[[]*Conn]

	broadcasts    chan broadcast
	sendBuffer    int
	authenticator Authenticator
	metrics       *metrics.Metrics
	now           func() time.Time
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithSendBuffer sets the per-connection queue size.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithBroadcastBuffer sets the broadcast channel size.
func WithBroadcastBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.broadcasts = make(chan broadcast, n)
		}
	}
}

// WithAuthenticator verifies tokens of authenticate messages. Without one the
// hub trusts the clientId field of the message.
func WithAuthenticator(a Authenticator) HubOption {
	return func(h *Hub) {
		h.authenticator = a
	}
}

// WithHubMetrics attaches collectors.
func WithHubMetrics(m *metrics.Metrics) HubOption {
	return func(h *Hub) {
		h.metrics = m
	}
}

// NewHub creates an empty hub. Call Run to start delivering broadcasts.
func NewHub(options ...HubOption) *Hub {
	h := &Hub{
		broadcasts: make(chan broadcast, DefaultBroadcastBuffer),
		sendBuffer: DefaultSendBuffer,
		now:        time.Now,
	}

	for _, opt := range options {
		opt(h)
	}

	empty := make([]*Conn, 0)
	h.conns.Store(&empty)

	return h
}

// NewConn creates a connection sized for this hub. It is not registered yet.
func (h *Hub) NewConn() *Conn {
	return NewConn(h.sendBuffer)
}

// Register adds a connection to the registry.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current := *h.conns.Load()
	next := make([]*Conn, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, c)
	h.conns.Store(&next)

	h.metrics.SetConnections(len(next))
}

// Unregister removes and closes a connection.
func (h *Hub) Unregister(c *Conn) {
	c.Close()

	h.mu.Lock()
	defer h.mu.Unlock()

	current := *h.conns.Load()

	idx := slices.Index(current, c)
	if idx < 0 {
		return
	}

	next := make([]*Conn, 0, len(current)-1)
	next = append(next, current[:idx]...)
	next = append(next, current[idx+1:]...)
	h.conns.Store(&next)

	h.metrics.SetConnections(len(next))
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	return len(*h.conns.Load())
}

// Run delivers broadcasts until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, c := range *h.conns.Load() {
				h.Unregister(c)
			}

			return
		case b := <-h.broadcasts:
			h.deliver(ctx, b)
		}
	}
}

// PublishEvent broadcasts an event with the given processing status to the
// subscribers of its owner. It waits while the broadcast channel is full.
func (h *Hub) PublishEvent(ctx context.Context, ev event.AlarmEvent, status string) error {
	msg, err := newMessage(TypeEvent, ev)
	if err != nil {
		return err
	}

	now := h.now()
	msg.Status = status
	msg.ClientID = ev.ClientID
	msg.Timestamp = &now

	return h.publish(ctx, broadcast{kind: TypeEvent, owner: ev.ClientID, frame: encode(msg)})
}

// PublishNotification broadcasts a rule notification to the subscribers of
// the triggering event's owner.
func (h *Hub) PublishNotification(ctx context.Context, n event.Notification) error {
	msg, err := newMessage(TypeNotification, n)
	if err != nil {
		return err
	}

	msg.ClientID = n.ClientID
	msg.Timestamp = &n.Timestamp

	return h.publish(ctx, broadcast{kind: TypeNotification, owner: n.ClientID, frame: encode(msg)})
}

// publish hands a broadcast to Run.
func (h *Hub) publish(ctx context.Context, b broadcast) error {
	select {
	case h.broadcasts <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver queues a broadcast on every accepting connection and evicts those
// whose queue is full.
func (h *Hub) deliver(ctx context.Context, b broadcast) {
	for _, c := range *h.conns.Load() {
		if !c.Accepts(b.owner) || c.isClosed() {
			continue
		}

		if c.enqueue(b.frame) {
			h.metrics.MessageBroadcast(string(b.kind))

			continue
		}

		h.metrics.ConnectionEvicted()
		logger.WarnKV(ctx, "Evicting slow subscriber", "connection_id", c.ID())
		h.Unregister(c)
	}
}

// reply queues a message for one connection only.
func (h *Hub) reply(ctx context.Context, c *Conn, msg Message) {
	if !c.enqueue(encode(msg)) {
		logger.WarnKV(ctx, "Dropping reply to subscriber", "connection_id", c.ID(), "type", msg.Type)
	}
}

// replyError sends a scoped error reply.
func (h *Hub) replyError(ctx context.Context, c *Conn, text string) {
	h.reply(ctx, c, Message{Type: TypeError, Message: text})
}
