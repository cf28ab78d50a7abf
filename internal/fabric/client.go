package fabric

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oshokin/alarm-pipeline/internal/logger"
)

// DefaultClientPingInterval is how often the connector sends application pings.
const DefaultClientPingInterval = 30 * time.Second

var (
	// ErrNotConnected is returned by Send while no connection is open.
	ErrNotConnected = errors.New("websocket is not connected")
	// ErrReconnectExhausted is returned by Run after the last allowed attempt.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	// ErrHandshakeRejected is returned when the server refuses the token.
	ErrHandshakeRejected = errors.New("authentication rejected")
	// ErrAlreadyRun is returned by every Run call after the first.
	ErrAlreadyRun = errors.New("connector has already run")
)

// Signal is a connector lifecycle notification.
type Signal int

const (
	// SignalConnected follows a successful open and handshake.
	SignalConnected Signal = iota + 1
	// SignalDisconnected follows an unexpected close.
	SignalDisconnected
	// SignalExhausted follows the last failed reconnect; no more attempts follow.
	SignalExhausted
)

func (s Signal) String() string {
	switch s {
	case SignalConnected:
		return "connected"
	case SignalDisconnected:
		return "disconnected"
	case SignalExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// Connector is a reconnecting websocket subscriber.
type Connector struct {
	endpoint     string
	token        string
	clientID     string
	channels     []string
	backoff      Backoff
	pingInterval time.Duration
	handshake    time.Duration
	dialer       *websocket.Dialer

	signals  chan Signal
	messages chan Message

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	ran    bool
}

// ConnectorOption customizes a Connector.
type ConnectorOption func(*Connector)

// WithToken authenticates the connection during the handshake.
func WithToken(token string) ConnectorOption {
	return func(c *Connector) {
		c.token = token
	}
}

// WithClientID identifies the connection by client ID on hubs that do not
// verify tokens. It is ignored when a token is set.
func WithClientID(clientID string) ConnectorOption {
	return func(c *Connector) {
		c.clientID = clientID
	}
}

// WithChannels subscribes to the channels after every successful connect.
func WithChannels(channels ...string) ConnectorOption {
	return func(c *Connector) {
		c.channels = channels
	}
}

// WithBackoff sets the reconnect policy.
func WithBackoff(b Backoff) ConnectorOption {
	return func(c *Connector) {
		c.backoff = b
	}
}

// WithClientPingInterval sets the application ping interval.
func WithClientPingInterval(d time.Duration) ConnectorOption {
	return func(c *Connector) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

// WithHandshakeTimeout bounds dialing plus waiting for the authentication reply.
func WithHandshakeTimeout(d time.Duration) ConnectorOption {
	return func(c *Connector) {
		if d > 0 {
			c.handshake = d
		}
	}
}

// NewConnector creates a connector for a ws:// or wss:// endpoint.
func NewConnector(endpoint string, options ...ConnectorOption) *Connector {
	c := &Connector{
		endpoint:     endpoint,
		backoff:      DefaultBackoff(),
		pingInterval: DefaultClientPingInterval,
		handshake:    10 * time.Second,
		signals:      make(chan Signal, 8),
		messages:     make(chan Message, 64),
	}

	for _, opt := range options {
		opt(c)
	}

	c.dialer = &websocket.Dialer{HandshakeTimeout: c.handshake}

	return c
}

// Signals delivers lifecycle notifications. Callers must drain it.
func (c *Connector) Signals() <-chan Signal {
	return c.signals
}

// Messages delivers inbound server messages. Callers must drain it.
func (c *Connector) Messages() <-chan Message {
	return c.messages
}

// Run connects and keeps reconnecting until ctx is done, Close is called or
// the backoff policy is exhausted. A successful open resets the attempt count.
// Run closes Messages and Signals on return, so a connector runs once.
func (c *Connector) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()

		return ErrAlreadyRun
	}

	c.ran = true
	c.cancel = cancel
	c.mu.Unlock()

	defer close(c.messages)
	defer close(c.signals)

	attempt := 0

	for {
		conn, err := c.connect(ctx)
		switch {
		case err == nil:
			attempt = 0
			c.emit(ctx, SignalConnected)

			c.serve(ctx, conn)

			if ctx.Err() != nil {
				return nil
			}

			c.emit(ctx, SignalDisconnected)
		case ctx.Err() != nil:
			return nil
		default:
			logger.WarnKV(ctx, "Websocket connect failed", "endpoint", c.endpoint, "attempt", attempt, "error", err)
		}

		delay, ok := c.backoff.Delay(attempt)
		if !ok {
			c.emit(ctx, SignalExhausted)

			return ErrReconnectExhausted
		}

		attempt++
		logger.InfoKV(ctx, "Reconnect scheduled", "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()

			return nil
		case <-timer.C:
		}
	}
}

// Close stops Run, cancelling any pending reconnect.
func (c *Connector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Send writes a message to the open connection. Nothing is queued: while
// disconnected the message is dropped with a warning.
func (c *Connector) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		logger.WarnKV(ctx, "Websocket is not connected, dropping message", "type", msg.Type)

		return ErrNotConnected
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}

	return nil
}

// Subscribe asks the server for a channel.
func (c *Connector) Subscribe(ctx context.Context, channel string) error {
	return c.Send(ctx, Message{Type: TypeSubscribe, Channel: channel})
}

// Unsubscribe leaves a channel.
func (c *Connector) Unsubscribe(ctx context.Context, channel string) error {
	return c.Send(ctx, Message{Type: TypeUnsubscribe, Channel: channel})
}

// connect dials and, with a token, waits for the authentication reply.
func (c *Connector) connect(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	if c.token != "" {
		query := endpoint.Query()
		query.Set("token", c.token)
		endpoint.RawQuery = query.Encode()
	}

	conn, resp, err := c.dialer.DialContext(ctx, endpoint.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		return nil, err
	}

	if c.token != "" {
		if err := c.awaitAuthenticated(conn); err != nil {
			_ = conn.Close()

			return nil, err
		}
	}

	return conn, nil
}

// awaitAuthenticated reads the first frame, which answers the token.
func (c *Connector) awaitAuthenticated(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(c.handshake))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	var reply Message
	if err := conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}

	if reply.Type != TypeAuthenticated {
		return fmt.Errorf("%w: %s", ErrHandshakeRejected, reply.Message)
	}

	return nil
}

// serve publishes the connection, resubscribes, pings and reads until the
// connection closes.
func (c *Connector) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		_ = conn.Close()
	}()

	if c.token == "" && c.clientID != "" {
		if err := c.Send(ctx, Message{Type: TypeAuthenticate, ClientID: c.clientID}); err != nil {
			logger.WarnKV(ctx, "Authenticate failed", "client_id", c.clientID, "error", err)
		}
	}

	for _, channel := range c.channels {
		if err := c.Subscribe(ctx, channel); err != nil {
			logger.WarnKV(ctx, "Subscribe failed", "channel", channel, "error", err)
		}
	}

	done := make(chan struct{})
	defer close(done)

	go c.pingLoop(ctx, done)

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			logger.WarnKV(ctx, "Dropping malformed server message", "error", err)

			continue
		}

		select {
		case c.messages <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// pingLoop sends application pings while the connection is open.
func (c *Connector) pingLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Send(ctx, Message{Type: TypePing}); err != nil {
				logger.DebugKV(ctx, "Ping failed", "error", err)
			}
		}
	}
}

// emit delivers a signal unless ctx is done.
func (c *Connector) emit(ctx context.Context, s Signal) {
	select {
	case c.signals <- s:
	case <-ctx.Done():
	}
}
