package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/logger"
	"github.com/oshokin/alarm-pipeline/internal/version"
)

const (
	// ConnectTimeout bounds the initial dial.
	ConnectTimeout = 10 * time.Second
	// ReconnectWait is the pause between reconnect attempts.
	ReconnectWait = 2 * time.Second
)

// Message headers on published events.
const (
	HeaderEventID  = "x-event-id"
	HeaderAccount  = "x-account"
	HeaderPriority = "x-priority"
	HeaderClientID = "x-client-id"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("bus is closed")

// Bus wraps a NATS connection.
type Bus struct {
	conn          *nats.Conn
	eventsSubject string
	rulesSubject  string
}

// Options selects the subjects.
type Options struct {
	// EventsSubject receives every processed event.
	EventsSubject string
	// RulesSubject carries rule change notifications.
	RulesSubject string
}

// Connect dials url. Lost connections are retried forever.
func Connect(ctx context.Context, url string, opts Options) (*Bus, error) {
	conn, err := nats.Connect(url,
		nats.Name(version.Product),
		nats.Timeout(ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WarnKV(ctx, "NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.InfoKV(ctx, "NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	logger.InfoKV(ctx, "Connected to NATS", "url", conn.ConnectedUrl())

	return &Bus{
		conn:          conn,
		eventsSubject: opts.EventsSubject,
		rulesSubject:  opts.RulesSubject,
	}, nil
}

// PublishEvent publishes the processed event as JSON.
func (b *Bus) PublishEvent(_ context.Context, ev event.AlarmEvent) error {
	if b.conn.IsClosed() {
		return ErrClosed
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := nats.NewMsg(b.eventsSubject)
	msg.Data = data
	msg.Header.Set(HeaderEventID, ev.ID)
	msg.Header.Set(HeaderAccount, ev.AccountNumber)
	msg.Header.Set(HeaderPriority, string(ev.Priority))

	if ev.ClientID != "" {
		msg.Header.Set(HeaderClientID, ev.ClientID)
	}

	if err = b.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish event %s: %w", ev.ID, err)
	}

	return nil
}

// NotifyRulesChanged tells every pipeline instance to reload its rules.
func (b *Bus) NotifyRulesChanged(_ context.Context) error {
	if b.conn.IsClosed() {
		return ErrClosed
	}

	if err := b.conn.Publish(b.rulesSubject, nil); err != nil {
		return fmt.Errorf("publish rules changed: %w", err)
	}

	return b.conn.Flush()
}

// RulesChanged subscribes to change notifications. Bursts are coalesced into
// a single pending signal. The subscription ends when ctx is done; the
// channel is left open.
func (b *Bus) RulesChanged(ctx context.Context) (<-chan struct{}, error) {
	changes := make(chan struct{}, 1)

	sub, err := b.conn.Subscribe(b.rulesSubject, func(*nats.Msg) {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", b.rulesSubject, err)
	}

	if err = b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()

		return nil, fmt.Errorf("flush subscription: %w", err)
	}

	go func() {
		<-ctx.Done()

		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			logger.WarnKV(ctx, "Failed to unsubscribe from rule changes", "error", err)
		}
	}()

	return changes, nil
}

// Close drains pending messages and closes the connection.
func (b *Bus) Close() error {
	if b.conn.IsClosed() || b.conn.IsDraining() {
		return nil
	}

	if err := b.conn.Drain(); err != nil {
		b.conn.Close()

		return fmt.Errorf("drain NATS connection: %w", err)
	}

	return nil
}
