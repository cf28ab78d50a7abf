package fabric

import (
	"context"
	"encoding/json"

	"github.com/oshokin/alarm-pipeline/internal/logger"
)

// Handle processes one inbound text frame from c. Replies, including errors
// for malformed frames, go to c only.
func (h *Hub) Handle(ctx context.Context, c *Conn, frame []byte) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		logger.DebugKV(ctx, "Malformed subscriber message", "connection_id", c.ID(), "error", err)
		h.replyError(ctx, c, errInvalidMessage)

		return
	}

	switch msg.Type {
	case TypeSubscribe:
		if msg.Channel == "" {
			h.replyError(ctx, c, errMissingChannel)

			return
		}

		c.Subscribe(msg.Channel)
		h.reply(ctx, c, Message{Type: TypeSubscribed, Channel: msg.Channel})
	case TypeUnsubscribe:
		if msg.Channel == "" {
			h.replyError(ctx, c, errMissingChannel)

			return
		}

		c.Unsubscribe(msg.Channel)
		h.reply(ctx, c, Message{Type: TypeUnsubscribed, Channel: msg.Channel})
	case TypeAuthenticate:
		h.handleAuthenticate(ctx, c, msg)
	case TypePing:
		now := h.now()
		h.reply(ctx, c, Message{Type: TypePong, Timestamp: &now})
	default:
		h.replyError(ctx, c, errUnsupportedType)
	}
}

// AuthenticateToken verifies token and binds the resulting identity to c,
// replying with the outcome.
func (h *Hub) AuthenticateToken(ctx context.Context, c *Conn, token string) bool {
	if h.authenticator == nil {
		logger.WarnKV(ctx, "Rejecting token", "connection_id", c.ID(), "error", ErrNoAuthenticator)
		h.replyError(ctx, c, errAuthenticationFail)

		return false
	}

	clientID, err := h.authenticator.Authenticate(token)
	if err != nil {
		logger.InfoKV(ctx, "Subscriber authentication failed", "connection_id", c.ID(), "error", err)
		h.replyError(ctx, c, errAuthenticationFail)

		return false
	}

	c.Authenticate(clientID)
	h.reply(ctx, c, Message{Type: TypeAuthenticated, ClientID: clientID})
	logger.InfoKV(ctx, "Subscriber authenticated", "connection_id", c.ID(), "client_id", clientID)

	return true
}

// handleAuthenticate accepts a token, or a bare clientId when the hub has no
// authenticator.
func (h *Hub) handleAuthenticate(ctx context.Context, c *Conn, msg Message) {
	if h.authenticator != nil || msg.Token != "" {
		h.AuthenticateToken(ctx, c, msg.Token)

		return
	}

	if msg.ClientID == "" {
		h.replyError(ctx, c, errAuthenticationFail)

		return
	}

	c.Authenticate(msg.ClientID)
	h.reply(ctx, c, Message{Type: TypeAuthenticated, ClientID: msg.ClientID})
}
