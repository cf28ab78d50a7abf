package fabric

import (
	"encoding/json"
	"time"
)

// MessageType discriminates wire messages.
type MessageType string

// Inbound message types.
const (
	TypeSubscribe    MessageType = "subscribe"
	TypeUnsubscribe  MessageType = "unsubscribe"
	TypeAuthenticate MessageType = "authenticate"
	TypePing         MessageType = "ping"
)

// Outbound message types.
const (
	TypeEvent         MessageType = "event"
	TypeNotification  MessageType = "notification"
	TypeError         MessageType = "error"
	TypeSubscribed    MessageType = "subscribed"
	TypeUnsubscribed  MessageType = "unsubscribed"
	TypeAuthenticated MessageType = "authenticated"
	TypePong          MessageType = "pong"
)

// Event statuses attached to event broadcasts.
const (
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

// AllEvents is the channel that receives every broadcast.
const AllEvents = "all_events"

// Error replies.
const (
	errInvalidMessage     = "Mensaje inválido"
	errUnsupportedType    = "Tipo de mensaje no soportado"
	errMissingChannel     = "Canal requerido"
	errAuthenticationFail = "No autenticado"
)

// ClientChannel returns the channel carrying all events owned by clientID.
func ClientChannel(clientID string) string {
	return "client_" + clientID
}

// Message is the JSON text frame exchanged in both directions.
type Message struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	Token     string          `json:"token,omitempty"`
	Status    string          `json:"status,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the data payload into v.
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// newMessage builds an outbound message with a JSON data payload.
func newMessage(t MessageType, data any) (Message, error) {
	m := Message{Type: t}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Message{}, err
		}

		m.Data = raw
	}

	return m, nil
}

// encode marshals a message. Message only holds marshalable fields.
func encode(m Message) []byte {
	b, _ := json.Marshal(m)

	return b
}
