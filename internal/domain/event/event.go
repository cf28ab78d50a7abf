package event

import (
	"time"
)

// Protocol identifies the wire format a panel reported in.
type Protocol string

const (
	// ProtocolContactID is the fixed-width numeric Ademco Contact ID format.
	ProtocolContactID Protocol = "ContactID"
	// ProtocolSIA is the delimited alphanumeric SIA DC-03 format.
	ProtocolSIA Protocol = "SIA"
)

// ParseProtocol maps user input (CLI flags, RPC fields) to a Protocol.
func ParseProtocol(s string) (Protocol, bool) {
	switch s {
	case "ContactID", "contactid", "contact_id", "CID", "cid":
		return ProtocolContactID, true
	case "SIA", "sia":
		return ProtocolSIA, true
	default:
		return "", false
	}
}

// Stream is the originating event stream a rule may be scoped to.
type Stream string

const (
	// StreamAlarm carries events decoded from intrusion panels.
	StreamAlarm Stream = "alarm"
	// StreamCamera carries events raised by video collaborators.
	StreamCamera Stream = "camera"
	// StreamSystem carries internal system events.
	StreamSystem Stream = "system"
)

// Valid reports whether the stream is one the rule engine accepts.
func (s Stream) Valid() bool {
	switch s {
	case StreamAlarm, StreamCamera, StreamSystem:
		return true
	default:
		return false
	}
}

// Qualifier is the Contact ID new-event/restore indicator.
type Qualifier string

const (
	// QualifierNew marks a new event or opening.
	QualifierNew Qualifier = "1"
	// QualifierRestore marks a restore or closing.
	QualifierRestore Qualifier = "3"
)

// AlarmEvent is a normalized panel event.
//
// It is a value type: every stage receives its own copy and the With* helpers
// return modified copies, so an event is never changed after it is produced.
type AlarmEvent struct {
	// ID is assigned by the pipeline once the event is accepted.
	ID string `json:"id,omitempty"`
	// Protocol is the wire format the event was decoded from.
	Protocol Protocol `json:"protocol"`
	// Stream is the originating stream used for rule eligibility.
	Stream Stream `json:"stream"`
	// AccountNumber identifies the reporting panel.
	AccountNumber string `json:"accountNumber"`
	// MessageType is the Contact ID message type (18 or 98).
	MessageType string `json:"messageType,omitempty"`
	// EventCode is the protocol-native code: 3 digits for Contact ID, 2-3 letters for SIA.
	EventCode string `json:"eventCode"`
	// Qualifier is set for Contact ID events only.
	Qualifier Qualifier `json:"qualifier,omitempty"`
	// Zone is the zone or user number the event refers to.
	Zone string `json:"zone,omitempty"`
	// Partition is the armed area the event originated in.
	Partition string `json:"partition,omitempty"`
	// Checksum is the Contact ID checksum digit, computed when the panel omitted it.
	Checksum string `json:"checksum,omitempty"`
	// Timestamp is the panel-reported SIA /TS segment.
	Timestamp string `json:"timestamp,omitempty"`
	// User is the SIA /UI segment.
	User string `json:"user,omitempty"`
	// Area is the SIA /AR segment.
	Area string `json:"area,omitempty"`
	// RawPayload is the original text, retained for audit.
	RawPayload string `json:"rawPayload"`
	// ReceivedAt is the ingestion time supplied by the caller.
	ReceivedAt time.Time `json:"receivedAt"`
	// Priority is derived from (Protocol, EventCode).
	Priority Priority `json:"priority"`
	// Description is derived from (Protocol, EventCode).
	Description string `json:"description"`
	// ClientID is the owning client resolved from the account number.
	ClientID string `json:"clientId,omitempty"`
}

// IsRestore reports whether a Contact ID event clears an earlier one.
func (e AlarmEvent) IsRestore() bool {
	return e.Qualifier == QualifierRestore
}

// WithID returns a copy of the event carrying the given identifier.
func (e AlarmEvent) WithID(id string) AlarmEvent {
	e.ID = id

	return e
}

// WithClientID returns a copy of the event owned by the given client.
func (e AlarmEvent) WithClientID(clientID string) AlarmEvent {
	e.ClientID = clientID

	return e
}

// Field returns the textual value of the attribute with the given JSON name.
// Rule conditions address event attributes through it.
func (e AlarmEvent) Field(name string) (string, bool) {
	switch name {
	case "id":
		return e.ID, true
	case "protocol":
		return string(e.Protocol), true
	case "stream", "type":
		return string(e.Stream), true
	case "accountNumber":
		return e.AccountNumber, true
	case "messageType":
		return e.MessageType, true
	case "eventCode":
		return e.EventCode, true
	case "qualifier":
		return string(e.Qualifier), true
	case "zone":
		return e.Zone, true
	case "partition":
		return e.Partition, true
	case "timestamp":
		return e.Timestamp, true
	case "user":
		return e.User, true
	case "area":
		return e.Area, true
	case "rawPayload":
		return e.RawPayload, true
	case "priority":
		return string(e.Priority), true
	case "description":
		return e.Description, true
	case "clientId":
		return e.ClientID, true
	default:
		return "", false
	}
}
