package decoder

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/severity"
)

var (
	// ErrMalformed is returned when a payload does not match the protocol grammar.
	ErrMalformed = errors.New("malformed payload")
	// ErrChecksum is returned when a Contact ID checksum digit does not verify.
	ErrChecksum = errors.New("checksum mismatch")
	// ErrUnsupportedProtocol is returned for protocol tags without a decoder.
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
)

// Decode dispatches to the decoder registered for protocol.
func Decode(protocol event.Protocol, raw string, receivedAt time.Time) (event.AlarmEvent, error) {
	switch protocol {
	case event.ProtocolContactID:
		return DecodeContactID(raw, receivedAt)
	case event.ProtocolSIA:
		return DecodeSIA(raw, receivedAt)
	default:
		return event.AlarmEvent{}, fmt.Errorf("%w %q", ErrUnsupportedProtocol, protocol)
	}
}

// Detect guesses the protocol of an untagged payload: SIA frames start with '#',
// everything else is treated as Contact ID.
func Detect(raw string) event.Protocol {
	if strings.HasPrefix(strings.TrimSpace(raw), "#") {
		return event.ProtocolSIA
	}

	return event.ProtocolContactID
}

// classified fills the derived attributes of a freshly decoded event.
func classified(e event.AlarmEvent) event.AlarmEvent {
	e.Stream = event.StreamAlarm
	e.Priority = severity.Classify(e.Protocol, e.EventCode)
	e.Description = severity.Describe(e.Protocol, e.EventCode)

	return e
}

// malformed wraps ErrMalformed with a protocol-specific reason.
func malformed(protocol event.Protocol, reason string) error {
	return fmt.Errorf("%s: %w: %s", protocol, ErrMalformed, reason)
}
