package decoder

import (
	"strings"
	"time"
	"unicode"

	"github.com/oshokin/alarm-pipeline/internal/domain/event"
)

// Contact ID layout: ACCT(4) MT(2) Q(1) EEE(3) GG(2) CCC(3) [S(1)].
const (
	contactIDLength             = 15
	contactIDLengthWithChecksum = 16
	contactIDChecksumModulus    = 15
)

// DecodeContactID decodes a Contact ID message. Whitespace between groups is
// ignored. A 16th checksum digit, when present, must verify; otherwise the
// checksum is computed and attached to the event.
func DecodeContactID(raw string, receivedAt time.Time) (event.AlarmEvent, error) {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}

		return r
	}, raw)

	if len(digits) != contactIDLength && len(digits) != contactIDLengthWithChecksum {
		return event.AlarmEvent{}, malformed(event.ProtocolContactID, "expected 15 or 16 digits")
	}

	body := digits[:contactIDLength]
	for _, r := range body {
		if r < '0' || r > '9' {
			return event.AlarmEvent{}, malformed(event.ProtocolContactID, "non-digit in message body")
		}
	}

	messageType := body[4:6]
	if messageType != "18" && messageType != "98" {
		return event.AlarmEvent{}, malformed(event.ProtocolContactID, "message type must be 18 or 98")
	}

	qualifier := event.Qualifier(body[6:7])
	if qualifier != event.QualifierNew && qualifier != event.QualifierRestore {
		return event.AlarmEvent{}, malformed(event.ProtocolContactID, "qualifier must be 1 or 3")
	}

	checksum, err := Checksum(body)
	if err != nil {
		return event.AlarmEvent{}, malformed(event.ProtocolContactID, err.Error())
	}

	if len(digits) == contactIDLengthWithChecksum {
		if err := VerifyChecksum(digits); err != nil {
			return event.AlarmEvent{}, err
		}
	}

	return classified(event.AlarmEvent{
		Protocol:      event.ProtocolContactID,
		AccountNumber: body[0:4],
		MessageType:   messageType,
		Qualifier:     qualifier,
		EventCode:     body[7:10],
		Partition:     body[10:12],
		Zone:          body[12:15],
		Checksum:      checksum,
		RawPayload:    raw,
		ReceivedAt:    receivedAt,
	}), nil
}

// Checksum computes the Contact ID checksum digit for a 15-digit body: the
// digit that makes the sum of all 16 digit values a multiple of 15, where '0'
// counts as 10 and the hex digits B-F count as 11-15.
func Checksum(body string) (string, error) {
	sum := 0

	for _, r := range body {
		v, ok := digitValue(r)
		if !ok {
			return "", ErrMalformed
		}

		sum += v
	}

	return string(valueDigit(contactIDChecksumModulus - sum%contactIDChecksumModulus)), nil
}

// VerifyChecksum checks a full 16-digit message.
func VerifyChecksum(message string) error {
	sum := 0

	for _, r := range message {
		v, ok := digitValue(r)
		if !ok {
			return malformed(event.ProtocolContactID, "invalid checksum digit")
		}

		sum += v
	}

	if sum%contactIDChecksumModulus != 0 {
		return ErrChecksum
	}

	return nil
}

// digitValue maps a Contact ID digit to its checksum weight.
func digitValue(r rune) (int, bool) {
	switch {
	case r == '0':
		return 10, true
	case r >= '1' && r <= '9':
		return int(r - '0'), true
	case r >= 'B' && r <= 'F':
		return int(r-'B') + 11, true
	default:
		return 0, false
	}
}

// valueDigit is the inverse of digitValue for weights 1-15.
func valueDigit(v int) rune {
	switch {
	case v == 10:
		return '0'
	case v < 10:
		return rune('0' + v)
	default:
		return rune('B' + v - 11)
	}
}
