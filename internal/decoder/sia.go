package decoder

import (
	"regexp"
	"strings"
	"time"

	"github.com/oshokin/alarm-pipeline/internal/domain/event"
)

// siaPattern matches #ACCT|N[ri<area>][/]CODE[/]ZONE followed by optional
// /XXvalue segments.
var siaPattern = regexp.MustCompile(
	`^#([0-9A-Za-z]{4})\|N(?:ri(\d*))?/?([A-Z]{2,3})/?(\d+)((?:/[A-Z]{2}[^/]*)*)$`,
)

// siaSegment matches a single trailing key/value segment.
var siaSegment = regexp.MustCompile(`/([A-Z]{2})([^/]*)`)

// DecodeSIA decodes an SIA DC-03 style message such as
// "#AAAA|Nri1/BA007/TS18:23:45/UI001".
func DecodeSIA(raw string, receivedAt time.Time) (event.AlarmEvent, error) {
	match := siaPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if match == nil {
		return event.AlarmEvent{}, malformed(event.ProtocolSIA, "does not match #ACCT|N.../CODE/ZONE")
	}

	e := event.AlarmEvent{
		Protocol:      event.ProtocolSIA,
		AccountNumber: match[1],
		Partition:     match[2],
		EventCode:     match[3],
		Zone:          match[4],
		RawPayload:    raw,
		ReceivedAt:    receivedAt,
	}

	for _, segment := range siaSegment.FindAllStringSubmatch(match[5], -1) {
		switch segment[1] {
		case "TS":
			e.Timestamp = segment[2]
		case "UI":
			e.User = segment[2]
		case "AR":
			e.Area = segment[2]
		}
	}

	return classified(e), nil
}
