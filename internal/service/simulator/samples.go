package simulator

import (
	"fmt"

	"github.com/oshokin/alarm-pipeline/internal/decoder"
	"github.com/oshokin/alarm-pipeline/internal/domain/event"
)

// Sample is one payload the simulator sends.
type Sample struct {
	// Label names the sample in logs.
	Label string
	// Protocol is the payload wire format.
	Protocol event.Protocol
	// Payload is the raw frame without line terminator.
	Payload string
}

// contactIDSample is a Contact ID report before formatting.
type contactIDSample struct {
	label     string
	qualifier string
	code      string
	partition string
	zone      string
}

// siaSample is a SIA report before formatting.
type siaSample struct {
	label string
	code  string
	zone  string
}

//nolint:gochecknoglobals // Fixed sample catalogue.
var (
	contactIDSamples = []contactIDSample{
		{label: "Robo zona 5", qualifier: "1", code: "130", partition: "01", zone: "005"},
		{label: "Restauración robo zona 5", qualifier: "3", code: "130", partition: "01", zone: "005"},
		{label: "Incendio zona 2", qualifier: "1", code: "110", partition: "01", zone: "002"},
		{label: "Pánico usuario 3", qualifier: "1", code: "120", partition: "01", zone: "003"},
		{label: "Fallo de AC", qualifier: "1", code: "301", partition: "00", zone: "000"},
		{label: "Batería baja", qualifier: "1", code: "302", partition: "00", zone: "000"},
	}
	siaSamples = []siaSample{
		{label: "Alarma de robo zona 1", code: "BA", zone: "001"},
		{label: "Alarma de fuego zona 2", code: "FA", zone: "002"},
		{label: "Pánico zona 3", code: "PA", zone: "003"},
		{label: "Fallo AC", code: "AT", zone: "000"},
		{label: "Batería baja", code: "YT", zone: "000"},
	}
)

// Samples returns the catalogue for account, filtered by protocol. An empty
// protocol returns both, interleaved. Contact ID frames carry a checksum digit.
func Samples(account string, protocol event.Protocol) ([]Sample, error) {
	var cid, sia []Sample

	if protocol == "" || protocol == event.ProtocolContactID {
		for _, s := range contactIDSamples {
			body := account + "18" + s.qualifier + s.code + s.partition + s.zone

			sum, err := decoder.Checksum(body)
			if err != nil {
				return nil, fmt.Errorf("sample %q: %w", s.label, err)
			}

			cid = append(cid, Sample{Label: s.label, Protocol: event.ProtocolContactID, Payload: body + sum})
		}
	}

	if protocol == "" || protocol == event.ProtocolSIA {
		for _, s := range siaSamples {
			sia = append(sia, Sample{
				Label:    s.label,
				Protocol: event.ProtocolSIA,
				Payload:  fmt.Sprintf("#%s|Nri1/%s%s", account, s.code, s.zone),
			})
		}
	}

	out := make([]Sample, 0, len(cid)+len(sia))

	for i := 0; i < len(cid) || i < len(sia); i++ {
		if i < len(cid) {
			out = append(out, cid[i])
		}

		if i < len(sia) {
			out = append(out, sia[i])
		}
	}

	return out, nil
}
