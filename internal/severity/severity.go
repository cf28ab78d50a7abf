package severity

import (
	"strings"

	"github.com/oshokin/alarm-pipeline/internal/domain/event"
)

// UnknownDescription labels codes missing from the description tables.
const UnknownDescription = "Evento Desconocido"

// tier maps a priority to the code markers that select it.
type tier struct {
	priority event.Priority
	markers  []string
}

var (
	// contactIDTiers is keyed on the bare 3-digit Contact ID event code.
	// Markers are code prefixes: "11" covers fire 110-118, "13" burglary 130-139.
	//nolint:gochecknoglobals // Static lookup table.
	contactIDTiers = []tier{
		{event.PriorityCritical, []string{"10", "11", "120", "121", "122", "123"}},
		{event.PriorityHigh, []string{"13", "14", "150", "151", "152", "153", "154", "155"}},
		{event.PriorityMedium, []string{"30", "31", "32", "33", "34", "35", "36", "37", "380", "381", "382", "383"}},
	}

	// siaTiers is keyed on the leading letter of the SIA event token.
	//nolint:gochecknoglobals // Static lookup table.
	siaTiers = []tier{
		{event.PriorityCritical, []string{"F", "P"}},
		{event.PriorityHigh, []string{"B", "H"}},
		{event.PriorityMedium, []string{"T", "S"}},
	}

	//nolint:gochecknoglobals // Static lookup table.
	contactIDDescriptions = map[string]string{
		"100": "Emergencia Médica",
		"110": "Alarma de Fuego",
		"120": "Pánico",
		"121": "Coacción",
		"122": "Pánico Silencioso",
		"130": "Robo",
		"131": "Robo Perimetral",
		"132": "Robo Interior",
		"137": "Sabotaje",
		"301": "Pérdida de AC",
		"302": "Batería Baja",
		"401": "Desarme",
		"406": "Cancelación de Alarma",
	}

	//nolint:gochecknoglobals // Static lookup table.
	siaDescriptions = map[string]string{
		"BA": "Alarma de Robo",
		"BR": "Restauración de Robo",
		"FA": "Alarma de Fuego",
		"FR": "Restauración de Fuego",
		"HA": "Atraco",
		"PA": "Pánico",
		"AT": "Problema de AC",
		"AR": "Restauración de AC",
		"YT": "Batería Baja",
		"OP": "Apertura",
		"CL": "Cierre",
	}
)

// contactIDCodeWidth is the canonical Contact ID event code width.
const contactIDCodeWidth = 3

// Classify returns the priority of an event code. The first tier whose marker
// is a prefix of the code wins; codes matching no tier are low. Contact ID codes
// of any width other than 3 digits are low.
func Classify(protocol event.Protocol, eventCode string) event.Priority {
	var tiers []tier

	switch protocol {
	case event.ProtocolContactID:
		if len(eventCode) != contactIDCodeWidth {
			return event.PriorityLow
		}

		tiers = contactIDTiers
	case event.ProtocolSIA:
		tiers = siaTiers
		eventCode = strings.ToUpper(eventCode)
	default:
		return event.PriorityLow
	}

	for _, t := range tiers {
		for _, marker := range t.markers {
			if strings.HasPrefix(eventCode, marker) {
				return t.priority
			}
		}
	}

	return event.PriorityLow
}

// Describe returns the human-readable label of an event code.
func Describe(protocol event.Protocol, eventCode string) string {
	var (
		description string
		ok          bool
	)

	switch protocol {
	case event.ProtocolContactID:
		description, ok = contactIDDescriptions[eventCode]
	case event.ProtocolSIA:
		description, ok = siaDescriptions[strings.ToUpper(eventCode)]
	}

	if !ok {
		return UnknownDescription
	}

	return description
}
