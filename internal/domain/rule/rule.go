package rule

import (
	"fmt"
	"strconv"

	"github.com/oshokin/alarm-pipeline/internal/domain/event"
)

// Rule is a user-defined automation: when an event of EventType satisfies every
// condition inside the schedule window, each action is dispatched.
type Rule struct {
	// ID uniquely identifies the rule inside a snapshot.
	ID string `json:"id" yaml:"id"`
	// Name is the display name.
	Name string `json:"name" yaml:"name"`
	// Description is free text shown in the dashboard.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// EventType scopes which stream the rule evaluates.
	EventType event.Stream `json:"eventType" yaml:"eventType"`
	// Conditions are combined with logical AND. Empty means always.
	Conditions []Condition `json:"conditions" yaml:"conditions"`
	// Actions run when the rule matches.
	Actions []Action `json:"actions" yaml:"actions"`
	// Enabled rules take part in evaluation.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Priority orders matching rules, lower first. It never suppresses a match.
	Priority int `json:"priority" yaml:"priority"`
	// Schedule restricts the rule to weekdays and a time-of-day window.
	Schedule *Schedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

// ValidationError points at the rule attribute that failed validation.
type ValidationError struct {
	// RuleID is the offending rule.
	RuleID string
	// Field is the dotted path of the invalid attribute.
	Field string
	// Message explains the problem.
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rule %q: %s: %s", e.RuleID, e.Field, e.Message)
}

// Validate checks the rule structure so that a snapshot never carries rules
// the engine cannot evaluate.
func (r *Rule) Validate() error {
	invalid := func(field, message string) error {
		return &ValidationError{RuleID: r.ID, Field: field, Message: message}
	}

	if r.ID == "" {
		return invalid("id", "rule ID is required")
	}

	if !r.EventType.Valid() {
		return invalid("eventType", fmt.Sprintf("unsupported event type %q", r.EventType))
	}

	for i := range r.Conditions {
		if err := r.Conditions[i].Validate(); err != nil {
			return invalid("conditions["+strconv.Itoa(i)+"]", err.Error())
		}
	}

	for i, action := range r.Actions {
		if action.Config == nil {
			return invalid("actions["+strconv.Itoa(i)+"]", "action config is required")
		}

		if err := action.Config.Validate(); err != nil {
			return invalid("actions["+strconv.Itoa(i)+"]."+string(action.Type()), err.Error())
		}
	}

	if r.Schedule != nil {
		if err := r.Schedule.Validate(); err != nil {
			return invalid("schedule", err.Error())
		}
	}

	return nil
}

// DefaultCameraID is the camera the built-in intrusion rule records from.
const DefaultCameraID = "main"

// Defaults returns the built-in rule set used when the configured source has none.
func Defaults() []Rule {
	return []Rule{
		{
			ID:          "default-intrusion",
			Name:        "Alarma de Intrusión",
			Description: "Notificar cuando se detecte una intrusión",
			EventType:   event.StreamAlarm,
			Conditions: []Condition{
				{Field: "eventCode", Operator: OperatorEquals, Value: "130"},
				{Field: "qualifier", Operator: OperatorEquals, Value: Operand(event.QualifierNew)},
			},
			Actions: []Action{
				{Config: &NotificationConfig{Template: "intrusion_alert", Priority: event.PriorityHigh}},
				{Config: &CameraRecordConfig{CameraID: DefaultCameraID, Duration: 300, PreBuffer: 30}},
			},
			Enabled:  true,
			Priority: 1,
		},
	}
}
