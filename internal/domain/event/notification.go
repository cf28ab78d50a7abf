package event

import "time"

// Notification is an in-app alert synthesized by a rule action.
type Notification struct {
	// ID identifies the notification.
	ID string `json:"id"`
	// RuleID is the rule that produced it.
	RuleID string `json:"ruleId"`
	// Template is the template name the title was selected by.
	Template string `json:"template,omitempty"`
	// Title is the headline shown to operators.
	Title string `json:"title"`
	// Message is the body text.
	Message string `json:"message"`
	// Priority is the configured override or the event priority.
	Priority Priority `json:"priority"`
	// ClientID is the owner of the triggering event.
	ClientID string `json:"clientId,omitempty"`
	// Timestamp is when the notification was created.
	Timestamp time.Time `json:"timestamp"`
	// Event is the triggering event.
	Event AlarmEvent `json:"data"`
}
