package action

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/domain/rule"
)

// Notification titles per template.
const (
	intrusionTemplate = "intrusion_alert"
	intrusionTitle    = "¡Alerta de Intrusión!"
	defaultTitle      = "Notificación del Sistema"
	unknownLocation   = "ubicación desconocida"
)

// NotificationPublisher hands notifications to live subscribers.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, n event.Notification) error
}

// NotificationExecutor synthesizes notifications for the distribution fabric.
type NotificationExecutor struct {
	publisher NotificationPublisher
	now       func() time.Time
}

// NewNotificationExecutor creates an executor publishing through publisher.
func NewNotificationExecutor(publisher NotificationPublisher) *NotificationExecutor {
	return &NotificationExecutor{publisher: publisher, now: time.Now}
}

// Type implements Executor.
func (*NotificationExecutor) Type() rule.ActionType { return rule.ActionNotification }

// Execute implements Executor.
func (x *NotificationExecutor) Execute(ctx context.Context, req Request) error {
	cfg, ok := configAs[rule.NotificationConfig](req.Action)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedConfig, req.Action.Config)
	}

	return x.publisher.PublishNotification(ctx, BuildNotification(cfg, req, x.now()))
}

// BuildNotification renders the notification for a request.
func BuildNotification(cfg rule.NotificationConfig, req Request, now time.Time) event.Notification {
	title := defaultTitle
	if cfg.Template == intrusionTemplate {
		title = intrusionTitle
	}

	priority := cfg.Priority
	if priority == "" {
		priority = req.Event.Priority
	}

	return event.Notification{
		ID:        uuid.NewString(),
		RuleID:    req.RuleID,
		Template:  cfg.Template,
		Title:     title,
		Message:   fmt.Sprintf("Se ha detectado un evento en %s", location(req.Event)),
		Priority:  priority,
		ClientID:  req.Event.ClientID,
		Timestamp: now,
		Event:     req.Event,
	}
}

// location renders where an event happened.
func location(e event.AlarmEvent) string {
	switch {
	case e.AccountNumber == "":
		return unknownLocation
	case e.Zone != "":
		return fmt.Sprintf("cuenta %s, zona %s", e.AccountNumber, e.Zone)
	default:
		return "cuenta " + e.AccountNumber
	}
}

// configAs returns the action config as T whether it is stored by value or pointer.
func configAs[T rule.ActionConfig](a rule.Action) (T, bool) {
	switch cfg := any(a.Config).(type) {
	case T:
		return cfg, true
	case *T:
		if cfg != nil {
			return *cfg, true
		}
	}

	var zero T

	return zero, false
}
