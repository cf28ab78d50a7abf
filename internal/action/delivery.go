package action

import (
	"context"
	"fmt"

	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/domain/rule"
	"github.com/oshokin/alarm-pipeline/internal/logger"
)

// Message is an outbound email or sms.
type Message struct {
	Channel    rule.ActionType
	Recipients []string
	Subject    string
	Template   string
	Body       string
	Event      event.AlarmEvent
}

// Deliverer sends messages through an external email or sms provider.
type Deliverer interface {
	Deliver(ctx context.Context, msg Message) error
}

// LogDeliverer records messages in the log instead of sending them.
type LogDeliverer struct{}

// Deliver implements Deliverer.
func (LogDeliverer) Deliver(ctx context.Context, msg Message) error {
	logger.InfoKV(ctx, "Message delivery requested",
		"channel", msg.Channel,
		"recipients", msg.Recipients,
		"subject", msg.Subject,
		"event_id", msg.Event.ID)

	return nil
}

// DeliveryExecutor handles email and sms actions.
type DeliveryExecutor struct {
	channel   rule.ActionType
	deliverer Deliverer
}

// NewEmailExecutor creates the email executor.
func NewEmailExecutor(d Deliverer) *DeliveryExecutor {
	return &DeliveryExecutor{channel: rule.ActionEmail, deliverer: d}
}

// NewSMSExecutor creates the sms executor.
func NewSMSExecutor(d Deliverer) *DeliveryExecutor {
	return &DeliveryExecutor{channel: rule.ActionSMS, deliverer: d}
}

// Type implements Executor.
func (x *DeliveryExecutor) Type() rule.ActionType { return x.channel }

// Execute implements Executor.
func (x *DeliveryExecutor) Execute(ctx context.Context, req Request) error {
	msg := Message{
		Channel: x.channel,
		Event:   req.Event,
		Body:    body(req.Event),
	}

	switch x.channel {
	case rule.ActionEmail:
		cfg, ok := configAs[rule.EmailConfig](req.Action)
		if !ok {
			return fmt.Errorf("%w: %T", ErrUnexpectedConfig, req.Action.Config)
		}

		msg.Recipients, msg.Template, msg.Subject = cfg.Recipients, cfg.Template, cfg.Subject
		if msg.Subject == "" {
			msg.Subject = fmt.Sprintf("[%s] %s", req.Event.Priority, req.Event.Description)
		}
	case rule.ActionSMS:
		cfg, ok := configAs[rule.SMSConfig](req.Action)
		if !ok {
			return fmt.Errorf("%w: %T", ErrUnexpectedConfig, req.Action.Config)
		}

		msg.Recipients, msg.Template = cfg.Recipients, cfg.Template
	default:
		return fmt.Errorf("%w for %q", ErrNoExecutor, x.channel)
	}

	if err := x.deliverer.Deliver(ctx, msg); err != nil {
		return fmt.Errorf("deliver %s: %w", x.channel, err)
	}

	return nil
}

// body renders the default text of a message.
func body(e event.AlarmEvent) string {
	return fmt.Sprintf("%s (%s %s) en %s", e.Description, e.Protocol, e.EventCode, location(e))
}
