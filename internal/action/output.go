package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/oshokin/alarm-pipeline/internal/domain/rule"
	"github.com/oshokin/alarm-pipeline/internal/logger"
)

// Relay toggles a physical output for a while.
type Relay interface {
	Trigger(ctx context.Context, outputID string, duration time.Duration) error
}

// OutputExecutor handles output_trigger actions.
type OutputExecutor struct {
	relay Relay
}

// NewOutputExecutor creates the output executor.
func NewOutputExecutor(relay Relay) *OutputExecutor {
	return &OutputExecutor{relay: relay}
}

// Type implements Executor.
func (*OutputExecutor) Type() rule.ActionType { return rule.ActionOutputTrigger }

// Execute implements Executor.
func (x *OutputExecutor) Execute(ctx context.Context, req Request) error {
	cfg, ok := configAs[rule.OutputTriggerConfig](req.Action)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnexpectedConfig, req.Action.Config)
	}

	if err := x.relay.Trigger(ctx, cfg.OutputID, time.Duration(cfg.Duration)*time.Second); err != nil {
		return fmt.Errorf("trigger output %s: %w", cfg.OutputID, err)
	}

	return nil
}

// LogRelay records output triggers in the log.
type LogRelay struct{}

// Trigger implements Relay.
func (LogRelay) Trigger(ctx context.Context, outputID string, duration time.Duration) error {
	logger.InfoKV(ctx, "Output trigger requested", "output_id", outputID, "duration", duration)

	return nil
}

// ErrRelayTimeout is returned when the broker does not confirm a publish in time.
var ErrRelayTimeout = errors.New("relay publish timed out")

// triggerCommand is the MQTT payload of an output trigger.
type triggerCommand struct {
	State    bool `json:"state"`
	Duration int  `json:"duration"`
}

// MQTTRelay publishes trigger commands to {prefix}/outputs/{id}/trigger.
type MQTTRelay struct {
	client mqtt.Client
	prefix string
}

// MQTTOptions configures the relay connection.
type MQTTOptions struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// NewMQTTRelay connects to the broker.
func NewMQTTRelay(ctx context.Context, opts MQTTOptions) (*MQTTRelay, error) {
	clientOptions := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.WarnKV(ctx, "Relay broker connection lost", "broker", opts.Broker, "error", err)
		})

	if opts.Username != "" {
		clientOptions.SetUsername(opts.Username)
	}

	if opts.Password != "" {
		clientOptions.SetPassword(opts.Password)
	}

	client := mqtt.NewClient(clientOptions)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to relay broker %s: %w", opts.Broker, token.Error())
	}

	return NewMQTTRelayWithClient(client, opts.TopicPrefix), nil
}

// NewMQTTRelayWithClient wraps an already connected client.
func NewMQTTRelayWithClient(client mqtt.Client, prefix string) *MQTTRelay {
	return &MQTTRelay{client: client, prefix: prefix}
}

// Topic returns the command topic of an output.
func (r *MQTTRelay) Topic(outputID string) string {
	if r.prefix == "" {
		return "outputs/" + outputID + "/trigger"
	}

	return r.prefix + "/outputs/" + outputID + "/trigger"
}

// Trigger implements Relay.
func (r *MQTTRelay) Trigger(ctx context.Context, outputID string, duration time.Duration) error {
	payload, err := json.Marshal(triggerCommand{State: true, Duration: int(duration / time.Second)})
	if err != nil {
		return err
	}

	token := r.client.Publish(r.Topic(outputID), 1, false, payload)

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrRelayTimeout, ctx.Err())
	}
}

// Close disconnects from the broker.
func (r *MQTTRelay) Close() {
	r.client.Disconnect(250)
}
