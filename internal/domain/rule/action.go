package rule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/alarm-pipeline/internal/domain/event"
)

// ActionType names an action executor.
type ActionType string

const (
	ActionNotification  ActionType = "notification"
	ActionEmail         ActionType = "email"
	ActionSMS           ActionType = "sms"
	ActionWebhook       ActionType = "webhook"
	ActionCameraRecord  ActionType = "camera_record"
	ActionOutputTrigger ActionType = "output_trigger"
)

var (
	// ErrUnknownActionType is returned when decoding an action of an unsupported type.
	ErrUnknownActionType = errors.New("unknown action type")
	// ErrNoRecipients is returned for email and sms actions without recipients.
	ErrNoRecipients = errors.New("at least one recipient is required")
)

// ActionConfig is the per-type option set of an action. The concrete types are
// the *Config structs of this package.
type ActionConfig interface {
	// Type returns the action type the config belongs to.
	Type() ActionType
	// Validate checks the statically known fields.
	Validate() error
}

// Action is a typed action attached to a rule.
type Action struct {
	// Config carries the action options; its concrete type selects the executor.
	Config ActionConfig
}

// Type returns the action type, or an empty string for an unset action.
func (a Action) Type() ActionType {
	if a.Config == nil {
		return ""
	}

	return a.Config.Type()
}

// NotificationConfig broadcasts an in-app notification to live subscribers.
type NotificationConfig struct {
	// Template selects the notification title.
	Template string `json:"template,omitempty" yaml:"template,omitempty"`
	// Priority overrides the triggering event's priority on the notification.
	Priority event.Priority `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// Type implements ActionConfig.
func (NotificationConfig) Type() ActionType { return ActionNotification }

// Validate implements ActionConfig.
func (c NotificationConfig) Validate() error {
	if c.Priority != "" && c.Priority.Rank() == 0 {
		return fmt.Errorf("unknown priority %q", c.Priority)
	}

	return nil
}

// EmailConfig delivers a message through the email collaborator.
type EmailConfig struct {
	Recipients []string `json:"recipients" yaml:"recipients"`
	Subject    string   `json:"subject,omitempty" yaml:"subject,omitempty"`
	Template   string   `json:"template,omitempty" yaml:"template,omitempty"`
}

// Type implements ActionConfig.
func (EmailConfig) Type() ActionType { return ActionEmail }

// Validate implements ActionConfig.
func (c EmailConfig) Validate() error {
	if len(c.Recipients) == 0 {
		return ErrNoRecipients
	}

	return nil
}

// SMSConfig delivers a text message through the sms collaborator.
type SMSConfig struct {
	Recipients []string `json:"recipients" yaml:"recipients"`
	Template   string   `json:"template,omitempty" yaml:"template,omitempty"`
}

// Type implements ActionConfig.
func (SMSConfig) Type() ActionType { return ActionSMS }

// Validate implements ActionConfig.
func (c SMSConfig) Validate() error {
	if len(c.Recipients) == 0 {
		return ErrNoRecipients
	}

	return nil
}

// WebhookConfig posts the triggering event to an HTTP endpoint.
type WebhookConfig struct {
	// URL is the absolute http(s) endpoint.
	URL string `json:"url" yaml:"url"`
	// Headers are added to the request.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Type implements ActionConfig.
func (WebhookConfig) Type() ActionType { return ActionWebhook }

// Validate implements ActionConfig.
func (c WebhookConfig) Validate() error {
	u, err := url.ParseRequestURI(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	return nil
}

// CameraRecordConfig asks the recording collaborator to capture a clip.
type CameraRecordConfig struct {
	// CameraID identifies the camera.
	CameraID string `json:"cameraId" yaml:"cameraId"`
	// Duration is the recording length in seconds.
	Duration int `json:"duration" yaml:"duration"`
	// PreBuffer is the number of seconds kept from before the trigger.
	PreBuffer int `json:"preBuffer" yaml:"preBuffer"`
}

// Type implements ActionConfig.
func (CameraRecordConfig) Type() ActionType { return ActionCameraRecord }

// Validate implements ActionConfig.
func (c CameraRecordConfig) Validate() error {
	switch {
	case c.CameraID == "":
		return errors.New("cameraId is required")
	case c.Duration <= 0:
		return errors.New("duration must be positive")
	case c.PreBuffer < 0:
		return errors.New("preBuffer must not be negative")
	}

	return nil
}

// OutputTriggerConfig toggles a physical relay output for a while.
type OutputTriggerConfig struct {
	// OutputID identifies the relay output.
	OutputID string `json:"outputId" yaml:"outputId"`
	// Duration is how long the output stays on, in seconds.
	Duration int `json:"duration" yaml:"duration"`
}

// Type implements ActionConfig.
func (OutputTriggerConfig) Type() ActionType { return ActionOutputTrigger }

// Validate implements ActionConfig.
func (c OutputTriggerConfig) Validate() error {
	switch {
	case c.OutputID == "":
		return errors.New("outputId is required")
	case c.Duration <= 0:
		return errors.New("duration must be positive")
	}

	return nil
}

// newConfig returns an empty config for the given action type.
//
//nolint:ireturn // The union is modelled as an interface.
func newConfig(t ActionType) (ActionConfig, error) {
	switch t {
	case ActionNotification:
		return new(NotificationConfig), nil
	case ActionEmail:
		return new(EmailConfig), nil
	case ActionSMS:
		return new(SMSConfig), nil
	case ActionWebhook:
		return new(WebhookConfig), nil
	case ActionCameraRecord:
		return new(CameraRecordConfig), nil
	case ActionOutputTrigger:
		return new(OutputTriggerConfig), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownActionType, t)
	}
}

// wireAction is the {type, config} document form of an action.
type wireAction struct {
	Type   ActionType   `json:"type" yaml:"type"`
	Config ActionConfig `json:"config,omitempty" yaml:"config,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireAction{Type: a.Type(), Config: a.Config})
}

// UnmarshalJSON decodes the config into the struct selected by type.
// Unknown config keys are rejected.
func (a *Action) UnmarshalJSON(data []byte) error {
	var wire struct {
		Type   ActionType      `json:"type"`
		Config json.RawMessage `json:"config"`
	}

	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	cfg, err := newConfig(wire.Type)
	if err != nil {
		return err
	}

	if len(wire.Config) > 0 && string(wire.Config) != "null" {
		decoder := json.NewDecoder(bytes.NewReader(wire.Config))
		decoder.DisallowUnknownFields()

		if err := decoder.Decode(cfg); err != nil {
			return fmt.Errorf("decode %s config: %w", wire.Type, err)
		}
	}

	a.Config = cfg

	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (a Action) MarshalYAML() (any, error) {
	return wireAction{Type: a.Type(), Config: a.Config}, nil
}

// UnmarshalYAML decodes the config into the struct selected by type.
func (a *Action) UnmarshalYAML(node *yaml.Node) error {
	var wire struct {
		Type   ActionType `yaml:"type"`
		Config yaml.Node  `yaml:"config"`
	}

	if err := node.Decode(&wire); err != nil {
		return err
	}

	cfg, err := newConfig(wire.Type)
	if err != nil {
		return err
	}

	if !wire.Config.IsZero() {
		if err := wire.Config.Decode(cfg); err != nil {
			return fmt.Errorf("decode %s config: %w", wire.Type, err)
		}
	}

	a.Config = cfg

	return nil
}
