package action

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/domain/rule"
	"github.com/oshokin/alarm-pipeline/internal/version"
)

func sampleEvent() event.AlarmEvent {
	return event.AlarmEvent{
		ID:            "evt-7",
		Protocol:      event.ProtocolSIA,
		Stream:        event.StreamAlarm,
		AccountNumber: "AAAA",
		EventCode:     "BA",
		Zone:          "007",
		Priority:      event.PriorityHigh,
		Description:   "Alarma de Robo",
		ClientID:      "7",
	}
}

// publisherFunc adapts a function to NotificationPublisher.
type publisherFunc func(ctx context.Context, n event.Notification) error

func (f publisherFunc) PublishNotification(ctx context.Context, n event.Notification) error {
	return f(ctx, n)
}

// TestNotificationExecutor renders the intrusion template and inherits the event priority.
func TestNotificationExecutor(t *testing.T) {
	t.Parallel()

	var got event.Notification

	x := NewNotificationExecutor(publisherFunc(func(_ context.Context, n event.Notification) error {
		got = n

		return nil
	}))

	err := x.Execute(context.Background(), Request{
		RuleID: "r1",
		Action: rule.Action{Config: &rule.NotificationConfig{Template: "intrusion_alert"}},
		Event:  sampleEvent(),
	})
	require.NoError(t, err)
	require.Equal(t, "¡Alerta de Intrusión!", got.Title)
	require.Equal(t, event.PriorityHigh, got.Priority)
	require.Equal(t, "7", got.ClientID)
	require.Equal(t, "r1", got.RuleID)
	require.NotEmpty(t, got.ID)
	require.Contains(t, got.Message, "zona 007")

	n := BuildNotification(rule.NotificationConfig{Priority: event.PriorityCritical}, Request{}, time.Now())
	require.Equal(t, "Notificación del Sistema", n.Title)
	require.Equal(t, event.PriorityCritical, n.Priority)
	require.Contains(t, n.Message, "ubicación desconocida")

	err = x.Execute(context.Background(), Request{Action: rule.Action{Config: &rule.SMSConfig{}}})
	require.ErrorIs(t, err, ErrUnexpectedConfig)
}

// delivererFunc adapts a function to Deliverer.
type delivererFunc func(ctx context.Context, msg Message) error

func (f delivererFunc) Deliver(ctx context.Context, msg Message) error { return f(ctx, msg) }

// TestDeliveryExecutor fills email subjects and sms recipients.
func TestDeliveryExecutor(t *testing.T) {
	t.Parallel()

	var got []Message

	d := delivererFunc(func(_ context.Context, msg Message) error {
		got = append(got, msg)

		return nil
	})

	ctx := context.Background()
	require.NoError(t, NewEmailExecutor(d).Execute(ctx, Request{
		Action: rule.Action{Config: &rule.EmailConfig{Recipients: []string{"ops@example.com"}}},
		Event:  sampleEvent(),
	}))
	require.NoError(t, NewSMSExecutor(d).Execute(ctx, Request{
		Action: rule.Action{Config: rule.SMSConfig{Recipients: []string{"+5491100000000"}}},
		Event:  sampleEvent(),
	}))

	require.Len(t, got, 2)
	require.Equal(t, rule.ActionEmail, got[0].Channel)
	require.Equal(t, "[high] Alarma de Robo", got[0].Subject)
	require.Equal(t, []string{"+5491100000000"}, got[1].Recipients)
	require.Contains(t, got[1].Body, "SIA BA")

	require.NoError(t, LogDeliverer{}.Deliver(ctx, got[0]))
}

// TestWebhookExecutor posts the event and reports non-2xx answers.
func TestWebhookExecutor(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		headers http.Header
		posted  event.AlarmEvent
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		headers = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &posted)

		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	x := NewWebhookExecutor(time.Second)
	req := func(path string) Request {
		return Request{
			Action: rule.Action{Config: &rule.WebhookConfig{
				URL:     srv.URL + path,
				Headers: map[string]string{"X-Api-Key": "secret"},
			}},
			Event: sampleEvent(),
		}
	}

	require.NoError(t, x.Execute(context.Background(), req("/ok")))

	mu.Lock()
	require.Equal(t, "secret", headers.Get("X-Api-Key"))
	require.Equal(t, version.UserAgent(), headers.Get("User-Agent"))
	require.Equal(t, "application/json", headers.Get("Content-Type"))
	require.Equal(t, sampleEvent(), posted)
	mu.Unlock()

	require.ErrorContains(t, x.Execute(context.Background(), req("/fail")), "502")
}

// TestCameraExecutor calls the recording endpoint of the configured camera.
func TestCameraExecutor(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		path string
		body recordRequest
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)

		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	x := NewCameraExecutor(srv.URL, time.Second)
	err := x.Execute(context.Background(), Request{
		Action: rule.Action{Config: &rule.CameraRecordConfig{CameraID: "cam-3", Duration: 300, PreBuffer: 30}},
		Event:  sampleEvent(),
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, "/api/cameras/cam-3/record", path)
	require.Equal(t, recordRequest{Duration: 300, PreBuffer: 30, EventID: "evt-7"}, body)
}

// doneToken is an already completed MQTT token.
type doneToken struct {
	err error
}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                 { return t.err }

func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)

	return ch
}

// recordingClient captures publishes; other client methods are not used.
type recordingClient struct {
	mqtt.Client

	topic   string
	payload []byte
}

func (c *recordingClient) Publish(topic string, _ byte, _ bool, payload any) mqtt.Token {
	c.topic = topic
	c.payload, _ = payload.([]byte)

	return doneToken{}
}

// TestOutputExecutor_MQTT publishes a trigger command on the output topic.
func TestOutputExecutor_MQTT(t *testing.T) {
	t.Parallel()

	client := &recordingClient{}
	x := NewOutputExecutor(NewMQTTRelayWithClient(client, "site-1"))

	err := x.Execute(context.Background(), Request{
		Action: rule.Action{Config: &rule.OutputTriggerConfig{OutputID: "siren", Duration: 45}},
	})
	require.NoError(t, err)
	require.Equal(t, "site-1/outputs/siren/trigger", client.topic)
	require.JSONEq(t, `{"state":true,"duration":45}`, string(client.payload))

	require.Equal(t, "outputs/door/trigger", NewMQTTRelayWithClient(client, "").Topic("door"))
	require.NoError(t, LogRelay{}.Trigger(context.Background(), "siren", time.Second))
}
