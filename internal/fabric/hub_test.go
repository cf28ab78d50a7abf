package fabric

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/metrics"
)

// next reads one queued frame from c or fails after a second.
func next(t *testing.T, c *Conn) Message {
	t.Helper()

	select {
	case frame := <-c.Outbound():
		var msg Message
		require.NoError(t, json.Unmarshal(frame, &msg))

		return msg
	case <-time.After(time.Second):
		t.Fatal("no message queued")

		return Message{}
	}
}

// none asserts that nothing arrives on c for a short while.
func none(t *testing.T, c *Conn) {
	t.Helper()

	select {
	case frame := <-c.Outbound():
		t.Fatalf("unexpected message %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func runHub(t *testing.T, options ...HubOption) *Hub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := NewHub(options...)
	go h.Run(ctx)

	return h
}

// TestHub_FanOutFiltering delivers to the owner and to all_events subscribers only.
func TestHub_FanOutFiltering(t *testing.T) {
	t.Parallel()

	h := runHub(t)

	a := h.NewConn()
	a.Authenticate("1")
	a.Subscribe(AllEvents)

	b := h.NewConn()
	b.Authenticate("7")

	c := h.NewConn()

	d := h.NewConn()
	d.Authenticate("2")
	d.Subscribe(ClientChannel("7"))

	e := h.NewConn()
	e.Authenticate("3")
	e.Subscribe(ClientChannel("8"))

	for _, conn := range []*Conn{a, b, c, d, e} {
		h.Register(conn)
	}

	ev := event.AlarmEvent{ID: "evt-1", EventCode: "BA", ClientID: "7"}
	require.NoError(t, h.PublishEvent(context.Background(), ev, StatusProcessed))

	for _, conn := range []*Conn{a, b, d} {
		msg := next(t, conn)
		require.Equal(t, TypeEvent, msg.Type)
		require.Equal(t, StatusProcessed, msg.Status)

		var got event.AlarmEvent
		require.NoError(t, msg.Decode(&got))
		require.Equal(t, ev, got)
	}

	none(t, c)
	none(t, e)
}

// TestHub_UnauthenticatedSubscriber receives nothing until it authenticates.
func TestHub_UnauthenticatedSubscriber(t *testing.T) {
	t.Parallel()

	h := runHub(t)
	ctx := context.Background()

	c := h.NewConn()
	h.Register(c)

	h.Handle(ctx, c, []byte(`{"type":"subscribe","channel":"all_events"}`))
	require.Equal(t, TypeSubscribed, next(t, c).Type)

	require.NoError(t, h.PublishEvent(ctx, event.AlarmEvent{ClientID: "7"}, StatusProcessed))
	none(t, c)

	h.Handle(ctx, c, []byte(`{"type":"authenticate","clientId":"9"}`))
	msg := next(t, c)
	require.Equal(t, TypeAuthenticated, msg.Type)
	require.Equal(t, "9", msg.ClientID)

	require.NoError(t, h.PublishEvent(ctx, event.AlarmEvent{ClientID: "7"}, StatusProcessed))
	require.Equal(t, TypeEvent, next(t, c).Type)
}

// TestHub_MalformedInput answers the sender only.
func TestHub_MalformedInput(t *testing.T) {
	t.Parallel()

	h := runHub(t)
	ctx := context.Background()

	sender := h.NewConn()
	bystander := h.NewConn()
	bystander.Authenticate("7")
	bystander.Subscribe(AllEvents)
	h.Register(sender)
	h.Register(bystander)

	for _, frame := range []string{`{not json`, `{"type":"dance"}`, `{"type":"subscribe"}`} {
		h.Handle(ctx, sender, []byte(frame))

		msg := next(t, sender)
		require.Equal(t, TypeError, msg.Type, frame)
		require.NotEmpty(t, msg.Message, frame)
	}

	none(t, bystander)
}

// TestHub_SubscribeLifecycle tracks channel membership and answers pings.
func TestHub_SubscribeLifecycle(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ctx := context.Background()
	c := h.NewConn()

	h.Handle(ctx, c, []byte(`{"type":"subscribe","channel":"client_7"}`))
	h.Handle(ctx, c, []byte(`{"type":"subscribe","channel":"all_events"}`))
	require.Equal(t, []string{"all_events", "client_7"}, c.Subscriptions())

	h.Handle(ctx, c, []byte(`{"type":"unsubscribe","channel":"all_events"}`))
	require.Equal(t, []string{"client_7"}, c.Subscriptions())

	h.Handle(ctx, c, []byte(`{"type":"ping"}`))

	got := make([]MessageType, 0, 4)
	for range 4 {
		got = append(got, next(t, c).Type)
	}

	require.Equal(t, []MessageType{TypeSubscribed, TypeSubscribed, TypeUnsubscribed, TypePong}, got)
}

// TestHub_TokenAuthentication binds the client_id claim of a valid token.
func TestHub_TokenAuthentication(t *testing.T) {
	t.Parallel()

	auth := NewJWTAuthenticator("secret")
	h := NewHub(WithAuthenticator(auth))
	ctx := context.Background()

	token, err := auth.Issue("7", time.Minute)
	require.NoError(t, err)

	c := h.NewConn()
	h.Handle(ctx, c, []byte(`{"type":"authenticate","clientId":"99"}`))
	require.Equal(t, TypeError, next(t, c).Type)

	_, ok := c.ClientID()
	require.False(t, ok)

	h.Handle(ctx, c, []byte(`{"type":"authenticate","token":"`+token+`"}`))
	require.Equal(t, TypeAuthenticated, next(t, c).Type)

	clientID, ok := c.ClientID()
	require.True(t, ok)
	require.Equal(t, "7", clientID)
}

// TestHub_EvictsSlowConsumer closes a connection whose queue is full.
func TestHub_EvictsSlowConsumer(t *testing.T) {
	t.Parallel()

	h := runHub(t, WithSendBuffer(1), WithHubMetrics(metrics.New()))
	ctx := context.Background()

	slow := h.NewConn()
	slow.Authenticate("7")
	h.Register(slow)

	require.NoError(t, h.PublishEvent(ctx, event.AlarmEvent{ID: "1", ClientID: "7"}, StatusProcessed))
	require.NoError(t, h.PublishEvent(ctx, event.AlarmEvent{ID: "2", ClientID: "7"}, StatusProcessed))

	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("slow consumer was not evicted")
	}

	require.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 5*time.Millisecond)
}

// TestHub_Notification reaches the owner of the triggering event.
func TestHub_Notification(t *testing.T) {
	t.Parallel()

	h := runHub(t)

	owner := h.NewConn()
	owner.Authenticate("7")
	h.Register(owner)

	n := event.Notification{ID: "n1", Title: "¡Alerta de Intrusión!", ClientID: "7", Timestamp: time.Now()}
	require.NoError(t, h.PublishNotification(context.Background(), n))

	msg := next(t, owner)
	require.Equal(t, TypeNotification, msg.Type)

	var got event.Notification
	require.NoError(t, msg.Decode(&got))
	require.Equal(t, "n1", got.ID)
}

// TestHub_ConcurrentRegistry registers and broadcasts concurrently.
func TestHub_ConcurrentRegistry(t *testing.T) {
	t.Parallel()

	h := runHub(t)
	ctx := context.Background()

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 50 {
				c := h.NewConn()
				c.Authenticate("7")
				h.Register(c)
				h.Unregister(c)
			}
		}()
	}

	for range 100 {
		require.NoError(t, h.PublishEvent(ctx, event.AlarmEvent{ClientID: "7"}, StatusProcessed))
	}

	wg.Wait()
	require.Zero(t, h.Len())
}

// TestHub_PublishHonoursContext gives up when nobody drains the hub.
func TestHub_PublishHonoursContext(t *testing.T) {
	t.Parallel()

	h := NewHub(WithBroadcastBuffer(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, h.PublishEvent(ctx, event.AlarmEvent{}, StatusProcessed))
	require.ErrorIs(t, h.PublishEvent(ctx, event.AlarmEvent{}, StatusProcessed), context.DeadlineExceeded)
}
