package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-pipeline/internal/decoder"
	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/engine"
	"github.com/oshokin/alarm-pipeline/internal/fabric"
	"github.com/oshokin/alarm-pipeline/internal/repository/panels"
)

const intrusion = "123418113001005"

type published struct {
	ev     event.AlarmEvent
	status string
}

type recorder struct {
	mu        sync.Mutex
	evaluated []event.AlarmEvent
	out       chan published
}

func newRecorder() *recorder {
	return &recorder{out: make(chan published, 16)}
}

func (r *recorder) Evaluate(_ context.Context, ev event.AlarmEvent) []engine.Match {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evaluated = append(r.evaluated, ev)

	return nil
}

func (r *recorder) PublishEvent(_ context.Context, ev event.AlarmEvent, status string) error {
	r.out <- published{ev: ev, status: status}

	return nil
}

func (r *recorder) next(t *testing.T) published {
	t.Helper()

	select {
	case p := <-r.out:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("no event published")

		return published{}
	}
}

type sinkFunc func(ctx context.Context, ev event.AlarmEvent) error

func (f sinkFunc) PublishEvent(ctx context.Context, ev event.AlarmEvent) error {
	return f(ctx, ev)
}

// start runs p until the test ends.
func start(t *testing.T, p *Pipeline) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// TestSubmit decodes, assigns an ID and owner, and publishes the processed event.
func TestSubmit(t *testing.T) {
	t.Parallel()

	var (
		rec        = newRecorder()
		receivedAt = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
		p          = New(rec, rec,
			WithDirectory(panels.Static{"1234": "client-1"}),
			WithClock(func() time.Time { return receivedAt }))
	)

	start(t, p)

	ev, err := p.Submit(context.Background(), event.ProtocolContactID, intrusion)
	require.NoError(t, err)
	require.NotEmpty(t, ev.ID)
	require.Equal(t, "client-1", ev.ClientID)
	require.Equal(t, receivedAt, ev.ReceivedAt)
	require.Equal(t, event.PriorityHigh, ev.Priority)

	got := rec.next(t)
	require.Equal(t, ev, got.ev)
	require.Equal(t, fabric.StatusProcessed, got.status)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.evaluated, 1)
}

// TestSubmitMalformed returns decode errors without queuing anything.
func TestSubmitMalformed(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	p := New(rec, rec)

	_, err := p.Submit(context.Background(), event.ProtocolContactID, "12AB")
	require.ErrorIs(t, err, decoder.ErrMalformed)
	require.Empty(t, p.queue)
}

// TestUnknownAccount leaves the owner empty.
func TestUnknownAccount(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	p := New(rec, rec, WithDirectory(panels.Static{}))

	ev, err := p.Submit(context.Background(), event.ProtocolSIA, "#9999|Nri/BA/007")
	require.NoError(t, err)
	require.Empty(t, ev.ClientID)
}

// TestSinkFailure keeps evaluating rules and reports the failed status.
func TestSinkFailure(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	p := New(rec, rec, WithSink(sinkFunc(func(context.Context, event.AlarmEvent) error {
		return errors.New("store unavailable")
	})))

	start(t, p)

	_, err := p.Submit(context.Background(), event.ProtocolContactID, intrusion)
	require.NoError(t, err)

	got := rec.next(t)
	require.Equal(t, fabric.StatusFailed, got.status)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.evaluated, 1)
}

// TestInject accepts camera events and rejects unknown streams.
func TestInject(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	p := New(rec, rec)

	start(t, p)

	_, err := p.Inject(context.Background(), event.AlarmEvent{Stream: "weather"})
	require.ErrorIs(t, err, ErrInvalidStream)

	ev, err := p.Inject(context.Background(), event.AlarmEvent{
		Stream:      event.StreamCamera,
		EventCode:   "motion",
		Description: "Movimiento detectado",
		ClientID:    "client-2",
	})
	require.NoError(t, err)
	require.NotEmpty(t, ev.ID)
	require.False(t, ev.ReceivedAt.IsZero())

	got := rec.next(t)
	require.Equal(t, event.StreamCamera, got.ev.Stream)
	require.Equal(t, "client-2", got.ev.ClientID)
	require.Equal(t, event.PriorityLow, got.ev.Priority)
	require.Equal(t, "Movimiento detectado", got.ev.Description)
}

// TestInject_ReclassifiesPanelEvents derives priority and description of
// panel protocol events from the code instead of trusting the caller.
func TestInject_ReclassifiesPanelEvents(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	p := New(rec, rec)

	start(t, p)

	ev, err := p.Inject(context.Background(), event.AlarmEvent{
		Protocol:      event.ProtocolSIA,
		Stream:        event.StreamAlarm,
		AccountNumber: "AAAA",
		EventCode:     "FA",
		Priority:      event.PriorityLow,
		Description:   "nada",
	})
	require.NoError(t, err)
	require.Equal(t, event.PriorityCritical, ev.Priority)
	require.Equal(t, "Alarma de Fuego", ev.Description)

	got := rec.next(t)
	require.Equal(t, event.PriorityCritical, got.ev.Priority)
	require.Equal(t, "Alarma de Fuego", got.ev.Description)

	_, err = p.Inject(context.Background(), event.AlarmEvent{Protocol: "X10", Stream: event.StreamAlarm})
	require.ErrorIs(t, err, decoder.ErrUnsupportedProtocol)
}

// TestSubmitHonoursContext gives up when the queue is full and ctx ends.
func TestSubmitHonoursContext(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	p := New(rec, rec, WithQueueSize(1))

	_, err := p.Submit(context.Background(), event.ProtocolContactID, intrusion)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = p.Submit(ctx, event.ProtocolContactID, intrusion)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestStopped rejects submissions after Run returns.
func TestStopped(t *testing.T) {
	t.Parallel()

	rec := newRecorder()
	p := New(rec, rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)

	_, err := p.Submit(context.Background(), event.ProtocolContactID, intrusion)
	require.ErrorIs(t, err, ErrStopped)
}
