package action

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/domain/rule"
	"github.com/oshokin/alarm-pipeline/internal/metrics"
)

// funcExecutor adapts a function to Executor.
type funcExecutor struct {
	actionType rule.ActionType
	fn         func(ctx context.Context, req Request) error
}

func (f funcExecutor) Type() rule.ActionType { return f.actionType }

func (f funcExecutor) Execute(ctx context.Context, req Request) error { return f.fn(ctx, req) }

func notificationRequest(id string) Request {
	return Request{
		RuleID: "r1",
		Action: rule.Action{Config: &rule.NotificationConfig{}},
		Event:  event.AlarmEvent{ID: id},
	}
}

// TestPool_DropsWhenFull rejects requests beyond the queue capacity without blocking.
func TestPool_DropsWhenFull(t *testing.T) {
	t.Parallel()

	var executed atomic.Int32

	p := NewPool(
		WithQueueSize(1),
		WithWorkers(1),
		WithMetrics(metrics.New()),
		WithExecutors(funcExecutor{rule.ActionNotification, func(context.Context, Request) error {
			executed.Add(1)

			return nil
		}}),
	)

	ctx := context.Background()
	p.Dispatch(ctx, notificationRequest("a"))
	p.Dispatch(ctx, notificationRequest("b"))

	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool { return executed.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return executed.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

// TestPool_IsolatesFailures keeps running after an executor errors or panics.
func TestPool_IsolatesFailures(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []string
	)

	p := NewPool(WithExecutors(funcExecutor{rule.ActionNotification, func(_ context.Context, req Request) error {
		mu.Lock()
		seen = append(seen, req.Event.ID)
		mu.Unlock()

		switch req.Event.ID {
		case "panic":
			panic("boom")
		case "error":
			return errors.New("delivery failed")
		}

		return nil
	}}))

	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	for _, id := range []string{"panic", "error", "ok"} {
		p.Dispatch(ctx, notificationRequest(id))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(seen) == 3
	}, time.Second, 5*time.Millisecond)
}

// TestPool_Execute reports missing executors and recovers panics as errors.
func TestPool_Execute(t *testing.T) {
	t.Parallel()

	p := NewPool(WithExecutors(funcExecutor{rule.ActionWebhook, func(context.Context, Request) error {
		panic("boom")
	}}))

	err := p.execute(context.Background(), notificationRequest("x"))
	require.ErrorIs(t, err, ErrNoExecutor)

	err = p.execute(context.Background(), Request{Action: rule.Action{Config: &rule.WebhookConfig{}}})
	require.ErrorContains(t, err, "panicked")
}

// TestPool_Timeout bounds each execution.
func TestPool_Timeout(t *testing.T) {
	t.Parallel()

	done := make(chan error, 1)

	p := NewPool(
		WithTimeout(20*time.Millisecond),
		WithExecutors(funcExecutor{rule.ActionNotification, func(ctx context.Context, _ Request) error {
			<-ctx.Done()
			done <- ctx.Err()

			return ctx.Err()
		}}),
	)

	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	p.Dispatch(ctx, notificationRequest("slow"))

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("execution was not cancelled")
	}
}

// TestPool_StoppedDrops ignores requests after Stop.
func TestPool_StoppedDrops(t *testing.T) {
	t.Parallel()

	p := NewPool(WithQueueSize(1))
	p.Start(context.Background())
	p.Stop()

	require.NotPanics(t, func() {
		p.Dispatch(context.Background(), notificationRequest("late"))
	})
}
