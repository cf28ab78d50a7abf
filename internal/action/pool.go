package action

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/domain/rule"
	"github.com/oshokin/alarm-pipeline/internal/logger"
	"github.com/oshokin/alarm-pipeline/internal/metrics"
)

const (
	// DefaultWorkers is the number of concurrent executions.
	DefaultWorkers = 4
	// DefaultQueueSize bounds pending requests.
	DefaultQueueSize = 256
	// DefaultTimeout bounds a single execution.
	DefaultTimeout = 10 * time.Second
)

var (
	// ErrNoExecutor is returned for action types without a registered executor.
	ErrNoExecutor = errors.New("no executor registered")
	// ErrUnexpectedConfig is returned when an executor receives another type's config.
	ErrUnexpectedConfig = errors.New("unexpected action config")
)

// Request is one action of a matched rule together with its triggering event.
type Request struct {
	RuleID   string
	RuleName string
	Action   rule.Action
	Event    event.AlarmEvent
}

// Executor performs one action type.
type Executor interface {
	Type() rule.ActionType
	Execute(ctx context.Context, req Request) error
}

// task is a queued request with the logger context of its dispatcher.
type task struct {
	ctx context.Context
	req Request
}

// Pool runs requests on a bounded worker pool.
type Pool struct {
	queue     chan task
	executors map[rule.ActionType]Executor
	workers   int
	timeout   time.Duration
	metrics   *metrics.Metrics

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// PoolOption customizes a Pool.
type PoolOption func(*Pool)

// WithWorkers sets the number of workers.
func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.queue = make(chan task, n)
		}
	}
}

// WithTimeout sets the per-execution timeout.
func WithTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithMetrics attaches collectors.
func WithMetrics(m *metrics.Metrics) PoolOption {
	return func(p *Pool) {
		p.metrics = m
	}
}

// WithExecutors registers executors, replacing earlier ones of the same type.
func WithExecutors(executors ...Executor) PoolOption {
	return func(p *Pool) {
		for _, e := range executors {
			p.executors[e.Type()] = e
		}
	}
}

// NewPool creates a pool. Call Start to begin processing.
func NewPool(options ...PoolOption) *Pool {
	p := &Pool{
		queue:     make(chan task, DefaultQueueSize),
		executors: make(map[rule.ActionType]Executor),
		workers:   DefaultWorkers,
		timeout:   DefaultTimeout,
		done:      make(chan struct{}),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Start launches the workers. They exit when ctx is done or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	for range p.workers {
		p.wg.Add(1)

		go func() {
			defer p.wg.Done()

			p.work(ctx)
		}()
	}
}

// Stop stops the workers and waits for running executions to finish.
// Requests still queued are discarded.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}

// Dispatch enqueues a request without blocking. It implements the engine's
// dispatcher contract.
func (p *Pool) Dispatch(ctx context.Context, req Request) {
	select {
	case <-p.done:
		logger.WarnKV(ctx, "Action pool stopped, dropping action",
			"rule_id", req.RuleID, "action", req.Action.Type())
	case p.queue <- task{ctx: context.WithoutCancel(ctx), req: req}:
	default:
		p.metrics.ActionDropped(string(req.Action.Type()))
		logger.WarnKV(ctx, "Action queue full, dropping action",
			"rule_id", req.RuleID, "action", req.Action.Type(), "event_id", req.Event.ID)
	}
}

// work drains the queue until shutdown.
func (p *Pool) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case t := <-p.queue:
			p.run(t.ctx, t.req)
		}
	}
}

// run executes a single request and logs its outcome.
func (p *Pool) run(ctx context.Context, req Request) {
	actionType := req.Action.Type()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ctx = logger.WithKV(logger.WithKV(ctx, "rule_id", req.RuleID), "action", actionType)

	err := p.execute(ctx, req)
	if err != nil {
		p.metrics.ActionExecuted(string(actionType), "error")
		logger.ErrorKV(ctx, "Action failed", "event_id", req.Event.ID, "error", err)

		return
	}

	p.metrics.ActionExecuted(string(actionType), "ok")
	logger.DebugKV(ctx, "Action executed", "event_id", req.Event.ID)
}

// execute calls the registered executor, converting panics into errors.
func (p *Pool) execute(ctx context.Context, req Request) (err error) {
	executor, ok := p.executors[req.Action.Type()]
	if !ok {
		return fmt.Errorf("%w for %q", ErrNoExecutor, req.Action.Type())
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panicked: %v", r)
		}
	}()

	return executor.Execute(ctx, req)
}
