package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/alarm-pipeline/internal/decoder"
	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/engine"
	"github.com/oshokin/alarm-pipeline/internal/fabric"
	"github.com/oshokin/alarm-pipeline/internal/logger"
	"github.com/oshokin/alarm-pipeline/internal/metrics"
	"github.com/oshokin/alarm-pipeline/internal/repository/panels"
	"github.com/oshokin/alarm-pipeline/internal/severity"
)

const (
	// DefaultWorkers is the number of event workers.
	DefaultWorkers = 4
	// DefaultQueueSize is the capacity of the decoded event queue.
	DefaultQueueSize = 1024
)

var (
	// ErrStopped is returned when submitting to a pipeline that is not running.
	ErrStopped = errors.New("pipeline is stopped")
	// ErrInvalidStream is returned when injecting an event without a known stream.
	ErrInvalidStream = errors.New("invalid event stream")
)

// Evaluator runs rules for an event.
type Evaluator interface {
	Evaluate(ctx context.Context, ev event.AlarmEvent) []engine.Match
}

// Broadcaster distributes events to subscribers.
type Broadcaster interface {
	PublishEvent(ctx context.Context, ev event.AlarmEvent, status string) error
}

// Sink persists processed events.
type Sink interface {
	PublishEvent(ctx context.Context, ev event.AlarmEvent) error
}

// Pipeline is the event processing stage.
type Pipeline struct {
	evaluator   Evaluator
	broadcaster Broadcaster
	sink        Sink
	directory   panels.Directory
	metrics     *metrics.Metrics
	now         func() time.Time

	workers int
	queue   chan event.AlarmEvent
	// stopped is closed once Run returns.
	stopped  chan struct{}
	stopOnce sync.Once
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithWorkers sets the number of event workers.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueSize sets the decoded event queue capacity.
func WithQueueSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queue = make(chan event.AlarmEvent, n)
		}
	}
}

// WithDirectory sets the account owner directory.
func WithDirectory(d panels.Directory) Option {
	return func(p *Pipeline) {
		p.directory = d
	}
}

// WithSink sets the processed event sink.
func WithSink(s Sink) Option {
	return func(p *Pipeline) {
		p.sink = s
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithClock overrides the ingestion clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New creates a Pipeline.
func New(evaluator Evaluator, broadcaster Broadcaster, options ...Option) *Pipeline {
	p := &Pipeline{
		evaluator:   evaluator,
		broadcaster: broadcaster,
		now:         time.Now,
		workers:     DefaultWorkers,
		queue:       make(chan event.AlarmEvent, DefaultQueueSize),
		stopped:     make(chan struct{}),
	}

	for _, option := range options {
		option(p)
	}

	return p
}

// Submit decodes raw and queues the event. The decoded event, with its
// assigned ID and owner, is returned. Decode failures are returned to the
// caller and nothing is queued.
func (p *Pipeline) Submit(ctx context.Context, protocol event.Protocol, raw string) (event.AlarmEvent, error) {
	ev, err := decoder.Decode(protocol, raw, p.now())
	if err != nil {
		p.metrics.DecodeFailed(string(protocol))
		logger.WarnKV(ctx, "Failed to decode payload",
			"protocol", protocol,
			"payload", raw,
			"error", err)

		return event.AlarmEvent{}, err
	}

	p.metrics.EventDecoded(string(ev.Protocol), string(ev.Priority))

	ev, err = p.accept(ctx, ev)
	if err != nil {
		return event.AlarmEvent{}, err
	}

	return ev, nil
}

// Inject queues an event produced outside the decoders, such as a camera or
// system event. Events tagged with a panel protocol get priority and
// description from the classifier, whatever the caller set; events without a
// protocol keep theirs and default to low priority.
func (p *Pipeline) Inject(ctx context.Context, ev event.AlarmEvent) (event.AlarmEvent, error) {
	if !ev.Stream.Valid() {
		return event.AlarmEvent{}, fmt.Errorf("%w %q", ErrInvalidStream, ev.Stream)
	}

	switch ev.Protocol {
	case event.ProtocolContactID, event.ProtocolSIA:
		ev.Priority = severity.Classify(ev.Protocol, ev.EventCode)
		ev.Description = severity.Describe(ev.Protocol, ev.EventCode)
	case "":
		if ev.Priority.Rank() == 0 {
			ev.Priority = event.PriorityLow
		}
	default:
		return event.AlarmEvent{}, fmt.Errorf("%w %q", decoder.ErrUnsupportedProtocol, ev.Protocol)
	}

	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = p.now()
	}

	return p.accept(ctx, ev)
}

// accept assigns identity and ownership and queues the event.
func (p *Pipeline) accept(ctx context.Context, ev event.AlarmEvent) (event.AlarmEvent, error) {
	if ev.ID == "" {
		ev = ev.WithID(uuid.NewString())
	}

	if ev.ClientID == "" {
		ev = ev.WithClientID(p.owner(ctx, ev.AccountNumber))
	}

	select {
	case <-p.stopped:
		return event.AlarmEvent{}, ErrStopped
	default:
	}

	select {
	case p.queue <- ev:
		return ev, nil
	case <-p.stopped:
		return event.AlarmEvent{}, ErrStopped
	case <-ctx.Done():
		return event.AlarmEvent{}, ctx.Err()
	}
}

// owner resolves the account; lookup errors leave the event unowned.
func (p *Pipeline) owner(ctx context.Context, account string) string {
	if p.directory == nil || account == "" {
		return ""
	}

	owner, err := p.directory.Lookup(ctx, account)
	if err != nil {
		logger.WarnKV(ctx, "Failed to resolve panel owner", "account", account, "error", err)

		return ""
	}

	return owner
}

// Run processes queued events until ctx is done. Events still queued at that
// point are discarded.
func (p *Pipeline) Run(ctx context.Context) {
	defer p.stopOnce.Do(func() { close(p.stopped) })

	var wg sync.WaitGroup

	for range p.workers {
		wg.Add(1)

		go func() {
			defer wg.Done()
			p.work(ctx)
		}()
	}

	wg.Wait()
}

func (p *Pipeline) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.queue:
			p.process(ctx, ev)
		}
	}
}

// process evaluates rules, persists and broadcasts a single event. Rules run
// even when the sink fails; the broadcast status then reports the failure.
func (p *Pipeline) process(ctx context.Context, ev event.AlarmEvent) {
	ctx = logger.WithKV(ctx, "event_id", ev.ID)

	matches := p.evaluator.Evaluate(ctx, ev)

	status := fabric.StatusProcessed

	if p.sink != nil {
		if err := p.sink.PublishEvent(ctx, ev); err != nil {
			status = fabric.StatusFailed

			logger.ErrorKV(ctx, "Failed to persist event", "error", err)
		}
	}

	if err := p.broadcaster.PublishEvent(ctx, ev, status); err != nil {
		logger.WarnKV(ctx, "Failed to broadcast event", "error", err)
	}

	logger.DebugKV(ctx, "Event processed",
		"account", ev.AccountNumber,
		"code", ev.EventCode,
		"priority", ev.Priority,
		"matches", len(matches),
		"status", status)
}
