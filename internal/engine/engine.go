package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"github.com/oshokin/alarm-pipeline/internal/action"
	"github.com/oshokin/alarm-pipeline/internal/domain/event"
	"github.com/oshokin/alarm-pipeline/internal/domain/rule"
	"github.com/oshokin/alarm-pipeline/internal/logger"
	"github.com/oshokin/alarm-pipeline/internal/metrics"
)

// Dispatcher accepts actions of matched rules. Dispatch must return without
// waiting for the action to complete.
type Dispatcher interface {
	Dispatch(ctx context.Context, req action.Request)
}

// Snapshot is an immutable rule set. Rules are ordered by priority, then ID.
type Snapshot struct {
	// Version increases by one on every successful load.
	Version uint64
	// LoadedAt is when the snapshot was published.
	LoadedAt time.Time
	// Rules must not be modified.
	Rules []rule.Rule
	// Quarantined lists the IDs of rules left out because they did not validate.
	Quarantined []string
}

// Match is the outcome of one matching rule for an event.
type Match struct {
	// RuleID identifies the matching rule.
	RuleID string
	// RuleName is the display name of the rule.
	RuleName string
	// Actions is the number of actions handed to the dispatcher.
	Actions int
}

// Engine evaluates events against the current snapshot.
type Engine struct {
	current    atomic.Pointer[Snapshot]
	dispatcher Dispatcher
	location   *time.Location
	metrics    *metrics.Metrics
	// loadMu serializes loads so versions never go backwards.
	loadMu sync.Mutex
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLocation sets the zone schedules are evaluated in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

// WithMetrics attaches collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an engine with an empty snapshot at version 0.
func New(dispatcher Dispatcher, options ...Option) *Engine {
	e := &Engine{
		dispatcher: dispatcher,
		location:   time.UTC,
	}

	for _, opt := range options {
		opt(e)
	}

	e.current.Store(&Snapshot{LoadedAt: time.Now()})

	return e
}

// Snapshot returns the active rule set.
func (e *Engine) Snapshot() *Snapshot {
	return e.current.Load()
}

// Load publishes rules as the next snapshot. Rules that do not validate, and
// later rules reusing an ID, are quarantined: logged, counted and left out
// while the rest are published.
func (e *Engine) Load(ctx context.Context, rules []rule.Rule) *Snapshot {
	var (
		seen        = make(map[string]struct{}, len(rules))
		sorted      = make([]rule.Rule, 0, len(rules))
		quarantined []string
	)

	for i := range rules {
		err := rules[i].Validate()
		if _, ok := seen[rules[i].ID]; ok && err == nil {
			err = &rule.ValidationError{RuleID: rules[i].ID, Field: "id", Message: "duplicate rule ID"}
		}

		if err != nil {
			logger.WarnKV(ctx, "Quarantining invalid rule", "rule_id", rules[i].ID, "error", err)
			e.metrics.RuleQuarantined()

			quarantined = append(quarantined, rules[i].ID)

			continue
		}

		seen[rules[i].ID] = struct{}{}
		sorted = append(sorted, rules[i])
	}

	slices.SortStableFunc(sorted, func(a, b rule.Rule) int {
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}

		return strings.Compare(a.ID, b.ID)
	})

	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	next := &Snapshot{
		Version:     e.current.Load().Version + 1,
		LoadedAt:    time.Now(),
		Rules:       sorted,
		Quarantined: quarantined,
	}
	e.current.Store(next)
	e.metrics.SetRuleSetVersion(next.Version)

	logger.InfoKV(ctx, "Rule set loaded",
		"version", next.Version,
		"rules", len(sorted),
		"enabled", lo.CountBy(sorted, func(r rule.Rule) bool { return r.Enabled }),
		"quarantined", len(quarantined))

	return next
}

// Evaluate matches the event against the active snapshot and dispatches the
// actions of every matching rule in rule priority order.
func (e *Engine) Evaluate(ctx context.Context, ev event.AlarmEvent) []Match {
	snapshot := e.current.Load()

	candidates := e.candidates(ctx, snapshot, ev)
	matches := make([]Match, 0, len(candidates))

	for i := range candidates {
		r := candidates[i]

		ok, err := conditionsHold(r.Conditions, ev)
		if err != nil {
			e.metrics.RuleFailed()
			logger.WarnKV(ctx, "Rule conditions failed, treating as no match",
				"rule_id", r.ID, "event_id", ev.ID, "error", err)

			continue
		}

		if !ok {
			continue
		}

		e.metrics.RuleMatched(r.ID)
		logger.InfoKV(ctx, "Rule triggered",
			"rule_id", r.ID, "rule_name", r.Name, "event_id", ev.ID, "snapshot_version", snapshot.Version)

		for _, a := range r.Actions {
			if e.dispatcher != nil {
				e.dispatcher.Dispatch(ctx, action.Request{
					RuleID:   r.ID,
					RuleName: r.Name,
					Action:   a,
					Event:    ev,
				})
			}
		}

		matches = append(matches, Match{RuleID: r.ID, RuleName: r.Name, Actions: len(r.Actions)})
	}

	return matches
}

// candidates returns enabled rules for the event's stream whose schedule
// admits the event time, keeping snapshot order.
func (e *Engine) candidates(ctx context.Context, snapshot *Snapshot, ev event.AlarmEvent) []*rule.Rule {
	at := ev.ReceivedAt.In(e.location)
	result := make([]*rule.Rule, 0, len(snapshot.Rules))

	for i := range snapshot.Rules {
		r := &snapshot.Rules[i]
		if !r.Enabled || r.EventType != ev.Stream {
			continue
		}

		if r.Schedule != nil {
			allowed, err := r.Schedule.Allows(at)
			if err != nil {
				e.metrics.RuleFailed()
				logger.WarnKV(ctx, "Rule schedule failed, treating as no match",
					"rule_id", r.ID, "error", err)

				continue
			}

			if !allowed {
				continue
			}
		}

		result = append(result, r)
	}

	return result
}

// String describes the snapshot for logs.
func (s *Snapshot) String() string {
	if len(s.Quarantined) > 0 {
		return fmt.Sprintf("v%d (%d rules, %d quarantined)", s.Version, len(s.Rules), len(s.Quarantined))
	}

	return fmt.Sprintf("v%d (%d rules)", s.Version, len(s.Rules))
}
