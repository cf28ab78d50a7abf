package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alarm_pipeline"

// Metrics holds the pipeline collectors.
type Metrics struct {
	registry *prometheus.Registry

	eventsDecoded   *prometheus.CounterVec
	decodeFailures  *prometheus.CounterVec
	rulesMatched    *prometheus.CounterVec
	ruleErrors      prometheus.Counter
	quarantined     prometheus.Counter
	actionsExecuted *prometheus.CounterVec
	actionsDropped  *prometheus.CounterVec
	broadcasts      *prometheus.CounterVec
	evictions       prometheus.Counter
	connections     prometheus.Gauge
	ruleSetVersion  prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		eventsDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_decoded_total",
			Help:      "Total number of payloads decoded into events.",
		}, []string{"protocol", "priority"}),
		decodeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Total number of payloads rejected by a decoder.",
		}, []string{"protocol"}),
		rulesMatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_matched_total",
			Help:      "Total number of rule matches.",
		}, []string{"rule_id"}),
		ruleErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_errors_total",
			Help:      "Total number of rule evaluations that failed closed.",
		}),
		quarantined: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_quarantined_total",
			Help:      "Total number of rules left out of a snapshot because they did not validate.",
		}),
		actionsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_executed_total",
			Help:      "Total number of executed actions by outcome.",
		}, []string{"type", "outcome"}),
		actionsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_dropped_total",
			Help:      "Total number of actions dropped because the queue was full.",
		}, []string{"type"}),
		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_messages_total",
			Help:      "Total number of messages delivered to subscribers.",
		}, []string{"type"}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_consumer_evictions_total",
			Help:      "Total number of connections closed for not draining their queue.",
		}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of live subscriber connections.",
		}),
		ruleSetVersion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rule_set_version",
			Help:      "Version of the active rule snapshot.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// EventDecoded counts a decoded event.
func (m *Metrics) EventDecoded(protocol, priority string) {
	if m != nil {
		m.eventsDecoded.WithLabelValues(protocol, priority).Inc()
	}
}

// DecodeFailed counts a rejected payload.
func (m *Metrics) DecodeFailed(protocol string) {
	if m != nil {
		m.decodeFailures.WithLabelValues(protocol).Inc()
	}
}

// RuleMatched counts a rule match.
func (m *Metrics) RuleMatched(ruleID string) {
	if m != nil {
		m.rulesMatched.WithLabelValues(ruleID).Inc()
	}
}

// RuleFailed counts a rule that failed closed.
func (m *Metrics) RuleFailed() {
	if m != nil {
		m.ruleErrors.Inc()
	}
}

// RuleQuarantined counts a rule left out of a snapshot.
func (m *Metrics) RuleQuarantined() {
	if m != nil {
		m.quarantined.Inc()
	}
}

// ActionExecuted counts an action run; outcome is "ok" or "error".
func (m *Metrics) ActionExecuted(actionType, outcome string) {
	if m != nil {
		m.actionsExecuted.WithLabelValues(actionType, outcome).Inc()
	}
}

// ActionDropped counts an action rejected by a full queue.
func (m *Metrics) ActionDropped(actionType string) {
	if m != nil {
		m.actionsDropped.WithLabelValues(actionType).Inc()
	}
}

// MessageBroadcast counts a message delivered to one subscriber.
func (m *Metrics) MessageBroadcast(messageType string) {
	if m != nil {
		m.broadcasts.WithLabelValues(messageType).Inc()
	}
}

// ConnectionEvicted counts a slow consumer disconnect.
func (m *Metrics) ConnectionEvicted() {
	if m != nil {
		m.evictions.Inc()
	}
}

// SetConnections records the number of live connections.
func (m *Metrics) SetConnections(n int) {
	if m != nil {
		m.connections.Set(float64(n))
	}
}

// SetRuleSetVersion records the active snapshot version.
func (m *Metrics) SetRuleSetVersion(v uint64) {
	if m != nil {
		m.ruleSetVersion.Set(float64(v))
	}
}
