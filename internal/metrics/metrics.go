// Package metrics provides Prometheus metrics for the pipeline engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xiaot623/appforge/internal/domain"
)

const namespace = "appforge"

// Metrics holds the collectors of one process. They are registered on the
// Registerer passed to New so tests can use a private registry.
type Metrics struct {
	// Transitions counts committed transitions.
	// Labels: event, phase (the phase after the transition)
	Transitions *prometheus.CounterVec

	// ToolCalls counts applied and rejected tool calls.
	// Labels: tool, result (applied, rejected)
	ToolCalls *prometheus.CounterVec

	// AgentInvocations counts backend calls.
	// Labels: agent, result (success, error)
	AgentInvocations *prometheus.CounterVec

	// AgentLatency tracks how long backend calls take.
	AgentLatency *prometheus.HistogramVec

	// Actions counts agent actions by policy decision.
	// Labels: type, decision
	Actions *prometheus.CounterVec

	// Phase is 1 for the engine's current phase and 0 for the others.
	Phase *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "transitions_total",
				Help:      "Total number of committed state transitions",
			},
			[]string{"event", "phase"},
		),
		ToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "tool_calls_total",
				Help:      "Total number of tool calls by outcome",
			},
			[]string{"tool", "result"},
		),
		AgentInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "driver",
				Name:      "agent_invocations_total",
				Help:      "Total number of agent backend invocations",
			},
			[]string{"agent", "result"},
		),
		AgentLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "driver",
				Name:      "agent_invocation_duration_seconds",
				Help:      "Duration of agent backend invocations in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"agent"},
		),
		Actions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "policy",
				Name:      "actions_total",
				Help:      "Total number of agent actions by policy decision",
			},
			[]string{"type", "decision"},
		),
		Phase: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "phase",
				Help:      "Current pipeline phase (1=current)",
			},
			[]string{"phase"},
		),
	}
	m.setPhase(domain.PhaseIdle)
	return m
}

// ObserveChange updates the engine metrics from one change.
func (m *Metrics) ObserveChange(change domain.Change) {
	if record, ok := change.Payload.(domain.ToolCallRecord); ok {
		result := "applied"
		if change.Type == domain.EventTypeToolCallRejected {
			result = "rejected"
		}
		m.ToolCalls.WithLabelValues(record.ToolName, result).Inc()
	}
	if change.Type == domain.EventTypeToolCallRejected {
		return
	}
	m.Transitions.WithLabelValues(string(change.Type), string(change.After.Phase)).Inc()
	m.setPhase(change.After.Phase)
}

// ObserveInvocation records one backend call.
func (m *Metrics) ObserveInvocation(agent, result string, elapsed time.Duration) {
	m.AgentInvocations.WithLabelValues(agent, result).Inc()
	m.AgentLatency.WithLabelValues(agent).Observe(elapsed.Seconds())
}

// ObserveAction records one policy decision.
func (m *Metrics) ObserveAction(action domain.ActionType, decision domain.PolicyDecision) {
	m.Actions.WithLabelValues(string(action), string(decision)).Inc()
}

func (m *Metrics) setPhase(current domain.Phase) {
	for _, p := range domain.AllPhases() {
		v := 0.0
		if p == current {
			v = 1
		}
		m.Phase.WithLabelValues(string(p)).Set(v)
	}
}
