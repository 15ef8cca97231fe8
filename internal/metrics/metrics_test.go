package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/xiaot623/appforge/internal/domain"
)

func TestObserveChange(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveChange(domain.Change{
		Type:  domain.EventTypeRunStarted,
		After: domain.State{Phase: domain.PhasePlanning},
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("run_started", "planning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Phase.WithLabelValues("planning")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Phase.WithLabelValues("idle")))

	m.ObserveChange(domain.Change{
		Type:    domain.EventTypeHandoff,
		After:   domain.State{Phase: domain.PhaseExecuting},
		Payload: domain.ToolCallRecord{ToolName: "handoff_to_frontend"},
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("handoff_to_frontend", "applied")))

	m.ObserveChange(domain.Change{
		Type:    domain.EventTypeToolCallRejected,
		After:   domain.State{Phase: domain.PhaseExecuting},
		Payload: domain.ToolCallRecord{ToolName: "deploy"},
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("deploy", "rejected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Transitions.WithLabelValues("tool_call_rejected", "executing")))
}

func TestObserveInvocationAndAction(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveInvocation("backend", "success", 250*time.Millisecond)
	m.ObserveInvocation("backend", "error", time.Second)
	m.ObserveAction(domain.ActionShell, domain.DecisionBlock)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AgentInvocations.WithLabelValues("backend", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AgentInvocations.WithLabelValues("backend", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Actions.WithLabelValues("shell", "block")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.AgentLatency))
}
