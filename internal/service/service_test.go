package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xiaot623/appforge/internal/domain"
	"github.com/xiaot623/appforge/internal/driver"
	"github.com/xiaot623/appforge/internal/metrics"
	"github.com/xiaot623/appforge/policy"
	"github.com/xiaot623/appforge/tests/helpers"
)

func scriptedBackend(ctx context.Context, inv domain.Invocation) (string, error) {
	switch {
	case inv.Agent.ID == domain.AgentArchitect:
		return `{"narration":"plan ready","plan":{"summary":"Todo app","steps":["api","ui","deploy"]}}`, nil
	case inv.Context.FinalStage:
		return `{"narration":"shipped","tool_calls":[{"name":"deploy","parameters":{"url":"https://todo.example.com"}}],` +
			`"actions":[{"type":"shell","command":"rm -rf /"}]}`, nil
	default:
		return `{"narration":"done","tool_calls":[{"name":"handoff","parameters":{"to":"` + inv.Context.NextAgent + `"}}],` +
			`"actions":[{"type":"write_file","path":"` + inv.Agent.ID + `/main.go","content":"package main"}]}`, nil
	}
}

func newTestService(t *testing.T, backend driver.BackendFunc) (*Service, *metrics.Metrics) {
	t.Helper()
	pe, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())
	svc := New(Options{
		Store:        helpers.NewTestSQLiteStore(t),
		Policy:       pe,
		Metrics:      m,
		Backend:      backend,
		AgentTimeout: time.Second,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc, m
}

func waitForPhase(t *testing.T, svc *Service, phase domain.Phase) domain.State {
	t.Helper()
	require.Eventually(t, func() bool {
		return svc.GetState().Phase == phase
	}, 2*time.Second, 5*time.Millisecond, "phase never became %s", phase)
	return svc.GetState()
}

func TestServiceRunsPipelineAndJournals(t *testing.T) {
	ctx := context.Background()
	svc, m := newTestService(t, scriptedBackend)

	st, err := svc.Start("build a todo app")
	require.NoError(t, err)
	runID := st.RunID

	st = waitForPhase(t, svc, domain.PhaseAwaitingApproval)
	assert.Equal(t, "Todo app", st.Plan.Summary)

	_, err = svc.ApprovePlan(&domain.Plan{Summary: "Todo app (edited)", Steps: []string{"api", "ui"}})
	require.NoError(t, err)
	st = waitForPhase(t, svc, domain.PhaseComplete)
	assert.Equal(t, "Todo app (edited)", st.Plan.Summary)
	require.NoError(t, svc.Shutdown(ctx))

	run, err := svc.GetRun(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, domain.PhaseComplete, run.Phase)
	assert.NotNil(t, run.EndedAt)
	assert.Equal(t, st.Steps, run.Steps)

	events, err := svc.GetEvents(ctx, runID, 0, nil, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventTypeRunStarted, events[0].Type)
	types := map[domain.EventType]int{}
	for i, e := range events {
		types[e.Type]++
		if i > 0 {
			assert.GreaterOrEqual(t, e.Version, events[i-1].Version)
		}
	}
	assert.Equal(t, 1, types[domain.EventTypePlanProposed])
	assert.Equal(t, 1, types[domain.EventTypePlanApproved])
	assert.Equal(t, 4, types[domain.EventTypeHandoff])
	assert.Equal(t, 1, types[domain.EventTypeRunComplete])
	assert.Equal(t, 4, types[domain.EventTypeActionRecorded])
	assert.Equal(t, 1, types[domain.EventTypeActionBlocked])

	artifacts, err := svc.ListArtifacts(ctx, runID)
	require.NoError(t, err)
	require.Len(t, artifacts, 5)
	blocked := artifacts[4]
	assert.Equal(t, domain.AgentDevOps, blocked.Agent)
	assert.Equal(t, domain.DecisionBlock, blocked.Decision)
	assert.NotEmpty(t, blocked.Reason)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Phase.WithLabelValues(string(domain.PhaseComplete))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("deploy", "applied")))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.AgentInvocations.WithLabelValues(domain.AgentArchitect, "success"))+
		testutil.ToFloat64(m.AgentInvocations.WithLabelValues(domain.AgentBackend, "success"))+
		testutil.ToFloat64(m.AgentInvocations.WithLabelValues(domain.AgentFrontend, "success"))+
		testutil.ToFloat64(m.AgentInvocations.WithLabelValues(domain.AgentIntegrator, "success"))+
		testutil.ToFloat64(m.AgentInvocations.WithLabelValues(domain.AgentQA, "success"))+
		testutil.ToFloat64(m.AgentInvocations.WithLabelValues(domain.AgentDevOps, "success")))
}

func TestServiceRejectedToolCallIsJournaled(t *testing.T) {
	ctx := context.Background()
	svc, m := newTestService(t, scriptedBackend)

	st, err := svc.Start("build a todo app")
	require.NoError(t, err)
	runID := st.RunID
	before := waitForPhase(t, svc, domain.PhaseAwaitingApproval)

	_, err = svc.ToolCall(domain.ToolCallRequest{ToolName: "deploy"})
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidTransition, domain.KindOf(err))
	assert.Equal(t, before.Version, svc.GetState().Version)

	events, err := svc.GetEvents(ctx, runID, 0, []string{string(domain.EventTypeToolCallRejected)}, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0].Payload), `"tool_name":"deploy"`)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("deploy", "rejected")))
}

func TestServiceResetEndsJournaledRun(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, scriptedBackend)

	st, err := svc.Start("build a todo app")
	require.NoError(t, err)
	runID := st.RunID
	waitForPhase(t, svc, domain.PhaseAwaitingApproval)

	st = svc.Reset()
	assert.Equal(t, domain.PhaseIdle, st.Phase)
	assert.Empty(t, st.History)

	run, err := svc.GetRun(ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, domain.PhaseAwaitingApproval, run.Phase)
	assert.NotNil(t, run.EndedAt)

	events, err := svc.GetEvents(ctx, runID, 0, []string{string(domain.EventTypeRunReset)}, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	runs, err := svc.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestServiceBackendFailureFailsRun(t *testing.T) {
	svc, m := newTestService(t, func(ctx context.Context, inv domain.Invocation) (string, error) {
		return "", assert.AnError
	})

	_, err := svc.Start("build a todo app")
	require.NoError(t, err)
	st := waitForPhase(t, svc, domain.PhaseError)
	require.NotNil(t, st.PendingError)
	assert.Equal(t, domain.KindAgentInvocation, st.PendingError.Kind)
	assert.Equal(t, domain.AgentArchitect, st.PendingError.Agent)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AgentInvocations.WithLabelValues(domain.AgentArchitect, "error")))
}

func TestServiceCatalogQueries(t *testing.T) {
	svc, _ := newTestService(t, scriptedBackend)

	agents := svc.ListAgents()
	require.Len(t, agents, 6)
	assert.Equal(t, domain.AgentArchitect, agents[0].ID)

	desc, err := svc.GetAgent(domain.AgentQA)
	require.NoError(t, err)
	assert.Equal(t, domain.AgentQA, desc.ID)

	_, err = svc.GetAgent("designer")
	assert.Equal(t, domain.KindUnknownAgent, domain.KindOf(err))

	assert.Len(t, svc.ListTools(), 11)
}

func TestServiceTracesDriverTurns(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	pe, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	svc := New(Options{
		Store:        helpers.NewTestSQLiteStore(t),
		Policy:       pe,
		Metrics:      metrics.New(prometheus.NewRegistry()),
		Backend:      driver.BackendFunc(scriptedBackend),
		AgentTimeout: time.Second,
		Tracer:       tp.Tracer(driver.TracerName),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	_, err = svc.Start("build a todo app")
	require.NoError(t, err)
	waitForPhase(t, svc, domain.PhaseAwaitingApproval)

	require.Eventually(t, func() bool {
		return len(recorder.Ended()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	span := recorder.Ended()[0]
	assert.Equal(t, "agent.turn", span.Name())
	assert.Equal(t, driver.TracerName, span.InstrumentationScope().Name)
}
