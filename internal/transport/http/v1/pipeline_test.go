package v1

import (
	"context"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/appforge/internal/domain"
)

func TestStartValidation(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t, pipelineBackend)

	c, rec := newContext(e, http.MethodPost, "/v1/pipeline/start", `{"user_request":"  "}`)
	require.NoError(t, h.Start(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, kindInvalidRequest, decodeError(t, rec).Kind)

	c, rec = newContext(e, http.MethodPost, "/v1/pipeline/start", `{"user_request":`)
	require.NoError(t, h.Start(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPipelineOverHTTP(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t, pipelineBackend)

	c, rec := newContext(e, http.MethodPost, "/v1/pipeline/start", `{"user_request":"build a todo app"}`)
	require.NoError(t, h.Start(c))
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeState(t, rec)
	assert.Equal(t, domain.PhasePlanning, st.Phase)
	assert.Equal(t, domain.AgentArchitect, st.CurrentAgent)
	runID := st.RunID

	waitForPhase(t, svc, domain.PhaseAwaitingApproval)

	// A deploy before approval is rejected and changes nothing.
	before := string(svc.Snapshot())
	c, rec = newContext(e, http.MethodPost, "/v1/pipeline/tool_calls", `{"tool_name":"deploy"}`)
	require.NoError(t, h.ToolCall(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, domain.KindInvalidTransition, decodeError(t, rec).Kind)
	assert.Equal(t, before, string(svc.Snapshot()))

	c, rec = newContext(e, http.MethodPost, "/v1/pipeline/approve", "")
	require.NoError(t, h.ApprovePlan(c))
	require.Equal(t, http.StatusOK, rec.Code)
	st = decodeState(t, rec)
	assert.Equal(t, domain.PhaseExecuting, st.Phase)
	assert.Equal(t, "Todo app", st.Plan.Summary)

	waitForPhase(t, svc, domain.PhaseComplete)

	c, rec = newContext(e, http.MethodGet, "/v1/pipeline/state", "")
	require.NoError(t, h.GetState(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-Poll-Interval"))
	st = decodeState(t, rec)
	assert.Equal(t, runID, st.RunID)
	assert.Equal(t, domain.PhaseComplete, st.Phase)
	assert.Len(t, st.History, 6)
}

func TestApprovePlanWithEditedPlan(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t, pipelineBackend)

	_, err := svc.Start("build a todo app")
	require.NoError(t, err)
	waitForPhase(t, svc, domain.PhaseAwaitingApproval)

	c, rec := newContext(e, http.MethodPost, "/v1/pipeline/approve", `{"summary":"Edited","steps":[""]}`)
	require.NoError(t, h.ApprovePlan(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.KindInvalidPlan, decodeError(t, rec).Kind)
	assert.Equal(t, domain.PhaseAwaitingApproval, svc.GetState().Phase)

	c, rec = newContext(e, http.MethodPost, "/v1/pipeline/approve", `{"summary":"Edited","steps":["api only"]}`)
	require.NoError(t, h.ApprovePlan(c))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Edited", decodeState(t, rec).Plan.Summary)
}

func TestStartDuringActiveRunConflicts(t *testing.T) {
	e := echo.New()
	block := make(chan struct{})
	h, svc := newTestHandler(t, func(ctx context.Context, inv domain.Invocation) (string, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return "", ctx.Err()
	})
	defer close(block)

	_, err := svc.Start("first")
	require.NoError(t, err)

	c, rec := newContext(e, http.MethodPost, "/v1/pipeline/start", `{"user_request":"second"}`)
	require.NoError(t, h.Start(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, domain.KindRunConflict, decodeError(t, rec).Kind)
}

func TestUnknownToolAndReset(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t, pipelineBackend)

	c, rec := newContext(e, http.MethodPost, "/v1/pipeline/tool_calls", `{"tool_name":"summon_dragon"}`)
	require.NoError(t, h.ToolCall(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.KindUnknownTool, decodeError(t, rec).Kind)

	c, rec = newContext(e, http.MethodPost, "/v1/pipeline/tool_calls", `{}`)
	require.NoError(t, h.ToolCall(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, err := svc.Start("build a todo app")
	require.NoError(t, err)
	waitForPhase(t, svc, domain.PhaseAwaitingApproval)

	c, rec = newContext(e, http.MethodPost, "/v1/pipeline/reset", "")
	require.NoError(t, h.Reset(c))
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeState(t, rec)
	assert.Equal(t, domain.PhaseIdle, st.Phase)
	assert.Empty(t, st.RunID)
	assert.Empty(t, st.History)
	assert.Nil(t, st.Plan)
}
