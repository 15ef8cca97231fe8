package engine

import (
	"context"
	"strings"
	"time"

	"github.com/xiaot623/appforge/internal/domain"
	"github.com/xiaot623/appforge/internal/tools"
)

// Turn is everything the driver needs to invoke the current agent once.
// A turn stays current until the run, its phase, its current agent, its
// step count or the agent's open history record changes.
type Turn struct {
	RunID   string
	Phase   domain.Phase
	Step    int
	Agent   domain.AgentDescriptor
	Context domain.InvocationContext

	record int
}

// check reports whether t is still the turn in progress in s.
func (t Turn) check(s *domain.State) *domain.Error {
	if s.RunID != t.RunID {
		return staleRun(t.RunID)
	}
	if s.Phase != t.Phase || s.CurrentAgent != t.Agent.ID || s.Steps != t.Step ||
		s.OpenRecord() == nil || len(s.History)-1 != t.record {
		return domain.Errorf(domain.KindStaleTurn, "turn %d of agent %s was superseded", t.Step, t.Agent.ID)
	}
	return nil
}

// RunContext returns the context of run runID. It is cancelled by reset,
// by a superseding start and by Shutdown.
func (e *Engine) RunContext(runID string) (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.RunID != runID || e.runCtx == nil {
		return nil, staleRun(runID)
	}
	return e.runCtx, nil
}

// BeginTurn consumes one step of the budget for the current agent of runID.
// Exceeding the budget fails the run.
func (e *Engine) BeginTurn(runID string) (Turn, error) {
	var turn Turn
	_, err := e.update(func(s *domain.State) effect {
		if s.RunID != runID {
			return effect{err: staleRun(runID)}
		}
		if !s.Phase.HasAgent() {
			return effect{err: domain.Errorf(domain.KindInvalidTransition, "no agent turn in phase %s", s.Phase)}
		}
		now := e.now()
		if s.Steps >= e.budget {
			fault := domain.Errorf(domain.KindStepBudgetExceeded, "run used all %d agent turns", e.budget)
			fault.Agent = s.CurrentAgent
			failLocked(s, fault, now)
			return effect{event: domain.EventTypeRunFailed, payload: fault, commit: true, err: fault}
		}
		desc, ok := e.cat.Get(s.CurrentAgent)
		if !ok {
			fault := domain.Errorf(domain.KindUnknownAgent, "agent %q is not in the catalog", s.CurrentAgent)
			failLocked(s, fault, now)
			return effect{event: domain.EventTypeRunFailed, payload: fault, commit: true, err: fault}
		}

		s.Steps++
		rec := s.EnsureRecord(desc.ID, now)
		rec.Turns++

		turn = Turn{
			RunID:  s.RunID,
			Phase:  s.Phase,
			Step:   s.Steps,
			Agent:  desc,
			record: len(s.History) - 1,
			Context: domain.InvocationContext{
				UserRequest: s.UserRequest,
				Plan:        s.Plan.Clone(),
				FinalStage:  e.cat.IsLast(desc.ID),
				Transcript:  transcript(s),
			},
		}
		if next, ok := e.cat.Next(desc.ID); ok {
			turn.Context.NextAgent = next.ID
		}
		return effect{
			event:   domain.EventTypeAgentTurnStarted,
			payload: map[string]interface{}{"agent": desc.ID, "step": s.Steps, "phase": s.Phase},
			commit:  true,
		}
	})
	return turn, err
}

// RecordTurn stores the narration an agent produced in turn. It fails with
// stale_turn when the turn was superseded while the agent was working.
func (e *Engine) RecordTurn(turn Turn, narration string, malformed bool) error {
	_, err := e.update(func(s *domain.State) effect {
		if err := turn.check(s); err != nil {
			return effect{err: err}
		}
		agent := turn.Agent.ID
		rec := &s.History[turn.record]
		if narration = strings.TrimSpace(narration); narration != "" {
			rec.Narration = append(rec.Narration, narration)
		}
		event := domain.EventTypeAgentTurnFinished
		if malformed {
			event = domain.EventTypeAgentReplyMalformed
		}
		return effect{
			event:   event,
			payload: map[string]interface{}{"agent": agent, "narration": narration, "malformed": malformed},
			commit:  true,
		}
	})
	return err
}

// AcceptPlan records the architect's proposed plan. An invalid plan is
// retried once; the second invalid plan fails the run. The returned state
// tells the caller whether the run is still planning.
func (e *Engine) AcceptPlan(turn Turn, plan *domain.Plan) (domain.State, error) {
	return e.update(func(s *domain.State) effect {
		if turn.Phase != domain.PhasePlanning {
			return effect{err: domain.Errorf(domain.KindInvalidTransition, "plan is not expected in phase %s", turn.Phase)}
		}
		if err := turn.check(s); err != nil {
			return effect{err: err}
		}
		now := e.now()
		if err := plan.Validate(); err != nil {
			invalid := domain.AsError(err, domain.KindInvalidPlan)
			invalid.Agent = s.CurrentAgent
			s.PlanAttempts++
			if s.PlanAttempts >= 2 {
				failLocked(s, invalid, now)
				return effect{event: domain.EventTypeRunFailed, payload: invalid, commit: true, err: invalid}
			}
			return effect{event: domain.EventTypePlanInvalid, payload: invalid, commit: true, err: invalid}
		}

		s.PlanAttempts++
		s.EnsureRecord(s.CurrentAgent, now)
		s.FinishRecord(domain.OutcomeSuccess, now)
		s.Plan = plan.Clone()
		s.Phase = domain.PhaseAwaitingApproval
		s.CurrentAgent = ""
		return effect{event: domain.EventTypePlanProposed, payload: s.Plan, commit: true}
	})
}

// ApplyFromDriver applies one tool call the agent of turn emitted. A failing
// call is recorded in history and moves the run to error. Calls of a
// superseded turn fail with stale_turn and change nothing.
func (e *Engine) ApplyFromDriver(turn Turn, call domain.ToolCall) (domain.State, error) {
	return e.update(func(s *domain.State) effect {
		if err := turn.check(s); err != nil {
			return effect{err: err}
		}
		now := e.now()
		res, record, err := tools.Apply(*s, call, e.cat, now)
		if err == nil {
			*s = res.State
			return effect{event: eventFor(res), payload: res.Record, commit: true}
		}
		fault := domain.AsError(err, domain.KindInvalidParameters)
		rec := s.EnsureRecord(s.CurrentAgent, now)
		rec.ToolCalls = append(rec.ToolCalls, record)
		failLocked(s, fault, now)
		return effect{event: domain.EventTypeRunFailed, payload: record, commit: true, err: fault}
	})
}

// Fail moves the run of turn to error. A superseded turn fails with
// stale_turn and leaves the run alone.
func (e *Engine) Fail(turn Turn, fault *domain.Error) (domain.State, error) {
	return e.update(func(s *domain.State) effect {
		if err := turn.check(s); err != nil {
			return effect{err: err}
		}
		if fault.Agent == "" {
			fault.Agent = turn.Agent.ID
		}
		failLocked(s, fault, e.now())
		return effect{event: domain.EventTypeRunFailed, payload: fault, commit: true}
	})
}

func failLocked(s *domain.State, fault *domain.Error, now time.Time) {
	if s.OpenRecord() == nil && s.CurrentAgent != "" {
		s.EnsureRecord(s.CurrentAgent, now)
	}
	s.FinishRecord(domain.OutcomeFailure, now)
	s.Phase = domain.PhaseError
	s.CurrentAgent = ""
	s.PendingError = fault
}

func staleRun(runID string) *domain.Error {
	return domain.Errorf(domain.KindStaleRun, "run %s is no longer active", runID)
}

// transcript condenses history into the prior output shown to the next agent.
func transcript(s *domain.State) []domain.TurnRecord {
	var out []domain.TurnRecord
	for _, rec := range s.History {
		if rec.Outcome == domain.OutcomeSkipped {
			continue
		}
		if len(rec.Narration) == 0 && len(rec.ToolCalls) == 0 {
			continue
		}
		tr := domain.TurnRecord{
			Agent:     rec.Agent,
			Narration: strings.Join(rec.Narration, "\n"),
		}
		if len(rec.ToolCalls) > 0 {
			tr.ToolCalls = append([]domain.ToolCallRecord(nil), rec.ToolCalls...)
		}
		out = append(out, tr)
	}
	return out
}
