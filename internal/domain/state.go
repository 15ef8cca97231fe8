package domain

import (
	"fmt"
	"strings"
	"time"
)

// Plan is the architect's proposal for building the requested application.
type Plan struct {
	Summary string   `json:"summary"`
	Steps   []string `json:"steps"`
}

// Validate checks that the plan has a summary and at least one non-blank step.
func (p *Plan) Validate() error {
	if p == nil {
		return Errorf(KindInvalidPlan, "plan is required")
	}
	if strings.TrimSpace(p.Summary) == "" {
		return Errorf(KindInvalidPlan, "plan summary is empty")
	}
	if len(p.Steps) == 0 {
		return Errorf(KindInvalidPlan, "plan has no steps")
	}
	for i, step := range p.Steps {
		if strings.TrimSpace(step) == "" {
			return Errorf(KindInvalidPlan, "plan step %d is empty", i+1)
		}
	}
	return nil
}

// Clone returns a copy that shares no memory with p.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	steps := make([]string, len(p.Steps))
	copy(steps, p.Steps)
	return &Plan{Summary: p.Summary, Steps: steps}
}

// Transition is the phase/agent a tool call moved the run to.
type Transition struct {
	Phase Phase  `json:"phase"`
	Agent string `json:"agent,omitempty"`
}

// ToolCallRecord is one applied (or failed) tool call.
// Parameters and Result are never modified after the record is created.
type ToolCallRecord struct {
	ToolName          string                 `json:"tool_name"`
	Parameters        map[string]interface{} `json:"parameters"`
	Result            map[string]interface{} `json:"result,omitempty"`
	Error             *Error                 `json:"error,omitempty"`
	AppliedTransition *Transition            `json:"applied_transition,omitempty"`
	AppliedAt         time.Time              `json:"applied_at"`
}

// ExecutionRecord tracks one stint of an agent being current.
type ExecutionRecord struct {
	Agent      string           `json:"agent"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	ToolCalls  []ToolCallRecord `json:"tool_calls"`
	Outcome    Outcome          `json:"outcome,omitempty"`
	Turns      int              `json:"turns"`
	Narration  []string         `json:"narration,omitempty"`
}

// IsOpen reports whether the record is still accepting tool calls.
func (r *ExecutionRecord) IsOpen() bool {
	return r.FinishedAt == nil
}

// State is the single authoritative record of a pipeline run.
type State struct {
	RunID        string            `json:"run_id,omitempty"`
	Version      uint64            `json:"version"`
	Phase        Phase             `json:"phase"`
	CurrentAgent string            `json:"current_agent,omitempty"`
	UserRequest  string            `json:"user_request,omitempty"`
	Plan         *Plan             `json:"plan,omitempty"`
	History      []ExecutionRecord `json:"history"`
	PendingError *Error            `json:"pending_error,omitempty"`
	Steps        int               `json:"steps"`
	PlanAttempts int               `json:"plan_attempts"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// IdleState returns the state of an engine with no run.
func IdleState() State {
	return State{
		Phase:   PhaseIdle,
		History: []ExecutionRecord{},
	}
}

// Clone returns a deep copy. Tool call parameter and result maps are
// shared because they are immutable once recorded.
func (s State) Clone() State {
	out := s
	out.Plan = s.Plan.Clone()
	if s.PendingError != nil {
		e := *s.PendingError
		out.PendingError = &e
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	out.History = make([]ExecutionRecord, len(s.History))
	for i, rec := range s.History {
		cp := rec
		if rec.FinishedAt != nil {
			t := *rec.FinishedAt
			cp.FinishedAt = &t
		}
		cp.ToolCalls = make([]ToolCallRecord, len(rec.ToolCalls))
		copy(cp.ToolCalls, rec.ToolCalls)
		if rec.Narration != nil {
			cp.Narration = make([]string, len(rec.Narration))
			copy(cp.Narration, rec.Narration)
		}
		out.History[i] = cp
	}
	return out
}

// OpenRecord returns the trailing record if it is still open.
func (s *State) OpenRecord() *ExecutionRecord {
	if len(s.History) == 0 {
		return nil
	}
	last := &s.History[len(s.History)-1]
	if !last.IsOpen() {
		return nil
	}
	return last
}

// EnsureRecord returns the open record for agent, opening a new one if the
// trailing record is closed or belongs to another agent.
func (s *State) EnsureRecord(agent string, now time.Time) *ExecutionRecord {
	if rec := s.OpenRecord(); rec != nil {
		if rec.Agent == agent {
			return rec
		}
		s.FinishRecord(OutcomeSuccess, now)
	}
	s.History = append(s.History, ExecutionRecord{
		Agent:     agent,
		StartedAt: now,
		ToolCalls: []ToolCallRecord{},
	})
	return &s.History[len(s.History)-1]
}

// FinishRecord closes the open record, if any, with the given outcome.
func (s *State) FinishRecord(outcome Outcome, now time.Time) {
	rec := s.OpenRecord()
	if rec == nil {
		return
	}
	t := now
	rec.FinishedAt = &t
	rec.Outcome = outcome
}

// AppendSkipped records an agent that was explicitly skipped.
func (s *State) AppendSkipped(agent string, now time.Time) {
	t := now
	s.History = append(s.History, ExecutionRecord{
		Agent:      agent,
		StartedAt:  now,
		FinishedAt: &t,
		ToolCalls:  []ToolCallRecord{},
		Outcome:    OutcomeSkipped,
	})
}

// CheckInvariants verifies the phase/plan/agent relationships of a state.
func (s *State) CheckInvariants() error {
	if s.Phase.RequiresPlan() && s.Plan == nil {
		return fmt.Errorf("phase %s requires a plan", s.Phase)
	}
	if s.Phase.HasAgent() && s.CurrentAgent == "" {
		return fmt.Errorf("phase %s requires a current agent", s.Phase)
	}
	if !s.Phase.HasAgent() && s.CurrentAgent != "" {
		return fmt.Errorf("phase %s must not have a current agent (got %s)", s.Phase, s.CurrentAgent)
	}
	if s.Phase == PhaseError && s.PendingError == nil {
		return fmt.Errorf("error phase without pending error")
	}
	if s.Phase != PhaseError && s.PendingError != nil {
		return fmt.Errorf("pending error outside error phase")
	}
	for i := 0; i < len(s.History)-1; i++ {
		if s.History[i].IsOpen() {
			return fmt.Errorf("history entry %d is open but not last", i)
		}
	}
	return nil
}
