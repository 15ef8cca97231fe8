// Package domain defines the core domain models for the pipeline orchestrator.
package domain

// Phase represents the lifecycle phase of a pipeline run.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhasePlanning         Phase = "planning"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseExecuting        Phase = "executing"
	PhaseComplete         Phase = "complete"
	PhaseError            Phase = "error"
)

// AllPhases returns every phase in lifecycle order.
func AllPhases() []Phase {
	return []Phase{PhaseIdle, PhasePlanning, PhaseAwaitingApproval, PhaseExecuting, PhaseComplete, PhaseError}
}

// IsTerminal reports whether the phase ends the current run.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// HasAgent reports whether a current agent must be set in this phase.
func (p Phase) HasAgent() bool {
	return p == PhasePlanning || p == PhaseExecuting
}

// RequiresPlan reports whether a plan must be present in this phase.
func (p Phase) RequiresPlan() bool {
	return p == PhaseAwaitingApproval || p == PhaseExecuting || p == PhaseComplete
}

// Outcome is the result of one agent's execution record.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeSkipped Outcome = "skipped"
)

// EventType represents the type of a journal event.
type EventType string

const (
	EventTypeRunStarted          EventType = "run_started"
	EventTypePlanProposed        EventType = "plan_proposed"
	EventTypePlanInvalid         EventType = "plan_invalid"
	EventTypePlanApproved        EventType = "plan_approved"
	EventTypeAgentTurnStarted    EventType = "agent_turn_started"
	EventTypeAgentTurnFinished   EventType = "agent_turn_finished"
	EventTypeToolCallApplied     EventType = "tool_call_applied"
	EventTypeToolCallRejected    EventType = "tool_call_rejected"
	EventTypeHandoff             EventType = "handoff"
	EventTypeRunComplete         EventType = "run_complete"
	EventTypeRunFailed           EventType = "run_failed"
	EventTypeRunReset            EventType = "run_reset"
	EventTypeActionRecorded      EventType = "action_recorded"
	EventTypeActionBlocked       EventType = "action_blocked"
	EventTypeAgentReplyMalformed EventType = "agent_reply_malformed"
)

// ActionType categorizes side effects an agent asks the caller to perform.
type ActionType string

const (
	ActionWriteFile ActionType = "write_file"
	ActionInstall   ActionType = "install"
	ActionShell     ActionType = "shell"
)

// PolicyDecision is the verdict of the action policy.
type PolicyDecision string

const (
	DecisionAllow PolicyDecision = "allow"
	DecisionBlock PolicyDecision = "block"
)
