package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindInvalidPlan        ErrorKind = "invalid_plan"
	KindUnknownTool        ErrorKind = "unknown_tool"
	KindOutOfOrderHandoff  ErrorKind = "out_of_order_handoff"
	KindAgentInvocation    ErrorKind = "agent_invocation"
	KindStepBudgetExceeded ErrorKind = "step_budget_exceeded"
	KindInvalidTransition  ErrorKind = "invalid_transition"
	KindRunConflict        ErrorKind = "run_conflict"
	KindInvalidParameters  ErrorKind = "invalid_parameters"
	KindUnknownAgent       ErrorKind = "unknown_agent"
	KindAgentBlocked       ErrorKind = "agent_blocked"
	KindStaleRun           ErrorKind = "stale_run"
	KindStaleTurn          ErrorKind = "stale_turn"
)

// Error is a structured pipeline error. It doubles as the pending error
// surfaced in a snapshot when the run is in the error phase.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Agent   string    `json:"agent,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	if e.Agent != "" {
		return fmt.Sprintf("%s: %s (agent %s)", e.Kind, e.Message, e.Agent)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidPlan        = &Error{Kind: KindInvalidPlan}
	ErrUnknownTool        = &Error{Kind: KindUnknownTool}
	ErrOutOfOrderHandoff  = &Error{Kind: KindOutOfOrderHandoff}
	ErrAgentInvocation    = &Error{Kind: KindAgentInvocation}
	ErrStepBudgetExceeded = &Error{Kind: KindStepBudgetExceeded}
	ErrInvalidTransition  = &Error{Kind: KindInvalidTransition}
	ErrRunConflict        = &Error{Kind: KindRunConflict}
	ErrInvalidParameters  = &Error{Kind: KindInvalidParameters}
	ErrUnknownAgent       = &Error{Kind: KindUnknownAgent}
	ErrAgentBlocked       = &Error{Kind: KindAgentBlocked}
	ErrStaleRun           = &Error{Kind: KindStaleRun}
	ErrStaleTurn          = &Error{Kind: KindStaleTurn}
)

// Errorf builds a structured error of the given kind.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind of a structured error, or "" if err is not one.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// AsError converts any error into a structured one, defaulting to fallback.
func AsError(err error, fallback ErrorKind) *Error {
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		return &cp
	}
	return &Error{Kind: fallback, Message: err.Error()}
}
