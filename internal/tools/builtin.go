package tools

import (
	"strings"
	"time"

	"github.com/xiaot623/appforge/internal/catalog"
	"github.com/xiaot623/appforge/internal/domain"
)

// Result is the outcome of a successfully applied tool call.
type Result struct {
	State   domain.State
	Record  domain.ToolCallRecord
	Spec    Spec
	From    string
	To      string
	Skipped []string
	Fatal   bool
}

// Apply runs call against a copy of state. The input is never modified.
// On error the returned record carries the failure so callers that journal
// rejected calls can keep it.
func Apply(state domain.State, call domain.ToolCall, cat *catalog.Catalog, now time.Time) (Result, domain.ToolCallRecord, error) {
	record := domain.ToolCallRecord{
		ToolName:   call.Name,
		Parameters: copyParams(call.Parameters),
		AppliedAt:  now,
	}
	fail := func(err *domain.Error) (Result, domain.ToolCallRecord, error) {
		if err.Agent == "" {
			err.Agent = state.CurrentAgent
		}
		record.Error = err
		return Result{}, record, err
	}

	spec, err := Parse(call.Name)
	if err != nil {
		return fail(domain.AsError(err, domain.KindUnknownTool))
	}
	// While planning only reports take effect. Handoffs are still checked
	// against pipeline order so an out-of-order request is reported as such.
	planning := state.Phase == domain.PhasePlanning
	if state.Phase != domain.PhaseExecuting && !planning {
		return fail(domain.Errorf(domain.KindInvalidTransition, "tool %s cannot be applied in phase %s", call.Name, state.Phase))
	}

	next := state.Clone()
	res := Result{Spec: spec, From: state.CurrentAgent}

	switch spec.Kind {
	case KindHandoff:
		e := applyHandoff(&next, spec, &record, &res, cat, now)
		if e != nil {
			return fail(e)
		}
	case KindComplete:
		e := applyComplete(&next, &record, cat, now)
		if e != nil {
			return fail(e)
		}
	case KindReport:
		e := applyReport(&next, spec, &record, &res, now)
		if e != nil {
			return fail(e)
		}
	default:
		return fail(domain.Errorf(domain.KindUnknownTool, "tool %q has no handler", call.Name))
	}

	if planning && spec.Kind != KindReport {
		return fail(domain.Errorf(domain.KindInvalidTransition, "tool %s requires an approved plan", call.Name))
	}

	res.State = next
	res.Record = record
	return res, record, nil
}

func applyHandoff(s *domain.State, spec Spec, record *domain.ToolCallRecord, res *Result, cat *catalog.Catalog, now time.Time) *domain.Error {
	params := record.Parameters
	target := spec.Target
	if target == "" {
		to, err := stringParam(params, "to", true)
		if err != nil {
			return err
		}
		target = to
	}
	if _, ok := cat.Get(target); !ok {
		return domain.Errorf(domain.KindUnknownAgent, "agent %q is not in the catalog", target)
	}
	skip, err := stringSliceParam(params, "skip")
	if err != nil {
		return err
	}
	summary, err := stringParam(params, "summary", false)
	if err != nil {
		return err
	}

	from := s.CurrentAgent
	between := cat.Between(from, target)
	listed := make(map[string]bool, len(skip))
	for _, id := range skip {
		listed[id] = true
	}
	var missing []string
	for _, id := range between {
		if !listed[id] {
			missing = append(missing, id)
		}
		delete(listed, id)
	}
	if len(missing) > 0 {
		return domain.Errorf(domain.KindOutOfOrderHandoff, "handoff from %s to %s skips %s", from, target, strings.Join(missing, ", "))
	}
	if len(listed) > 0 {
		return domain.Errorf(domain.KindInvalidParameters, "skip lists agents that are not between %s and %s", from, target)
	}

	record.Result = map[string]interface{}{"from": from, "to": target}
	if len(between) > 0 {
		record.Result["skipped"] = between
	}
	if summary != "" {
		record.Result["summary"] = summary
	}
	record.AppliedTransition = &domain.Transition{Phase: domain.PhaseExecuting, Agent: target}

	rec := s.EnsureRecord(from, now)
	rec.ToolCalls = append(rec.ToolCalls, *record)
	s.FinishRecord(domain.OutcomeSuccess, now)
	for _, id := range between {
		s.AppendSkipped(id, now)
	}
	s.CurrentAgent = target

	res.To = target
	res.Skipped = between
	return nil
}

func applyComplete(s *domain.State, record *domain.ToolCallRecord, cat *catalog.Catalog, now time.Time) *domain.Error {
	if !cat.IsLast(s.CurrentAgent) {
		return domain.Errorf(domain.KindOutOfOrderHandoff, "%s may only be called by %s, current agent is %s",
			record.ToolName, cat.Last().ID, s.CurrentAgent)
	}
	url, err := stringParam(record.Parameters, "url", false)
	if err != nil {
		return err
	}
	summary, err := stringParam(record.Parameters, "summary", false)
	if err != nil {
		return err
	}
	record.Result = map[string]interface{}{"completed": true}
	if url != "" {
		record.Result["url"] = url
	}
	if summary != "" {
		record.Result["summary"] = summary
	}
	record.AppliedTransition = &domain.Transition{Phase: domain.PhaseComplete}

	rec := s.EnsureRecord(s.CurrentAgent, now)
	rec.ToolCalls = append(rec.ToolCalls, *record)
	s.FinishRecord(domain.OutcomeSuccess, now)
	s.Phase = domain.PhaseComplete
	s.CurrentAgent = ""
	return nil
}

func applyReport(s *domain.State, spec Spec, record *domain.ToolCallRecord, res *Result, now time.Time) *domain.Error {
	params := record.Parameters
	var (
		key      string
		required bool
	)
	switch spec.Name {
	case "report_blocker":
		key, required = "reason", true
	case "request_clarification":
		key, required = "question", true
	default:
		key = "message"
	}
	text, err := stringParam(params, key, required)
	if err != nil {
		return err
	}
	fatal, err := boolParam(params, "fatal")
	if err != nil {
		return err
	}

	agent := s.CurrentAgent
	record.Result = map[string]interface{}{"recorded": true}
	if text != "" {
		record.Result[key] = text
	}
	if fatal {
		record.Result["fatal"] = true
		record.AppliedTransition = &domain.Transition{Phase: domain.PhaseError}
	}

	rec := s.EnsureRecord(agent, now)
	rec.ToolCalls = append(rec.ToolCalls, *record)

	if fatal {
		blocked := domain.Errorf(domain.KindAgentBlocked, "%s: %s", spec.Name, text)
		blocked.Agent = agent
		s.FinishRecord(domain.OutcomeFailure, now)
		s.Phase = domain.PhaseError
		s.CurrentAgent = ""
		s.PendingError = blocked
		res.Fatal = true
	}
	return nil
}

func copyParams(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func stringParam(params map[string]interface{}, key string, required bool) (string, *domain.Error) {
	v, ok := params[key]
	if !ok || v == nil {
		if required {
			return "", domain.Errorf(domain.KindInvalidParameters, "parameter %q is required", key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", domain.Errorf(domain.KindInvalidParameters, "parameter %q must be a string", key)
	}
	s = strings.TrimSpace(s)
	if required && s == "" {
		return "", domain.Errorf(domain.KindInvalidParameters, "parameter %q must not be empty", key)
	}
	return s, nil
}

func boolParam(params map[string]interface{}, key string) (bool, *domain.Error) {
	v, ok := params[key]
	if !ok || v == nil {
		return false, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(b) {
		case "true":
			return true, nil
		case "false", "":
			return false, nil
		}
	}
	return false, domain.Errorf(domain.KindInvalidParameters, "parameter %q must be a boolean", key)
}

func stringSliceParam(params map[string]interface{}, key string) ([]string, *domain.Error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, domain.Errorf(domain.KindInvalidParameters, "parameter %q must be a list of agent ids", key)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		if list == "" {
			return nil, nil
		}
		parts := strings.Split(list, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
	return nil, domain.Errorf(domain.KindInvalidParameters, "parameter %q must be a list, got %T", key, v)
}
