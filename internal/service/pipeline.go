package service

import (
	"go.uber.org/zap"

	"github.com/xiaot623/appforge/internal/domain"
)

// Start begins a new run and launches its architect turn.
func (s *Service) Start(userRequest string) (domain.State, error) {
	st, err := s.engine.Start(userRequest)
	if err != nil {
		return st, err
	}
	s.logger.Info("run started", zap.String("run_id", st.RunID))
	s.launch(st.RunID)
	return st, nil
}

// ApprovePlan approves the proposed plan, or plan when it is non-nil, and
// launches the execution agents.
func (s *Service) ApprovePlan(plan *domain.Plan) (domain.State, error) {
	st, err := s.engine.ApprovePlan(plan)
	if err != nil {
		return st, err
	}
	s.logger.Info("plan approved", zap.String("run_id", st.RunID), zap.Int("steps", len(st.Plan.Steps)))
	s.launch(st.RunID)
	return st, nil
}

// ToolCall applies a client-issued tool call.
func (s *Service) ToolCall(req domain.ToolCallRequest) (domain.State, error) {
	return s.engine.ToolCall(domain.ToolCall{Name: req.ToolName, Parameters: req.Parameters})
}

// GetState returns the current snapshot.
func (s *Service) GetState() domain.State {
	return s.engine.GetState()
}

// Snapshot returns the cached JSON encoding of the current snapshot.
func (s *Service) Snapshot() []byte {
	return s.engine.Snapshot()
}

// Reset discards the active run.
func (s *Service) Reset() domain.State {
	st := s.engine.Reset()
	s.logger.Info("pipeline reset")
	return st
}
