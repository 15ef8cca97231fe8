package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/appforge/internal/domain"
)

// HandleActions implements driver.ActionSink. Each action is checked against
// the action policy and journaled as an artifact; nothing is executed here.
// A policy evaluation error blocks the action.
func (s *Service) HandleActions(ctx context.Context, runID, agent string, actions []domain.Action) {
	for _, action := range actions {
		decision := domain.DecisionAllow
		reason := ""
		if s.policy != nil {
			var err error
			decision, reason, err = s.policy.EvaluateAction(ctx, runID, agent, action)
			if err != nil {
				s.logger.Error("policy evaluation failed", zap.String("run_id", runID), zap.Error(err))
				decision, reason = domain.DecisionBlock, "policy evaluation failed: "+err.Error()
			}
		}
		if s.metrics != nil {
			s.metrics.ObserveAction(action.Type, decision)
		}

		artifact := &domain.Artifact{
			ArtifactID: "art_" + uuid.New().String(),
			RunID:      runID,
			Agent:      agent,
			Action:     action,
			Decision:   decision,
			Reason:     reason,
			CreatedAt:  time.Now(),
		}
		if decision == domain.DecisionBlock {
			s.logger.Warn("action blocked",
				zap.String("run_id", runID),
				zap.String("agent", agent),
				zap.String("type", string(action.Type)),
				zap.String("reason", reason),
			)
		}
		s.journalArtifact(ctx, artifact)
	}
}

func (s *Service) journalArtifact(ctx context.Context, artifact *domain.Artifact) {
	if s.store == nil {
		return
	}
	// The run row may only exist once the engine change that started the
	// run has been journaled, which happens under journalMu.
	s.journalMu.Lock()
	defer s.journalMu.Unlock()

	if err := s.store.CreateArtifact(ctx, artifact); err != nil {
		s.logger.Error("failed to journal artifact", zap.String("run_id", artifact.RunID), zap.Error(err))
		return
	}
	eventType := domain.EventTypeActionRecorded
	if artifact.Decision == domain.DecisionBlock {
		eventType = domain.EventTypeActionBlocked
	}
	version := s.engine.GetState().Version
	if err := s.recordEvent(ctx, artifact.RunID, version, eventType, artifact); err != nil {
		s.logger.Error("failed to journal action event", zap.String("run_id", artifact.RunID), zap.Error(err))
	}
}
