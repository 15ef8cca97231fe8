package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/appforge/internal/domain"
	"github.com/xiaot623/appforge/internal/tools"
)

// ListAgents returns the catalog in pipeline order.
func (s *Service) ListAgents() []domain.AgentDescriptor {
	return s.engine.Catalog().List()
}

// GetAgent returns one catalog entry.
func (s *Service) GetAgent(agentID string) (domain.AgentDescriptor, error) {
	desc, ok := s.engine.Catalog().Get(agentID)
	if !ok {
		return domain.AgentDescriptor{}, domain.Errorf(domain.KindUnknownAgent, "agent %q not found", agentID)
	}
	return desc, nil
}

// ListTools returns the tool registry.
func (s *Service) ListTools() []domain.ToolListItem {
	return tools.Items()
}

// ListRuns returns journaled runs, newest first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if s.store == nil {
		return []domain.RunRecord{}, nil
	}
	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one journaled run, or nil when it is unknown.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	if s.store == nil {
		return nil, nil
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetEvents returns a run's journaled events.
func (s *Service) GetEvents(ctx context.Context, runID string, afterVersion uint64, types []string, limit int) ([]domain.Event, error) {
	if s.store == nil {
		return []domain.Event{}, nil
	}
	events, err := s.store.GetEvents(ctx, runID, afterVersion, types, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	return events, nil
}

// ListArtifacts returns a run's journaled actions.
func (s *Service) ListArtifacts(ctx context.Context, runID string) ([]domain.Artifact, error) {
	if s.store == nil {
		return []domain.Artifact{}, nil
	}
	artifacts, err := s.store.ListArtifacts(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	return artifacts, nil
}
