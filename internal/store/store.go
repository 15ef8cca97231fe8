// Package store defines the run journal interface and its SQLite implementation.
package store

import (
	"context"

	"github.com/xiaot623/appforge/internal/domain"
)

// Store defines the interface for journal persistence.
type Store interface {
	// Run operations
	UpsertRun(ctx context.Context, run *domain.RunRecord) error
	GetRun(ctx context.Context, runID string) (*domain.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error)

	// Event operations
	CreateEvent(ctx context.Context, event *domain.Event) error
	GetEvents(ctx context.Context, runID string, afterVersion uint64, types []string, limit int) ([]domain.Event, error)

	// Artifact operations
	CreateArtifact(ctx context.Context, artifact *domain.Artifact) error
	ListArtifacts(ctx context.Context, runID string) ([]domain.Artifact, error)

	// Lifecycle
	Close() error
}
