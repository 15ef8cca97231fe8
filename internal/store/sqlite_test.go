package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/xiaot623/appforge/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func seedRun(t *testing.T, store *SQLiteStore, runID string, startedAt time.Time) {
	t.Helper()
	run := &domain.RunRecord{
		RunID:        runID,
		UserRequest:  "build a todo app",
		Phase:        domain.PhasePlanning,
		CurrentAgent: domain.AgentArchitect,
		StartedAt:    startedAt,
		UpdatedAt:    startedAt,
	}
	if err := store.UpsertRun(context.Background(), run); err != nil {
		t.Fatalf("UpsertRun failed: %v", err)
	}
}

func TestSQLiteStoreRunUpsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	started := time.Now().UTC().Truncate(time.Second)
	seedRun(t, store, "r1", started)

	gotRun, err := store.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if gotRun == nil || gotRun.Phase != domain.PhasePlanning || gotRun.CurrentAgent != domain.AgentArchitect {
		t.Fatalf("unexpected run: %+v", gotRun)
	}
	if gotRun.Plan != nil || gotRun.PendingError != nil || gotRun.EndedAt != nil {
		t.Fatalf("expected empty optional fields, got %+v", gotRun)
	}

	ended := started.Add(time.Minute)
	update := &domain.RunRecord{
		RunID:        "r1",
		UserRequest:  "ignored on update",
		Phase:        domain.PhaseError,
		Plan:         &domain.Plan{Summary: "todo", Steps: []string{"api", "ui"}},
		PendingError: &domain.Error{Kind: domain.KindAgentInvocation, Message: "boom", Agent: domain.AgentBackend},
		Steps:        3,
		StartedAt:    started,
		UpdatedAt:    ended,
		EndedAt:      &ended,
	}
	if err := store.UpsertRun(ctx, update); err != nil {
		t.Fatalf("UpsertRun update failed: %v", err)
	}

	gotRun, err = store.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if gotRun.UserRequest != "build a todo app" {
		t.Fatalf("user request should not change, got %q", gotRun.UserRequest)
	}
	if gotRun.Phase != domain.PhaseError || gotRun.CurrentAgent != "" || gotRun.Steps != 3 {
		t.Fatalf("unexpected run after update: %+v", gotRun)
	}
	if gotRun.Plan == nil || len(gotRun.Plan.Steps) != 2 {
		t.Fatalf("unexpected plan: %+v", gotRun.Plan)
	}
	if gotRun.PendingError == nil || gotRun.PendingError.Kind != domain.KindAgentInvocation || gotRun.PendingError.Agent != domain.AgentBackend {
		t.Fatalf("unexpected pending error: %+v", gotRun.PendingError)
	}
	if gotRun.EndedAt == nil || !gotRun.EndedAt.Equal(ended) {
		t.Fatalf("unexpected ended_at: %v", gotRun.EndedAt)
	}
}

func TestSQLiteStoreGetRunMissing(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	run, err := store.GetRun(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run != nil {
		t.Fatalf("expected nil run, got %+v", run)
	}
}

func TestSQLiteStoreListRuns(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	base := time.Now().UTC()
	seedRun(t, store, "r1", base)
	seedRun(t, store, "r2", base.Add(time.Second))
	seedRun(t, store, "r3", base.Add(2*time.Second))

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "r3" || runs[1].RunID != "r2" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestSQLiteStoreEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	seedRun(t, store, "r1", time.Now())

	events := []domain.Event{
		{EventID: "e1", RunID: "r1", Version: 1, Ts: 10, Type: domain.EventTypeRunStarted, Payload: json.RawMessage(`{"user_request":"todo"}`)},
		{EventID: "e2", RunID: "r1", Version: 2, Ts: 11, Type: domain.EventTypePlanProposed},
		{EventID: "e3", RunID: "r1", Version: 3, Ts: 12, Type: domain.EventTypePlanApproved},
		{EventID: "e4", RunID: "r1", Version: 3, Ts: 13, Type: domain.EventTypeActionRecorded},
	}
	for i := range events {
		if err := store.CreateEvent(ctx, &events[i]); err != nil {
			t.Fatalf("CreateEvent failed: %v", err)
		}
	}

	got, err := store.GetEvents(ctx, "r1", 0, nil, 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(got) != 4 || got[0].EventID != "e1" || got[3].EventID != "e4" {
		t.Fatalf("unexpected events: %+v", got)
	}
	if string(got[0].Payload) != `{"user_request":"todo"}` || got[1].Payload != nil {
		t.Fatalf("unexpected payloads: %s / %s", got[0].Payload, got[1].Payload)
	}

	got, err = store.GetEvents(ctx, "r1", 1, []string{string(domain.EventTypePlanApproved), string(domain.EventTypePlanProposed)}, 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(got) != 2 || got[0].Type != domain.EventTypePlanProposed {
		t.Fatalf("unexpected filtered events: %+v", got)
	}

	got, err = store.GetEvents(ctx, "r1", 0, []string{}, 1)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
}

func TestSQLiteStoreEventRequiresRun(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	err := store.CreateEvent(context.Background(), &domain.Event{EventID: "e1", RunID: "ghost", Version: 1, Type: domain.EventTypeRunStarted})
	if err == nil {
		t.Fatalf("expected foreign key error")
	}
}

func TestSQLiteStoreArtifacts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	seedRun(t, store, "r1", time.Now())

	artifacts := []domain.Artifact{
		{
			ArtifactID: "a1",
			RunID:      "r1",
			Agent:      domain.AgentBackend,
			Action:     domain.Action{Type: domain.ActionWriteFile, Path: "api/server.go", Content: "package main"},
			Decision:   domain.DecisionAllow,
			CreatedAt:  time.Now(),
		},
		{
			ArtifactID: "a2",
			RunID:      "r1",
			Agent:      domain.AgentDevOps,
			Action:     domain.Action{Type: domain.ActionShell, Command: "rm -rf /"},
			Decision:   domain.DecisionBlock,
			Reason:     "recursive delete of the filesystem root",
			CreatedAt:  time.Now().Add(time.Millisecond),
		},
	}
	for i := range artifacts {
		if err := store.CreateArtifact(ctx, &artifacts[i]); err != nil {
			t.Fatalf("CreateArtifact failed: %v", err)
		}
	}

	got, err := store.ListArtifacts(ctx, "r1")
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(got))
	}
	if got[0].Action.Path != "api/server.go" || got[0].Reason != "" {
		t.Fatalf("unexpected first artifact: %+v", got[0])
	}
	if got[1].Decision != domain.DecisionBlock || got[1].Action.Command != "rm -rf /" {
		t.Fatalf("unexpected second artifact: %+v", got[1])
	}

	none, err := store.ListArtifacts(ctx, "r2")
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no artifacts, got %d", len(none))
	}
}
