package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/appforge/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			user_request TEXT NOT NULL,
			phase TEXT NOT NULL,
			current_agent TEXT,
			plan TEXT,
			pending_error TEXT,
			steps INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			ended_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run_version ON events(run_id, version)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			artifact_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			agent TEXT NOT NULL,
			type TEXT NOT NULL,
			action TEXT NOT NULL,
			decision TEXT NOT NULL,
			reason TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_run ON artifacts(run_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertRun creates the run row or replaces its mutable columns.
func (s *SQLiteStore) UpsertRun(ctx context.Context, run *domain.RunRecord) error {
	plan, err := marshalNullable(run.Plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	pendingError, err := marshalNullable(run.PendingError)
	if err != nil {
		return fmt.Errorf("failed to marshal pending error: %w", err)
	}
	var endedAt sql.NullTime
	if run.EndedAt != nil {
		endedAt = sql.NullTime{Time: *run.EndedAt, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, user_request, phase, current_agent, plan, pending_error, steps, started_at, updated_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			phase = excluded.phase,
			current_agent = excluded.current_agent,
			plan = excluded.plan,
			pending_error = excluded.pending_error,
			steps = excluded.steps,
			updated_at = excluded.updated_at,
			ended_at = excluded.ended_at`,
		run.RunID, run.UserRequest, run.Phase, nullString(run.CurrentAgent), plan, pendingError,
		run.Steps, run.StartedAt, run.UpdatedAt, endedAt)
	return err
}

const runColumns = `run_id, user_request, phase, current_agent, plan, pending_error, steps, started_at, updated_at, ended_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*domain.RunRecord, error) {
	var run domain.RunRecord
	var currentAgent, plan, pendingError sql.NullString
	var endedAt sql.NullTime
	if err := row.Scan(&run.RunID, &run.UserRequest, &run.Phase, &currentAgent, &plan, &pendingError,
		&run.Steps, &run.StartedAt, &run.UpdatedAt, &endedAt); err != nil {
		return nil, err
	}
	if currentAgent.Valid {
		run.CurrentAgent = currentAgent.String
	}
	if plan.Valid {
		run.Plan = &domain.Plan{}
		if err := json.Unmarshal([]byte(plan.String), run.Plan); err != nil {
			return nil, fmt.Errorf("failed to decode plan of run %s: %w", run.RunID, err)
		}
	}
	if pendingError.Valid {
		run.PendingError = &domain.Error{}
		if err := json.Unmarshal([]byte(pendingError.String), run.PendingError); err != nil {
			return nil, fmt.Errorf("failed to decode error of run %s: %w", run.RunID, err)
		}
	}
	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}
	return &run, nil
}

// GetRun retrieves a run by ID. It returns nil, nil when the run is unknown.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recently started runs first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []domain.RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// CreateEvent creates a new event. The run row must exist.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, run_id, version, ts, type, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		event.EventID, event.RunID, event.Version, event.Ts, event.Type, nullStringBytes(event.Payload))
	return err
}

// GetEvents retrieves events for a run in commit order.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string, afterVersion uint64, types []string, limit int) ([]domain.Event, error) {
	query := `SELECT event_id, run_id, version, ts, type, payload FROM events WHERE run_id = ?`
	args := []interface{}{runID}

	if afterVersion > 0 {
		query += ` AND version > ?`
		args = append(args, afterVersion)
	}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(" AND type IN (%s)", strings.Join(placeholders, ","))
	}

	query += ` ORDER BY version ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var event domain.Event
		var payload sql.NullString
		if err := rows.Scan(&event.EventID, &event.RunID, &event.Version, &event.Ts, &event.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CreateArtifact journals an agent action with its policy decision.
func (s *SQLiteStore) CreateArtifact(ctx context.Context, artifact *domain.Artifact) error {
	action, err := json.Marshal(artifact.Action)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}
	createdAt := artifact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (artifact_id, run_id, agent, type, action, decision, reason, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		artifact.ArtifactID, artifact.RunID, artifact.Agent, artifact.Action.Type, string(action),
		artifact.Decision, nullString(artifact.Reason), createdAt)
	return err
}

// ListArtifacts returns a run's artifacts in the order they were recorded.
func (s *SQLiteStore) ListArtifacts(ctx context.Context, runID string) ([]domain.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT artifact_id, run_id, agent, action, decision, reason, created_at FROM artifacts WHERE run_id = ? ORDER BY rowid ASC`,
		runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	artifacts := []domain.Artifact{}
	for rows.Next() {
		var a domain.Artifact
		var action string
		var reason sql.NullString
		if err := rows.Scan(&a.ArtifactID, &a.RunID, &a.Agent, &action, &a.Decision, &reason, &a.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(action), &a.Action); err != nil {
			return nil, fmt.Errorf("failed to decode artifact %s: %w", a.ArtifactID, err)
		}
		if reason.Valid {
			a.Reason = reason.String
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

func marshalNullable(v interface{}) (sql.NullString, error) {
	switch t := v.(type) {
	case *domain.Plan:
		if t == nil {
			return sql.NullString{}, nil
		}
	case *domain.Error:
		if t == nil {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return nullStringBytes(b), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
