package domain

import (
	"encoding/json"
	"time"
)

// Event represents a journal event for replay and diagnostics.
type Event struct {
	EventID string          `json:"event_id"`
	RunID   string          `json:"run_id"`
	Version uint64          `json:"version"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RunRecord is the journaled summary of one run. It survives reset.
type RunRecord struct {
	RunID        string     `json:"run_id"`
	UserRequest  string     `json:"user_request"`
	Phase        Phase      `json:"phase"`
	CurrentAgent string     `json:"current_agent,omitempty"`
	Plan         *Plan      `json:"plan,omitempty"`
	PendingError *Error     `json:"pending_error,omitempty"`
	Steps        int        `json:"steps"`
	StartedAt    time.Time  `json:"started_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// Artifact is an agent action journaled together with its policy decision.
type Artifact struct {
	ArtifactID string         `json:"artifact_id"`
	RunID      string         `json:"run_id"`
	Agent      string         `json:"agent"`
	Action     Action         `json:"action"`
	Decision   PolicyDecision `json:"decision"`
	Reason     string         `json:"reason,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Change is emitted by the engine after every committed transition.
type Change struct {
	Type    EventType
	Before  State
	After   State
	Payload interface{}
}
