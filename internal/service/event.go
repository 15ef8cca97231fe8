package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/appforge/internal/domain"
)

const journalTimeout = 5 * time.Second

// observe journals one engine change and updates the engine metrics.
func (s *Service) observe(change domain.Change) {
	if s.metrics != nil {
		s.metrics.ObserveChange(change)
	}

	state := change.After
	if state.RunID == "" {
		state = change.Before
	}
	if state.RunID == "" || s.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	s.journalMu.Lock()
	defer s.journalMu.Unlock()

	committed := change.After.Version != change.Before.Version
	if committed && change.After.Version >= s.lastVersion {
		s.lastVersion = change.After.Version
		record := runRecord(state)
		if change.Type == domain.EventTypeRunReset && record.EndedAt == nil {
			ended := change.After.UpdatedAt
			record.EndedAt = &ended
		}
		if err := s.store.UpsertRun(ctx, record); err != nil {
			s.logger.Error("failed to journal run", zap.String("run_id", state.RunID), zap.Error(err))
			return
		}
	}

	if err := s.recordEvent(ctx, state.RunID, change.After.Version, change.Type, change.Payload); err != nil {
		s.logger.Error("failed to journal event",
			zap.String("run_id", state.RunID),
			zap.String("type", string(change.Type)),
			zap.Error(err),
		)
	}
}

// recordEvent records an event to the store.
func (s *Service) recordEvent(ctx context.Context, runID string, version uint64, eventType domain.EventType, payload interface{}) error {
	var payloadBytes []byte
	if payload != nil {
		var err error
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	event := &domain.Event{
		EventID: "evt_" + uuid.New().String(),
		RunID:   runID,
		Version: version,
		Ts:      time.Now().UnixMilli(),
		Type:    eventType,
		Payload: payloadBytes,
	}

	return s.store.CreateEvent(ctx, event)
}

func runRecord(st domain.State) *domain.RunRecord {
	rec := &domain.RunRecord{
		RunID:        st.RunID,
		UserRequest:  st.UserRequest,
		Phase:        st.Phase,
		CurrentAgent: st.CurrentAgent,
		Plan:         st.Plan.Clone(),
		PendingError: st.PendingError,
		Steps:        st.Steps,
		UpdatedAt:    st.UpdatedAt,
	}
	if st.StartedAt != nil {
		rec.StartedAt = *st.StartedAt
	}
	if st.Phase.IsTerminal() {
		ended := st.UpdatedAt
		rec.EndedAt = &ended
	}
	return rec
}
