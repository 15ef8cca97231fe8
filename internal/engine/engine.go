// Package engine owns the state of the single active pipeline run.
//
// Every mutation runs under one mutex and works on a clone of the current
// state. Committed states are published as immutable snapshots through an
// atomic pointer, so readers never take the lock.
package engine

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/appforge/internal/catalog"
	"github.com/xiaot623/appforge/internal/domain"
	"github.com/xiaot623/appforge/internal/tools"
)

// DefaultStepBudget is the number of agent turns a run may consume.
const DefaultStepBudget = 25

// Observer is called after every committed transition and every rejected
// tool call, outside the engine lock.
type Observer func(change domain.Change)

// Options configures an Engine.
type Options struct {
	Catalog     *catalog.Catalog
	StepBudget  int
	Logger      *zap.Logger
	Observers   []Observer
	BaseContext context.Context
	Now         func() time.Time
	NewRunID    func() string
}

type snapshot struct {
	state domain.State
	body  []byte
}

// Engine is the orchestration state machine.
type Engine struct {
	mu        sync.Mutex
	state     domain.State
	version   uint64
	runCtx    context.Context
	runCancel context.CancelFunc

	published atomic.Pointer[snapshot]

	cat       *catalog.Catalog
	budget    int
	logger    *zap.Logger
	observers []Observer
	base      context.Context
	now       func() time.Time
	newRunID  func() string
}

// effect is what a mutation asks the engine to do with the cloned state.
type effect struct {
	event   domain.EventType
	payload interface{}
	commit  bool
	err     error
}

// New creates an engine in the idle phase.
func New(opts Options) *Engine {
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default("")
	}
	if opts.StepBudget <= 0 {
		opts.StepBudget = DefaultStepBudget
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewRunID == nil {
		opts.NewRunID = func() string { return "run_" + uuid.New().String() }
	}
	e := &Engine{
		state:     domain.IdleState(),
		cat:       opts.Catalog,
		budget:    opts.StepBudget,
		logger:    opts.Logger.Named("engine"),
		observers: opts.Observers,
		base:      opts.BaseContext,
		now:       opts.Now,
		newRunID:  opts.NewRunID,
	}
	e.state.UpdatedAt = e.now()
	e.publishLocked()
	return e
}

// Catalog returns the agent catalog the engine was built with.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.cat
}

// StepBudget returns the per-run turn budget.
func (e *Engine) StepBudget() int {
	return e.budget
}

// GetState returns a snapshot of the last committed state.
func (e *Engine) GetState() domain.State {
	return e.published.Load().state.Clone()
}

// Snapshot returns the JSON encoding of the last committed state. The slice
// is shared and must not be modified.
func (e *Engine) Snapshot() []byte {
	return e.published.Load().body
}

// Start begins a new run for userRequest. A run that is still planning or
// executing must be reset first; idle, awaiting_approval and terminal runs
// are superseded.
func (e *Engine) Start(userRequest string) (domain.State, error) {
	userRequest = strings.TrimSpace(userRequest)
	return e.update(func(s *domain.State) effect {
		if userRequest == "" {
			return effect{err: domain.Errorf(domain.KindInvalidParameters, "user_request is required")}
		}
		if s.Phase == domain.PhasePlanning || s.Phase == domain.PhaseExecuting {
			return effect{err: domain.Errorf(domain.KindRunConflict, "run %s is %s; reset it first", s.RunID, s.Phase)}
		}
		previous := s.RunID
		e.cancelRunLocked()

		now := e.now()
		*s = domain.IdleState()
		s.RunID = e.newRunID()
		s.Phase = domain.PhasePlanning
		s.CurrentAgent = e.cat.Architect().ID
		s.UserRequest = userRequest
		s.StartedAt = &now
		e.runCtx, e.runCancel = context.WithCancel(e.base)

		payload := map[string]interface{}{"user_request": userRequest}
		if previous != "" {
			payload["superseded_run_id"] = previous
		}
		return effect{event: domain.EventTypeRunStarted, payload: payload, commit: true}
	})
}

// ApprovePlan moves an awaiting run to executing. A nil plan approves the
// proposed plan unchanged; otherwise the supplied plan replaces it.
func (e *Engine) ApprovePlan(plan *domain.Plan) (domain.State, error) {
	return e.update(func(s *domain.State) effect {
		if s.Phase != domain.PhaseAwaitingApproval {
			return effect{err: domain.Errorf(domain.KindInvalidTransition, "approve_plan is not allowed in phase %s", s.Phase)}
		}
		if plan == nil {
			plan = s.Plan
		}
		if err := plan.Validate(); err != nil {
			return effect{err: err}
		}
		first, ok := e.cat.FirstExecutor()
		if !ok {
			return effect{err: domain.Errorf(domain.KindUnknownAgent, "catalog has no execution agent")}
		}
		s.Plan = plan.Clone()
		s.Phase = domain.PhaseExecuting
		s.CurrentAgent = first.ID
		return effect{event: domain.EventTypePlanApproved, payload: s.Plan, commit: true}
	})
}

// ToolCall applies a client-issued tool call. A rejected call leaves the
// state unchanged.
func (e *Engine) ToolCall(call domain.ToolCall) (domain.State, error) {
	return e.update(func(s *domain.State) effect {
		res, record, err := tools.Apply(*s, call, e.cat, e.now())
		if err != nil {
			return effect{event: domain.EventTypeToolCallRejected, payload: record, err: err}
		}
		*s = res.State
		return effect{event: eventFor(res), payload: res.Record, commit: true}
	})
}

// Reset discards the current run and returns to idle. It never fails.
func (e *Engine) Reset() domain.State {
	st, _ := e.update(func(s *domain.State) effect {
		previous := s.RunID
		e.cancelRunLocked()
		*s = domain.IdleState()
		return effect{event: domain.EventTypeRunReset, payload: map[string]interface{}{"previous_run_id": previous}, commit: true}
	})
	return st
}

// Shutdown cancels the active run's context.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.cancelRunLocked()
	e.mu.Unlock()
}

func eventFor(res tools.Result) domain.EventType {
	switch {
	case res.Fatal:
		return domain.EventTypeRunFailed
	case res.Spec.Kind == tools.KindHandoff:
		return domain.EventTypeHandoff
	case res.Spec.Kind == tools.KindComplete:
		return domain.EventTypeRunComplete
	default:
		return domain.EventTypeToolCallApplied
	}
}

// update runs fn against a clone of the state under the lock, commits
// according to the returned effect and notifies observers after unlocking.
func (e *Engine) update(fn func(s *domain.State) effect) (domain.State, error) {
	e.mu.Lock()
	before := e.state
	next := before.Clone()
	eff := fn(&next)

	var change *domain.Change
	switch {
	case eff.commit:
		e.commitLocked(next)
		change = &domain.Change{Type: eff.event, Before: before, After: e.state, Payload: eff.payload}
	case eff.event != "":
		change = &domain.Change{Type: eff.event, Before: before, After: before, Payload: eff.payload}
	}
	out := e.published.Load().state
	e.mu.Unlock()

	if change != nil {
		e.notify(*change)
	}
	return out.Clone(), eff.err
}

func (e *Engine) commitLocked(next domain.State) {
	e.version++
	next.Version = e.version
	next.UpdatedAt = e.now()
	if err := next.CheckInvariants(); err != nil {
		e.logger.Error("state invariant violated", zap.String("run_id", next.RunID), zap.Error(err))
	}
	e.state = next
	e.publishLocked()
	e.logger.Debug("state committed",
		zap.String("run_id", next.RunID),
		zap.Uint64("version", next.Version),
		zap.String("phase", string(next.Phase)),
		zap.String("agent", next.CurrentAgent),
	)
}

func (e *Engine) publishLocked() {
	st := e.state.Clone()
	body, err := json.Marshal(st)
	if err != nil {
		e.logger.Error("encode snapshot", zap.Error(err))
	}
	e.published.Store(&snapshot{state: st, body: body})
}

func (e *Engine) cancelRunLocked() {
	if e.runCancel != nil {
		e.runCancel()
	}
	e.runCtx, e.runCancel = nil, nil
}

func (e *Engine) notify(change domain.Change) {
	for _, obs := range e.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("observer panicked", zap.Any("panic", r), zap.String("event", string(change.Type)))
				}
			}()
			obs(change)
		}()
	}
}
