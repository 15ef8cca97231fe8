// Package driver walks a run through its agents.
//
// For every turn the driver asks the engine to begin the turn, invokes the
// current agent outside the engine lock, then feeds the parsed reply back
// through the engine. It stops when the run leaves planning/executing, when
// the run is reset or superseded, or when the step budget trips.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xiaot623/appforge/internal/domain"
	"github.com/xiaot623/appforge/internal/engine"
	"github.com/xiaot623/appforge/internal/tools"
)

// TracerName is the instrumentation scope of agent turn spans.
const TracerName = "github.com/xiaot623/appforge/internal/driver"

// DefaultAgentTimeout bounds a single backend call.
const DefaultAgentTimeout = 2 * time.Minute

// Backend produces the raw reply text of one agent turn.
type Backend interface {
	Invoke(ctx context.Context, inv domain.Invocation) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, inv domain.Invocation) (string, error)

// Invoke calls f.
func (f BackendFunc) Invoke(ctx context.Context, inv domain.Invocation) (string, error) {
	return f(ctx, inv)
}

// ActionSink receives the side effects agents ask for. The driver never
// performs them itself.
type ActionSink interface {
	HandleActions(ctx context.Context, runID, agent string, actions []domain.Action)
}

// Recorder observes backend calls.
type Recorder interface {
	ObserveInvocation(agent, result string, elapsed time.Duration)
}

// Options configures a Driver.
type Options struct {
	Engine       *engine.Engine
	Backend      Backend
	Sink         ActionSink
	Recorder     Recorder
	AgentTimeout time.Duration
	Logger       *zap.Logger
	Tracer       trace.Tracer
}

// Driver runs agent turns for the engine's active run.
type Driver struct {
	engine   *engine.Engine
	backend  Backend
	sink     ActionSink
	recorder Recorder
	timeout  time.Duration
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New creates a driver.
func New(opts Options) *Driver {
	if opts.AgentTimeout <= 0 {
		opts.AgentTimeout = DefaultAgentTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(TracerName)
	}
	return &Driver{
		engine:   opts.Engine,
		backend:  opts.Backend,
		sink:     opts.Sink,
		recorder: opts.Recorder,
		timeout:  opts.AgentTimeout,
		logger:   opts.Logger.Named("driver"),
		tracer:   opts.Tracer,
	}
}

// Run drives runID until it waits for approval, ends, or is superseded.
// Errors that ended the run are already recorded in the run's state; the
// returned error is for logging only.
func (d *Driver) Run(runID string) error {
	ctx, err := d.engine.RunContext(runID)
	if err != nil {
		return err
	}
	log := d.logger.With(zap.String("run_id", runID))

	for {
		if err := ctx.Err(); err != nil {
			log.Info("run cancelled")
			return err
		}

		turn, err := d.engine.BeginTurn(runID)
		if err != nil {
			switch domain.KindOf(err) {
			case domain.KindInvalidTransition:
				return nil
			case domain.KindStaleRun:
				log.Info("run superseded")
			default:
				log.Warn("turn rejected", zap.Error(err))
			}
			return err
		}

		done, err := d.step(ctx, turn, log.With(zap.String("agent", turn.Agent.ID), zap.Int("step", turn.Step)))
		if done || err != nil {
			return err
		}
	}
}

// step performs one agent turn. done reports that the driver should stop.
// A turn superseded by a client tool call is dropped and the loop moves on
// to whichever agent is current now.
func (d *Driver) step(ctx context.Context, turn engine.Turn, log *zap.Logger) (bool, error) {
	ctx, span := d.tracer.Start(ctx, "agent.turn",
		trace.WithAttributes(
			attribute.String("run_id", turn.RunID),
			attribute.String("agent", turn.Agent.ID),
			attribute.String("phase", string(turn.Phase)),
			attribute.Int("step", turn.Step),
		),
	)
	defer span.End()

	done, err := d.turn(ctx, turn, log)
	if errors.Is(err, domain.ErrStaleTurn) {
		log.Info("turn superseded, reply discarded", zap.Error(err))
		span.SetAttributes(attribute.Bool("superseded", true))
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindOf(err)))
	}
	return done, err
}

func (d *Driver) turn(ctx context.Context, turn engine.Turn, log *zap.Logger) (bool, error) {
	reply, err := d.invoke(ctx, turn, log)
	if err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		fault := domain.AsError(err, domain.KindAgentInvocation)
		fault.Agent = turn.Agent.ID
		if _, ferr := d.engine.Fail(turn, fault); ferr != nil {
			return true, ferr
		}
		return true, fault
	}
	if reply.Malformed {
		log.Warn("agent reply did not match the reply format")
	}

	if err := d.engine.RecordTurn(turn, reply.Narration, reply.Malformed); err != nil {
		return true, err
	}
	if len(reply.Actions) > 0 && d.sink != nil {
		d.sink.HandleActions(ctx, turn.RunID, turn.Agent.ID, reply.Actions)
	}

	if turn.Phase == domain.PhasePlanning {
		return d.planStep(turn, reply, log)
	}
	return d.executeStep(turn, reply, log)
}

func (d *Driver) planStep(turn engine.Turn, reply domain.AgentReply, log *zap.Logger) (bool, error) {
	for _, call := range reply.ToolCalls {
		spec, err := tools.Parse(call.Name)
		if err != nil || spec.Kind != tools.KindReport {
			log.Debug("ignoring tool call while planning", zap.String("tool", call.Name))
			continue
		}
		st, err := d.engine.ApplyFromDriver(turn, call)
		if err != nil {
			return true, err
		}
		if st.Phase != domain.PhasePlanning {
			return true, nil
		}
	}

	st, err := d.engine.AcceptPlan(turn, reply.Plan)
	if err == nil {
		log.Info("plan proposed", zap.Int("steps", len(st.Plan.Steps)))
		return true, nil
	}
	if st.RunID == turn.RunID && st.Phase == domain.PhasePlanning && domain.KindOf(err) == domain.KindInvalidPlan {
		log.Warn("invalid plan, asking again", zap.Error(err))
		return false, nil
	}
	return true, err
}

// executeStep applies the reply's tool calls in order. Calls after the
// agent's own hand-off belong to a finished turn and are dropped.
func (d *Driver) executeStep(turn engine.Turn, reply domain.AgentReply, log *zap.Logger) (bool, error) {
	for i, call := range reply.ToolCalls {
		st, err := d.engine.ApplyFromDriver(turn, call)
		if err != nil {
			if !errors.Is(err, domain.ErrStaleTurn) {
				log.Warn("tool call failed", zap.String("tool", call.Name), zap.Error(err))
			}
			return true, err
		}
		log.Debug("tool call applied", zap.String("tool", call.Name), zap.String("current_agent", st.CurrentAgent))
		if st.Phase != domain.PhaseExecuting {
			log.Info("run finished", zap.String("phase", string(st.Phase)))
			return true, nil
		}
		if st.CurrentAgent != turn.Agent.ID || st.OpenRecord() == nil {
			if rest := len(reply.ToolCalls) - i - 1; rest > 0 {
				log.Debug("dropping tool calls after hand-off", zap.Int("dropped", rest))
			}
			return false, nil
		}
	}
	return false, nil
}

// invoke calls the backend, retrying a failed call once with the same
// invocation.
func (d *Driver) invoke(ctx context.Context, turn engine.Turn, log *zap.Logger) (domain.AgentReply, error) {
	inv := domain.Invocation{
		RunID:        turn.RunID,
		Agent:        turn.Agent,
		SystemPrompt: SystemPrompt(turn),
		Prompt:       UserPrompt(turn.Context),
		Context:      turn.Context,
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		start := time.Now()
		text, err := d.call(ctx, inv)
		elapsed := time.Since(start)
		if err == nil {
			d.observe(turn.Agent.ID, "success", elapsed)
			return ParseReply(text), nil
		}
		if ctx.Err() != nil {
			d.observe(turn.Agent.ID, "cancelled", elapsed)
			return domain.AgentReply{}, ctx.Err()
		}
		d.observe(turn.Agent.ID, "error", elapsed)
		log.Warn("agent invocation failed", zap.Int("attempt", attempt), zap.Duration("elapsed", elapsed), zap.Error(err))
		lastErr = err
	}
	return domain.AgentReply{}, domain.Errorf(domain.KindAgentInvocation, "agent %s failed twice: %v", turn.Agent.ID, lastErr)
}

// call runs one backend invocation as its own goroutine and waits at most
// the agent timeout for it.
func (d *Driver) call(ctx context.Context, inv domain.Invocation) (string, error) {
	if d.backend == nil {
		return "", errors.New("no backend configured")
	}
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := d.backend.Invoke(callCtx, inv)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-callCtx.Done():
		return "", fmt.Errorf("agent %s: %w", inv.Agent.ID, callCtx.Err())
	}
}

func (d *Driver) observe(agent, result string, elapsed time.Duration) {
	if d.recorder != nil {
		d.recorder.ObserveInvocation(agent, result, elapsed)
	}
}
