// Package service wires the engine, the driver and the run journal together
// and exposes the pipeline operations to the transports.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xiaot623/appforge/internal/catalog"
	"github.com/xiaot623/appforge/internal/driver"
	"github.com/xiaot623/appforge/internal/engine"
	"github.com/xiaot623/appforge/internal/metrics"
	"github.com/xiaot623/appforge/internal/store"
	"github.com/xiaot623/appforge/policy"
)

// Options configures a Service.
type Options struct {
	Store        store.Store
	Policy       *policy.Engine
	Metrics      *metrics.Metrics
	Backend      driver.Backend
	Catalog      *catalog.Catalog
	StepBudget   int
	AgentTimeout time.Duration
	Logger       *zap.Logger
	Tracer       trace.Tracer
	BaseContext  context.Context
}

// Service owns the engine and launches a driver for every run that needs
// agent turns.
type Service struct {
	engine  *engine.Engine
	driver  *driver.Driver
	store   store.Store
	policy  *policy.Engine
	metrics *metrics.Metrics
	logger  *zap.Logger

	journalMu   sync.Mutex
	lastVersion uint64

	wg sync.WaitGroup
}

// New creates the service, its engine and its driver.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Service{
		store:   opts.Store,
		policy:  opts.Policy,
		metrics: opts.Metrics,
		logger:  opts.Logger.Named("service"),
	}
	s.engine = engine.New(engine.Options{
		Catalog:     opts.Catalog,
		StepBudget:  opts.StepBudget,
		Logger:      opts.Logger,
		Observers:   []engine.Observer{s.observe},
		BaseContext: opts.BaseContext,
	})
	s.driver = driver.New(driver.Options{
		Engine:       s.engine,
		Backend:      opts.Backend,
		Sink:         s,
		Recorder:     s,
		AgentTimeout: opts.AgentTimeout,
		Logger:       opts.Logger,
		Tracer:       opts.Tracer,
	})
	return s
}

// Engine returns the engine the service drives.
func (s *Service) Engine() *engine.Engine {
	return s.engine
}

// launch drives runID in the background.
func (s *Service) launch(runID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.driver.Run(runID)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Info("driver stopped", zap.String("run_id", runID), zap.Error(err))
		}
	}()
}

// Shutdown cancels the active run and waits for its driver to return.
func (s *Service) Shutdown(ctx context.Context) error {
	s.engine.Shutdown()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ObserveInvocation implements driver.Recorder.
func (s *Service) ObserveInvocation(agent, result string, elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveInvocation(agent, result, elapsed)
	}
}
