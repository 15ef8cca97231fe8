package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xiaot623/appforge/internal/adapter/agentclient"
	"github.com/xiaot623/appforge/internal/adapter/backend"
	"github.com/xiaot623/appforge/internal/adapter/llm"
	"github.com/xiaot623/appforge/internal/catalog"
	"github.com/xiaot623/appforge/internal/config"
	"github.com/xiaot623/appforge/internal/driver"
	"github.com/xiaot623/appforge/internal/logging"
	"github.com/xiaot623/appforge/internal/metrics"
	"github.com/xiaot623/appforge/internal/service"
	"github.com/xiaot623/appforge/internal/store"
	"github.com/xiaot623/appforge/internal/telemetry"
	handler "github.com/xiaot623/appforge/internal/transport/http"
	"github.com/xiaot623/appforge/internal/transport/rpc"
	"github.com/xiaot623/appforge/policy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "appforge: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logging.Sync(logger) }()

	logger.Info("starting orchestrator",
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("internal_port", cfg.Server.InternalPort),
		zap.String("database", cfg.Database.URL),
		zap.String("llm_url", cfg.LLM.BaseURL),
		zap.Int("step_budget", cfg.Engine.StepBudget),
	)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	// Initialize agent catalog
	cat := catalog.Default("llm:" + cfg.LLM.Model)
	if len(cfg.Agents) > 0 {
		if cat, err = catalog.New(cfg.Agents); err != nil {
			return fmt.Errorf("invalid agent catalog: %w", err)
		}
	}

	// Initialize agent backends
	var limiter *rate.Limiter
	if cfg.LLM.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.LLM.RateLimit), cfg.LLM.Burst)
	}
	llmClient := llm.NewLLMClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Timeout, logger)
	router := backend.NewRouter(
		llm.NewBackend(llmClient, cfg.LLM.Model, limiter),
		agentclient.NewClient(cfg.Engine.AgentTimeout),
	)

	// Initialize policy engine
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policyEngine, err := policy.Load(ctx, cfg.Policy.File)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	// Initialize tracing
	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()
	if tel.Enabled() {
		logger.Info("tracing enabled",
			zap.String("endpoint", cfg.Telemetry.Endpoint),
			zap.String("protocol", cfg.Telemetry.Protocol),
		)
	}

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Initialize service
	baseCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()
	svc := service.New(service.Options{
		Store:        db,
		Policy:       policyEngine,
		Metrics:      m,
		Backend:      router,
		Catalog:      cat,
		StepBudget:   cfg.Engine.StepBudget,
		AgentTimeout: cfg.Engine.AgentTimeout,
		Logger:       logger,
		Tracer:       tel.Tracer(driver.TracerName),
		BaseContext:  baseCtx,
	})

	// Create servers
	externalServer := handler.NewExternalServer(svc, handler.Options{
		PollInterval: cfg.Engine.PollInterval,
		Gatherer:     registry,
		Logger:       logger,
	})
	rpcServer, err := rpc.NewServer(svc, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize rpc server: %w", err)
	}

	errCh := make(chan error, 2)

	// Start external server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.HTTPPort)
		if err := externalServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("external server: %w", err)
		}
	}()

	// Start internal RPC server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.InternalPort)
		if err := rpcServer.Start(addr); err != nil {
			errCh <- fmt.Errorf("rpc server: %w", err)
		}
	}()

	logger.Info("orchestrator started")

	// Wait for interrupt signal
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	logger.Info("shutting down orchestrator")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := externalServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to shutdown external server gracefully", zap.Error(err))
	}
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to shutdown rpc server gracefully", zap.Error(err))
	}
	cancelRuns()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("agent drivers did not stop in time", zap.Error(err))
	}

	logger.Info("orchestrator stopped")
	return runErr
}
