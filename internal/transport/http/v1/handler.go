// Package v1 provides the versioned HTTP handlers for the orchestrator.
package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/appforge/internal/domain"
	"github.com/xiaot623/appforge/internal/service"
)

// DefaultPollInterval is advertised to clients polling the state endpoint.
const DefaultPollInterval = 2 * time.Second

// kindInvalidRequest marks bodies and parameters that could not be bound.
const kindInvalidRequest domain.ErrorKind = "invalid_request"

// Handler handles HTTP requests.
type Handler struct {
	service      *service.Service
	pollInterval time.Duration
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service, pollInterval time.Duration) *Handler {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Handler{
		service:      service,
		pollInterval: pollInterval,
	}
}

// RegisterRoutes registers external routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Pipeline API
	e.POST("/v1/pipeline/start", h.Start)
	e.POST("/v1/pipeline/approve", h.ApprovePlan)
	e.POST("/v1/pipeline/tool_calls", h.ToolCall)
	e.GET("/v1/pipeline/state", h.GetState)
	e.POST("/v1/pipeline/reset", h.Reset)

	// Catalog and registry
	e.GET("/v1/agents", h.ListAgents)
	e.GET("/v1/agents/:agent_id", h.GetAgent)
	e.GET("/v1/tools", h.ListTools)

	// Run journal
	e.GET("/v1/runs", h.ListRuns)
	e.GET("/v1/runs/:run_id", h.GetRun)
	e.GET("/v1/runs/:run_id/events", h.GetRunEvents)
	e.GET("/v1/runs/:run_id/artifacts", h.ListRunArtifacts)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
		"phase":   string(h.service.GetState().Phase),
	})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindInvalidPlan, domain.KindInvalidParameters, kindInvalidRequest:
		return http.StatusBadRequest
	case domain.KindUnknownTool, domain.KindUnknownAgent:
		return http.StatusNotFound
	case domain.KindOutOfOrderHandoff, domain.KindInvalidTransition, domain.KindRunConflict, domain.KindStaleRun, domain.KindStaleTurn:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c echo.Context, err error) error {
	kind := domain.KindOf(err)
	return c.JSON(StatusFor(kind), domain.ErrorResponse{Error: err.Error(), Kind: kind})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: msg, Kind: kindInvalidRequest})
}
