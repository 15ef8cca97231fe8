package v1

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/appforge/internal/domain"
)

// Start begins a new pipeline run.
// POST /v1/pipeline/start
func (h *Handler) Start(c echo.Context) error {
	var req domain.StartRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.UserRequest) == "" {
		return badRequest(c, "user_request is required")
	}

	st, err := h.service.Start(req.UserRequest)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// ApprovePlan approves the proposed plan. An empty body approves it
// unchanged; a body with a summary or steps replaces it.
// POST /v1/pipeline/approve
func (h *Handler) ApprovePlan(c echo.Context) error {
	var req domain.ApprovePlanRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	var plan *domain.Plan
	if req.Summary != "" || len(req.Steps) > 0 {
		p := req.Plan()
		plan = &p
	}

	st, err := h.service.ApprovePlan(plan)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// ToolCall applies a client-issued tool call.
// POST /v1/pipeline/tool_calls
func (h *Handler) ToolCall(c echo.Context) error {
	var req domain.ToolCallRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.ToolName == "" {
		return badRequest(c, "tool_name is required")
	}

	st, err := h.service.ToolCall(req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// GetState returns the last committed snapshot.
// GET /v1/pipeline/state
func (h *Handler) GetState(c echo.Context) error {
	c.Response().Header().Set("X-Poll-Interval", strconv.Itoa(int(h.pollInterval.Seconds())))
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	return c.JSONBlob(http.StatusOK, h.service.Snapshot())
}

// Reset discards the active run.
// POST /v1/pipeline/reset
func (h *Handler) Reset(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Reset())
}
