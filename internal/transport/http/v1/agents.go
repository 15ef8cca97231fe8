package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/appforge/internal/domain"
)

// ListAgents lists the pipeline's agents in order.
// GET /v1/agents
func (h *Handler) ListAgents(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"agents": h.service.ListAgents(),
	})
}

// GetAgent gets a specific agent by ID.
// GET /v1/agents/:agent_id
func (h *Handler) GetAgent(c echo.Context) error {
	agentID := c.Param("agent_id")
	if agentID == "" {
		return badRequest(c, "agent_id is required")
	}

	agent, err := h.service.GetAgent(agentID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, agent)
}

// ListTools lists the tools agents and clients may call.
// GET /v1/tools
func (h *Handler) ListTools(c echo.Context) error {
	return c.JSON(http.StatusOK, domain.ListToolsResponse{Tools: h.service.ListTools()})
}
