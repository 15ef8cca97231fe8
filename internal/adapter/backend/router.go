// Package backend routes agent invocations to the adapter named by the
// agent's backend reference.
package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/xiaot623/appforge/internal/adapter/agentclient"
	"github.com/xiaot623/appforge/internal/adapter/llm"
	"github.com/xiaot623/appforge/internal/domain"
)

// Router implements the driver's Backend interface.
//
//	llm:<model>        chat completions through the LLM backend
//	http(s)://host/... external agent endpoint streamed over SSE
type Router struct {
	llm    *llm.Backend
	agents *agentclient.Client
}

// NewRouter creates a router. Either adapter may be nil when unused.
func NewRouter(llmBackend *llm.Backend, agents *agentclient.Client) *Router {
	return &Router{llm: llmBackend, agents: agents}
}

// Invoke sends inv to the agent's backend and returns the raw reply text.
func (r *Router) Invoke(ctx context.Context, inv domain.Invocation) (string, error) {
	ref := strings.TrimSpace(inv.Agent.BackendReference)
	switch {
	case strings.HasPrefix(ref, "llm:"):
		if r.llm == nil {
			return "", fmt.Errorf("agent %s: no LLM backend configured", inv.Agent.ID)
		}
		return r.llm.Invoke(ctx, strings.TrimPrefix(ref, "llm:"), inv)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		if r.agents == nil {
			return "", fmt.Errorf("agent %s: no agent client configured", inv.Agent.ID)
		}
		return r.agents.Collect(ctx, ref, &inv)
	default:
		return "", fmt.Errorf("agent %s: unsupported backend reference %q", inv.Agent.ID, ref)
	}
}
