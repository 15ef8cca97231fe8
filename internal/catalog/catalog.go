// Package catalog holds the static directory of pipeline agents.
//
// The order of descriptors is the canonical pipeline order. A catalog is
// read-only after construction and safe for concurrent use without locking.
package catalog

import (
	"fmt"
	"strings"

	"github.com/xiaot623/appforge/internal/domain"
)

// DefaultBackend is the backend reference used when none is configured.
const DefaultBackend = "llm:default"

// Catalog is an ordered, immutable set of agent descriptors.
type Catalog struct {
	agents []domain.AgentDescriptor
	index  map[string]int
}

// New builds a catalog from descriptors in pipeline order.
// The first agent must be able to plan and at least one later agent must execute.
func New(agents []domain.AgentDescriptor) (*Catalog, error) {
	if len(agents) < 2 {
		return nil, fmt.Errorf("catalog needs at least two agents, got %d", len(agents))
	}
	c := &Catalog{
		agents: make([]domain.AgentDescriptor, 0, len(agents)),
		index:  make(map[string]int, len(agents)),
	}
	for _, a := range agents {
		id := strings.TrimSpace(a.ID)
		if id == "" {
			return nil, fmt.Errorf("agent id is required")
		}
		if _, exists := c.index[id]; exists {
			return nil, fmt.Errorf("duplicate agent id %s", id)
		}
		if a.BackendReference == "" {
			a.BackendReference = DefaultBackend
		}
		a.ID = id
		a.Capabilities = cloneStrings(a.Capabilities)
		c.index[id] = len(c.agents)
		c.agents = append(c.agents, a)
	}
	if !c.agents[0].HasCapability(domain.CapabilityPlan) {
		return nil, fmt.Errorf("first agent %s must have the %q capability", c.agents[0].ID, domain.CapabilityPlan)
	}
	if _, ok := c.FirstExecutor(); !ok {
		return nil, fmt.Errorf("catalog has no agent with the %q capability", domain.CapabilityExecute)
	}
	return c, nil
}

// Default returns the canonical six-stage pipeline, every agent bound to backend.
func Default(backend string) *Catalog {
	if backend == "" {
		backend = DefaultBackend
	}
	c, err := New([]domain.AgentDescriptor{
		{
			ID:               domain.AgentArchitect,
			DisplayName:      "Architect",
			Role:             "Turns the request into a reviewed build plan",
			Capabilities:     []string{domain.CapabilityPlan},
			BackendReference: backend,
		},
		{
			ID:               domain.AgentBackend,
			DisplayName:      "Backend Engineer",
			Role:             "Builds the data model, persistence and server API",
			Capabilities:     []string{domain.CapabilityExecute, domain.CapabilityDatabase, domain.CapabilityAPI},
			BackendReference: backend,
		},
		{
			ID:               domain.AgentFrontend,
			DisplayName:      "Frontend Engineer",
			Role:             "Builds the user interface",
			Capabilities:     []string{domain.CapabilityExecute, domain.CapabilityUI},
			BackendReference: backend,
		},
		{
			ID:               domain.AgentIntegrator,
			DisplayName:      "Integrator",
			Role:             "Wires the interface to the API and third-party services",
			Capabilities:     []string{domain.CapabilityExecute, domain.CapabilityIntegrate},
			BackendReference: backend,
		},
		{
			ID:               domain.AgentQA,
			DisplayName:      "QA Engineer",
			Role:             "Writes and runs tests, reports defects",
			Capabilities:     []string{domain.CapabilityExecute, domain.CapabilityTest},
			BackendReference: backend,
		},
		{
			ID:               domain.AgentDevOps,
			DisplayName:      "DevOps Engineer",
			Role:             "Packages and deploys the application",
			Capabilities:     []string{domain.CapabilityExecute, domain.CapabilityDeploy},
			BackendReference: backend,
		},
	})
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns the descriptor for id.
func (c *Catalog) Get(id string) (domain.AgentDescriptor, bool) {
	i, ok := c.index[id]
	if !ok {
		return domain.AgentDescriptor{}, false
	}
	return c.copyAt(i), true
}

// List returns all descriptors in pipeline order.
func (c *Catalog) List() []domain.AgentDescriptor {
	out := make([]domain.AgentDescriptor, len(c.agents))
	for i := range c.agents {
		out[i] = c.copyAt(i)
	}
	return out
}

// IDs returns agent ids in pipeline order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.agents))
	for i, a := range c.agents {
		ids[i] = a.ID
	}
	return ids
}

// Position returns the pipeline index of id.
func (c *Catalog) Position(id string) (int, bool) {
	i, ok := c.index[id]
	return i, ok
}

// Architect returns the planning agent (always first).
func (c *Catalog) Architect() domain.AgentDescriptor {
	return c.copyAt(0)
}

// FirstExecutor returns the first execution-capable agent in pipeline order.
func (c *Catalog) FirstExecutor() (domain.AgentDescriptor, bool) {
	for i, a := range c.agents {
		if a.HasCapability(domain.CapabilityExecute) {
			return c.copyAt(i), true
		}
	}
	return domain.AgentDescriptor{}, false
}

// Last returns the final pipeline stage.
func (c *Catalog) Last() domain.AgentDescriptor {
	return c.copyAt(len(c.agents) - 1)
}

// IsLast reports whether id is the final pipeline stage.
func (c *Catalog) IsLast(id string) bool {
	i, ok := c.index[id]
	return ok && i == len(c.agents)-1
}

// Next returns the stage after id, if any.
func (c *Catalog) Next(id string) (domain.AgentDescriptor, bool) {
	i, ok := c.index[id]
	if !ok || i+1 >= len(c.agents) {
		return domain.AgentDescriptor{}, false
	}
	return c.copyAt(i + 1), true
}

// Between returns the ids strictly between from and to in pipeline order.
// It returns nil when to does not come after from.
func (c *Catalog) Between(from, to string) []string {
	i, ok1 := c.index[from]
	j, ok2 := c.index[to]
	if !ok1 || !ok2 || j <= i+1 {
		return nil
	}
	ids := make([]string, 0, j-i-1)
	for k := i + 1; k < j; k++ {
		ids = append(ids, c.agents[k].ID)
	}
	return ids
}

func (c *Catalog) copyAt(i int) domain.AgentDescriptor {
	a := c.agents[i]
	a.Capabilities = cloneStrings(a.Capabilities)
	return a
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
