package domain

// Agent ids of the canonical pipeline.
const (
	AgentArchitect  = "architect"
	AgentBackend    = "backend"
	AgentFrontend   = "frontend"
	AgentIntegrator = "integrator"
	AgentQA         = "qa"
	AgentDevOps     = "devops"
)

// Capability tags an agent descriptor may carry.
const (
	CapabilityPlan      = "plan"
	CapabilityExecute   = "execute"
	CapabilityDatabase  = "database"
	CapabilityAPI       = "api"
	CapabilityUI        = "ui"
	CapabilityIntegrate = "integrate"
	CapabilityTest      = "test"
	CapabilityDeploy    = "deploy"
)

// AgentDescriptor describes one agent of the pipeline. Descriptors are
// owned by the catalog and never mutated after startup.
type AgentDescriptor struct {
	ID               string   `json:"id" koanf:"id"`
	DisplayName      string   `json:"display_name" koanf:"display_name"`
	Role             string   `json:"role" koanf:"role"`
	Capabilities     []string `json:"capabilities" koanf:"capabilities"`
	BackendReference string   `json:"backend_reference" koanf:"backend_reference"`
}

// HasCapability reports whether the agent carries the capability tag.
func (a AgentDescriptor) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
