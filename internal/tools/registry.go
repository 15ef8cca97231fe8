// Package tools is the closed set of tools agents and clients may call.
//
// Every tool name maps to exactly one Kind. Names are parsed at the boundary
// and anything outside the table is rejected before state is touched.
package tools

import (
	"sort"

	"github.com/xiaot623/appforge/internal/domain"
)

// Kind is the tagged variant a tool dispatches on.
type Kind string

const (
	KindHandoff  Kind = "handoff"
	KindComplete Kind = "complete"
	KindReport   Kind = "report"
)

// Spec describes one registered tool.
type Spec struct {
	Name        string
	Kind        Kind
	Target      string // implied handoff target, empty for the generic handoff
	Parameters  []string
	Description string
}

var registry = buildRegistry()

func buildRegistry() map[string]Spec {
	specs := []Spec{
		{
			Name:        "handoff",
			Kind:        KindHandoff,
			Parameters:  []string{"to", "skip", "summary"},
			Description: "Pass control to another agent. Forward hand-offs must list every skipped stage in skip.",
		},
		{
			Name:        "mark_complete",
			Kind:        KindComplete,
			Parameters:  []string{"url", "summary"},
			Description: "Finish the run. Only the last pipeline stage may call it.",
		},
		{
			Name:        "deploy",
			Kind:        KindComplete,
			Parameters:  []string{"url", "summary"},
			Description: "Deploy the application and finish the run. Only the last pipeline stage may call it.",
		},
		{
			Name:        "report_blocker",
			Kind:        KindReport,
			Parameters:  []string{"reason", "fatal"},
			Description: "Report something that blocks progress. fatal=true fails the run.",
		},
		{
			Name:        "request_clarification",
			Kind:        KindReport,
			Parameters:  []string{"question", "fatal"},
			Description: "Ask the user a question. fatal=true fails the run.",
		},
		{
			Name:        "report_progress",
			Kind:        KindReport,
			Parameters:  []string{"message"},
			Description: "Record progress on the current stage.",
		},
	}
	for _, target := range []string{
		domain.AgentBackend,
		domain.AgentFrontend,
		domain.AgentIntegrator,
		domain.AgentQA,
		domain.AgentDevOps,
	} {
		specs = append(specs, Spec{
			Name:        "handoff_to_" + target,
			Kind:        KindHandoff,
			Target:      target,
			Parameters:  []string{"skip", "summary"},
			Description: "Pass control to the " + target + " agent.",
		})
	}

	m := make(map[string]Spec, len(specs))
	for _, s := range specs {
		m[s.Name] = s
	}
	return m
}

// Parse resolves a tool name to its spec.
func Parse(name string) (Spec, error) {
	s, ok := registry[name]
	if !ok {
		return Spec{}, domain.Errorf(domain.KindUnknownTool, "tool %q is not registered", name)
	}
	return s, nil
}

// List returns every registered tool sorted by name.
func List() []Spec {
	out := make([]Spec, 0, len(registry))
	for _, s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Items converts the registry into API list items.
func Items() []domain.ToolListItem {
	specs := List()
	items := make([]domain.ToolListItem, len(specs))
	for i, s := range specs {
		items[i] = domain.ToolListItem{
			Name:        s.Name,
			Kind:        string(s.Kind),
			Target:      s.Target,
			Parameters:  append([]string(nil), s.Parameters...),
			Description: s.Description,
		}
	}
	return items
}
