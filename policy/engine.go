package policy

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/rego"

	"github.com/xiaot623/appforge/internal/domain"
)

// Engine is the OPA policy engine for agent actions.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content. The
// module must be in package action_policy and define decision and deny.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("decision := data.action_policy.decision; reasons := data.action_policy.deny"),
		rego.Module("action_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Load reads the policy from path, or uses DefaultPolicy when path is empty.
func Load(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy %s: %w", path, err)
	}
	return NewEngine(ctx, string(content))
}

// Evaluate runs the policy against input and returns the decision with the
// deny reasons joined.
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (domain.PolicyDecision, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 {
		return domain.DecisionAllow, "", nil
	}

	decision := domain.DecisionAllow
	if s, ok := results[0].Bindings["decision"].(string); ok {
		decision = domain.PolicyDecision(s)
	}
	switch decision {
	case domain.DecisionAllow, domain.DecisionBlock:
	default:
		return "", "", fmt.Errorf("policy returned unknown decision %q", decision)
	}

	var reasons []string
	if set, ok := results[0].Bindings["reasons"].([]interface{}); ok {
		for _, r := range set {
			if s, ok := r.(string); ok {
				reasons = append(reasons, s)
			}
		}
	}
	sort.Strings(reasons)
	return decision, strings.Join(reasons, "; "), nil
}

// EvaluateAction checks one agent action.
func (e *Engine) EvaluateAction(ctx context.Context, runID, agent string, action domain.Action) (domain.PolicyDecision, string, error) {
	packages := make([]interface{}, len(action.Packages))
	for i, p := range action.Packages {
		packages[i] = p
	}
	return e.Evaluate(ctx, map[string]interface{}{
		"run_id": runID,
		"agent":  agent,
		"action": map[string]interface{}{
			"type":     string(action.Type),
			"path":     action.Path,
			"content":  action.Content,
			"packages": packages,
			"command":  action.Command,
		},
	})
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package action_policy

default decision = "allow"

decision = "block" {
	count(deny) > 0
}

# Block wiping the filesystem root
deny[msg] {
	input.action.type == "shell"
	re_match("rm\\s+-[a-zA-Z]*(rf|fr)[a-zA-Z]*\\s+(--no-preserve-root\\s+)?/(\\s|\\*|$)", input.action.command)
	msg := "recursive delete of the filesystem root"
}

# Block raw disk writes
deny[msg] {
	input.action.type == "shell"
	re_match("(^|\\s)(mkfs(\\.[a-z0-9]+)?|dd\\s+.*of=/dev/)", input.action.command)
	msg := "raw disk operation"
}

deny[msg] {
	input.action.type == "shell"
	contains(input.action.command, ":(){ :|:& };:")
	msg := "fork bomb"
}

# Files stay inside the workspace
deny[msg] {
	input.action.type == "write_file"
	startswith(input.action.path, "/")
	msg := "absolute path outside the workspace"
}

deny[msg] {
	input.action.type == "write_file"
	contains(input.action.path, "..")
	msg := "path escapes the workspace"
}

deny[msg] {
	input.action.type == "install"
	count(input.action.packages) == 0
	msg := "install without packages"
}
`
