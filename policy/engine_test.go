package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/appforge/internal/domain"
)

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	tests := []struct {
		name   string
		action domain.Action
		want   domain.PolicyDecision
	}{
		{"write file", domain.Action{Type: domain.ActionWriteFile, Path: "src/app.ts", Content: "export {}"}, domain.DecisionAllow},
		{"install", domain.Action{Type: domain.ActionInstall, Packages: []string{"react"}}, domain.DecisionAllow},
		{"npm test", domain.Action{Type: domain.ActionShell, Command: "npm test"}, domain.DecisionAllow},
		{"rm build dir", domain.Action{Type: domain.ActionShell, Command: "rm -rf ./build"}, domain.DecisionAllow},
		{"rm root", domain.Action{Type: domain.ActionShell, Command: "rm -rf /"}, domain.DecisionBlock},
		{"rm root glob", domain.Action{Type: domain.ActionShell, Command: "sudo rm -fr /*"}, domain.DecisionBlock},
		{"mkfs", domain.Action{Type: domain.ActionShell, Command: "mkfs.ext4 /dev/sda1"}, domain.DecisionBlock},
		{"absolute path", domain.Action{Type: domain.ActionWriteFile, Path: "/etc/passwd"}, domain.DecisionBlock},
		{"parent path", domain.Action{Type: domain.ActionWriteFile, Path: "../../.ssh/authorized_keys"}, domain.DecisionBlock},
		{"empty install", domain.Action{Type: domain.ActionInstall}, domain.DecisionBlock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, reason, err := engine.EvaluateAction(ctx, "run-1", domain.AgentDevOps, tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.want, decision)
			if tt.want == domain.DecisionBlock {
				assert.NotEmpty(t, reason)
			} else {
				assert.Empty(t, reason)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.rego")
	content := `
package action_policy

default decision = "allow"

decision = "block" {
	count(deny) > 0
}

deny[msg] {
	input.agent == "qa"
	input.action.type == "install"
	msg := "qa may not install packages"
}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	engine, err := Load(context.Background(), path)
	require.NoError(t, err)

	decision, reason, err := engine.EvaluateAction(context.Background(), "run-1", domain.AgentQA, domain.Action{Type: domain.ActionInstall, Packages: []string{"jest"}})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionBlock, decision)
	assert.Equal(t, "qa may not install packages", reason)

	decision, _, err = engine.EvaluateAction(context.Background(), "run-1", domain.AgentFrontend, domain.Action{Type: domain.ActionInstall, Packages: []string{"jest"}})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionAllow, decision)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.rego"))
	assert.Error(t, err)

	_, err = NewEngine(context.Background(), "package action_policy\n\ndecision = {")
	assert.Error(t, err)
}
