package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/appforge/internal/domain"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		wantMalformed bool
		wantNarration string
		wantCalls     []string
		wantPlan      bool
		wantActions   int
	}{
		{
			name:          "bare object",
			text:          `{"narration":"done","tool_calls":[{"name":"handoff_to_frontend","parameters":{"summary":"api up"}}]}`,
			wantNarration: "done",
			wantCalls:     []string{"handoff_to_frontend"},
		},
		{
			name:          "fenced with prose",
			text:          "Here you go.\n```json\n{\"plan\":{\"summary\":\"Todo\",\"steps\":[\"api\"]}}\n```\nThanks.",
			wantNarration: "Here you go.\nThanks.",
			wantPlan:      true,
		},
		{
			name:          "plain text",
			text:          "I need more time.",
			wantMalformed: true,
			wantNarration: "I need more time.",
		},
		{
			name:          "broken json",
			text:          `{"narration": "oops", "tool_calls": [}`,
			wantMalformed: true,
			wantNarration: `{"narration": "oops", "tool_calls": [}`,
		},
		{
			name:          "unrelated object",
			text:          `{"status":"ok"}`,
			wantMalformed: true,
			wantNarration: `{"status":"ok"}`,
		},
		{
			name:          "empty",
			text:          "   ",
			wantMalformed: true,
		},
		{
			name:          "drops nameless calls and unknown actions",
			text:          `{"narration":"x","tool_calls":[{"name":" "},{"name":"report_progress"}],"actions":[{"type":"write_file","path":"a.go"},{"type":"reboot"}]}`,
			wantNarration: "x",
			wantCalls:     []string{"report_progress"},
			wantActions:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := ParseReply(tt.text)
			assert.Equal(t, tt.wantMalformed, reply.Malformed)
			assert.Equal(t, tt.wantNarration, reply.Narration)
			assert.Equal(t, tt.wantPlan, reply.Plan != nil)
			assert.Len(t, reply.Actions, tt.wantActions)

			var names []string
			for _, c := range reply.ToolCalls {
				names = append(names, c.Name)
			}
			assert.Equal(t, tt.wantCalls, names)
		})
	}
}

func TestParseReplyKeepsParameters(t *testing.T) {
	reply := ParseReply(`{"tool_calls":[{"name":"handoff","parameters":{"to":"qa","skip":["frontend","integrator"]}}]}`)
	require.Len(t, reply.ToolCalls, 1)
	params := reply.ToolCalls[0].Parameters
	assert.Equal(t, "qa", params["to"])
	assert.Equal(t, []interface{}{"frontend", "integrator"}, params["skip"])
}

func TestUserPromptIncludesTranscript(t *testing.T) {
	prompt := UserPrompt(domain.InvocationContext{
		UserRequest: "todo app",
		Plan:        &domain.Plan{Summary: "Todo", Steps: []string{"api", "ui"}},
		Transcript: []domain.TurnRecord{{
			Agent:     domain.AgentBackend,
			Narration: "schema done",
			ToolCalls: []domain.ToolCallRecord{{
				ToolName:   "handoff_to_frontend",
				Parameters: map[string]interface{}{},
				Result:     map[string]interface{}{"to": "frontend"},
			}},
		}},
	})

	assert.Contains(t, prompt, "Request: todo app")
	assert.Contains(t, prompt, "2. ui")
	assert.Contains(t, prompt, "[backend] schema done")
	assert.Contains(t, prompt, `handoff_to_frontend {} -> {"to":"frontend"}`)
}
