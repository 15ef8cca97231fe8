package driver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xiaot623/appforge/internal/domain"
	"github.com/xiaot623/appforge/internal/engine"
	"github.com/xiaot623/appforge/internal/tools"
)

const replyFormat = `Reply with a single JSON object, optionally inside a ` + "```json" + ` fence:
{
  "narration": "what you did and why, for the next agent",
  "plan": {"summary": "...", "steps": ["..."]},
  "tool_calls": [{"name": "<tool>", "parameters": {}}],
  "actions": [{"type": "write_file|install|shell", "path": "", "content": "", "packages": [], "command": ""}]
}`

// SystemPrompt renders the instructions for one agent turn.
func SystemPrompt(turn engine.Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s (%s) of an application-building pipeline.\n", turn.Agent.DisplayName, turn.Agent.ID)
	if turn.Agent.Role != "" {
		fmt.Fprintf(&b, "Role: %s\n", turn.Agent.Role)
	}
	if len(turn.Agent.Capabilities) > 0 {
		fmt.Fprintf(&b, "Capabilities: %s\n", strings.Join(turn.Agent.Capabilities, ", "))
	}
	fmt.Fprintf(&b, "Phase: %s\n", turn.Phase)

	if turn.Phase == domain.PhasePlanning {
		b.WriteString("\nProduce a build plan in the \"plan\" field: a one-line summary and ordered, non-empty steps.\n")
		b.WriteString("The plan is reviewed by a human before any agent starts building.\n")
	} else {
		if turn.Context.FinalStage {
			b.WriteString("Final stage: yes\n")
			b.WriteString("\nWhen the application is deployed call deploy (or mark_complete) to finish the run.\n")
		} else if turn.Context.NextAgent != "" {
			fmt.Fprintf(&b, "Next agent: %s\n", turn.Context.NextAgent)
			b.WriteString("\nWhen your part is done hand off to the next agent. Forward hand-offs may not skip stages unless you list them in \"skip\".\n")
		}
		b.WriteString("\nTools:\n")
		for _, s := range tools.List() {
			fmt.Fprintf(&b, "- %s (%s", s.Name, s.Kind)
			if len(s.Parameters) > 0 {
				fmt.Fprintf(&b, "; params: %s", strings.Join(s.Parameters, ", "))
			}
			fmt.Fprintf(&b, "): %s\n", s.Description)
		}
	}

	b.WriteString("\n")
	b.WriteString(replyFormat)
	return b.String()
}

// UserPrompt renders the accumulated run context as the user message.
func UserPrompt(ctx domain.InvocationContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", ctx.UserRequest)
	if ctx.Plan != nil {
		fmt.Fprintf(&b, "\nApproved plan: %s\n", ctx.Plan.Summary)
		for i, step := range ctx.Plan.Steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step)
		}
	}
	if len(ctx.Transcript) > 0 {
		b.WriteString("\nWork so far:\n")
		for _, t := range ctx.Transcript {
			fmt.Fprintf(&b, "[%s]", t.Agent)
			if t.Narration != "" {
				fmt.Fprintf(&b, " %s", t.Narration)
			}
			b.WriteString("\n")
			for _, call := range t.ToolCalls {
				fmt.Fprintf(&b, "  %s %s", call.ToolName, compact(call.Parameters))
				if call.Error != nil {
					fmt.Fprintf(&b, " -> error: %s", call.Error.Message)
				} else if len(call.Result) > 0 {
					fmt.Fprintf(&b, " -> %s", compact(call.Result))
				}
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

func compact(v map[string]interface{}) string {
	if len(v) == 0 {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
