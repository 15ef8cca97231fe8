package driver

import (
	"encoding/json"
	"strings"

	"github.com/xiaot623/appforge/internal/domain"
)

// ParseReply extracts the structured reply from an agent's raw text.
// The JSON object may be bare or wrapped in a ```json fence. Text that holds
// no decodable object becomes a narration-only reply marked malformed.
func ParseReply(text string) domain.AgentReply {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.AgentReply{Malformed: true}
	}

	for _, candidate := range candidates(text) {
		var reply domain.AgentReply
		if err := json.NewDecoder(strings.NewReader(candidate)).Decode(&reply); err != nil {
			continue
		}
		reply.ToolCalls = normalizeCalls(reply.ToolCalls)
		reply.Actions = normalizeActions(reply.Actions)
		if reply.Narration == "" && reply.Plan == nil && len(reply.ToolCalls) == 0 && len(reply.Actions) == 0 {
			continue
		}
		if reply.Narration == "" {
			reply.Narration = outside(text, candidate)
		}
		return reply
	}
	return domain.AgentReply{Narration: text, Malformed: true}
}

// candidates returns the substrings that may hold the reply object, most
// specific first.
func candidates(text string) []string {
	var out []string
	rest := text
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			break
		}
		body := rest[start+3:]
		end := strings.Index(body, "```")
		if end < 0 {
			break
		}
		block := body[:end]
		if nl := strings.IndexByte(block, '\n'); nl >= 0 && !strings.HasPrefix(strings.TrimSpace(block[:nl]), "{") {
			block = block[nl+1:]
		}
		if block = strings.TrimSpace(block); strings.HasPrefix(block, "{") {
			out = append(out, block)
		}
		rest = body[end+3:]
	}
	if first, last := strings.IndexByte(text, '{'), strings.LastIndexByte(text, '}'); first >= 0 && last > first {
		out = append(out, text[first:last+1])
	}
	return out
}

func outside(text, candidate string) string {
	i := strings.Index(text, candidate)
	if i < 0 {
		return ""
	}
	before := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text[:i]), "```json"))
	before = strings.TrimSpace(strings.TrimSuffix(before, "```"))
	after := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text[i+len(candidate):]), "```"))
	return strings.TrimSpace(before + "\n" + after)
}

func normalizeCalls(calls []domain.ToolCall) []domain.ToolCall {
	out := calls[:0]
	for _, c := range calls {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func normalizeActions(actions []domain.Action) []domain.Action {
	out := actions[:0]
	for _, a := range actions {
		switch a.Type {
		case domain.ActionWriteFile, domain.ActionInstall, domain.ActionShell:
			out = append(out, a)
		}
	}
	return out
}
