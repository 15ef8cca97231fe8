package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MockClient scripts a well-behaved pipeline: the planner proposes a plan,
// each stage hands off to the next one and the final stage deploys.
type MockClient struct{}

// NewMockClient creates a new mock LLM client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Ensure MockClient implements LLMClient interface.
var _ LLMClient = (*MockClient)(nil)

// CreateChatCompletion returns a scripted reply for the agent in the prompt.
func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	responseContent := m.generateMockResponse(req)

	return &ChatCompletionResponse{
		ID:      fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []Choice{
			{
				Index: 0,
				Message: &ChatMessage{
					Role:    "assistant",
					Content: responseContent,
				},
				FinishReason: "stop",
			},
		},
		Usage: &Usage{
			PromptTokens:     m.estimateTokens(req),
			CompletionTokens: len(responseContent) / 4,
			TotalTokens:      m.estimateTokens(req) + len(responseContent)/4,
		},
	}, nil
}

type mockReply struct {
	Narration string                   `json:"narration"`
	Plan      *mockPlan                `json:"plan,omitempty"`
	ToolCalls []map[string]interface{} `json:"tool_calls,omitempty"`
	Actions   []map[string]interface{} `json:"actions,omitempty"`
}

type mockPlan struct {
	Summary string   `json:"summary"`
	Steps   []string `json:"steps"`
}

// generateMockResponse reads the "Phase:", "Next agent:" and "Final stage:"
// lines of the system prompt and the "Request:" line of the user prompt.
func (m *MockClient) generateMockResponse(req *ChatCompletionRequest) string {
	var system, user string
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			system = msg.Content
		case "user":
			user = msg.Content
		}
	}

	request := lineValue(user, "Request:")
	if request == "" {
		request = "the requested application"
	}

	var reply mockReply
	switch {
	case lineValue(system, "Phase:") == "planning":
		reply = mockReply{
			Narration: fmt.Sprintf("[MOCK] Planned %s.", truncate(request, 60)),
			Plan: &mockPlan{
				Summary: "Build " + truncate(request, 80),
				Steps: []string{
					"Design the data model and REST API",
					"Build the user interface",
					"Connect the interface to the API",
					"Write and run tests",
					"Deploy",
				},
			},
		}
	case lineValue(system, "Final stage:") == "yes":
		reply = mockReply{
			Narration: "[MOCK] Deployed.",
			ToolCalls: []map[string]interface{}{{
				"name":       "deploy",
				"parameters": map[string]interface{}{"url": "https://preview.appforge.local/mock"},
			}},
		}
	default:
		next := lineValue(system, "Next agent:")
		reply = mockReply{
			Narration: "[MOCK] Stage finished.",
			Actions: []map[string]interface{}{{
				"type":    "write_file",
				"path":    "NOTES.md",
				"content": "mock output",
			}},
		}
		if next != "" {
			reply.ToolCalls = []map[string]interface{}{{
				"name":       "handoff",
				"parameters": map[string]interface{}{"to": next},
			}}
		}
	}

	data, err := json.Marshal(reply)
	if err != nil {
		return "[MOCK] This is a mock response from the LLM client."
	}
	return string(data)
}

// estimateTokens provides a rough token count estimate.
func (m *MockClient) estimateTokens(req *ChatCompletionRequest) int {
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	return total
}

func lineValue(text, prefix string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
