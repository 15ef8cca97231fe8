package domain

// Invocation is what the driver sends to an AI backend for one agent turn.
// Prompt is Context rendered as the user message for text-only backends.
type Invocation struct {
	RunID        string            `json:"run_id"`
	Agent        AgentDescriptor   `json:"agent"`
	SystemPrompt string            `json:"system_prompt"`
	Prompt       string            `json:"prompt"`
	Context      InvocationContext `json:"context"`
}

// InvocationContext is the accumulated context handed to an agent.
type InvocationContext struct {
	UserRequest string       `json:"user_request"`
	Plan        *Plan        `json:"plan,omitempty"`
	NextAgent   string       `json:"next_agent,omitempty"`
	FinalStage  bool         `json:"final_stage"`
	Transcript  []TurnRecord `json:"transcript,omitempty"`
}

// TurnRecord is one prior agent output shown to later agents.
type TurnRecord struct {
	Agent     string           `json:"agent"`
	Narration string           `json:"narration,omitempty"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
}

// ToolCall is a tool invocation requested by a client or an agent.
type ToolCall struct {
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// Action is a side effect an agent asks the caller to perform.
type Action struct {
	Type     ActionType `json:"type"`
	Path     string     `json:"path,omitempty"`
	Content  string     `json:"content,omitempty"`
	Packages []string   `json:"packages,omitempty"`
	Command  string     `json:"command,omitempty"`
}

// AgentReply is the parsed structured output of one agent turn.
type AgentReply struct {
	Narration string     `json:"narration,omitempty"`
	Plan      *Plan      `json:"plan,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Actions   []Action   `json:"actions,omitempty"`
	Malformed bool       `json:"-"`
}

// DeltaEventData is the data for a delta SSE event from an agent endpoint.
type DeltaEventData struct {
	Text  string `json:"text"`
	RunID string `json:"run_id"`
}

// DoneEventData is the data for a done SSE event.
type DoneEventData struct {
	Usage        *UsageData `json:"usage,omitempty"`
	FinalMessage string     `json:"final_message,omitempty"`
}

// UsageData represents token usage information.
type UsageData struct {
	TotalTokens      int `json:"total_tokens,omitempty"`
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	DurationMs       int `json:"duration_ms,omitempty"`
}

// ErrorEventData is the data for an error SSE event.
type ErrorEventData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
