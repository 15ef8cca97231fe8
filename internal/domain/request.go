package domain

// StartRequest is the request to start a new pipeline run.
type StartRequest struct {
	UserRequest string `json:"user_request"`
}

// ApprovePlanRequest carries the (possibly edited) plan a human approved.
type ApprovePlanRequest struct {
	Summary string   `json:"summary"`
	Steps   []string `json:"steps"`
}

// Plan converts the request into a plan value.
func (r ApprovePlanRequest) Plan() Plan {
	return Plan{Summary: r.Summary, Steps: r.Steps}
}

// ToolCallRequest is a client-issued tool call.
type ToolCallRequest struct {
	ToolName   string                 `json:"tool_name"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// ErrorResponse is the body returned for failed requests.
type ErrorResponse struct {
	Error string    `json:"error"`
	Kind  ErrorKind `json:"kind,omitempty"`
}

// ToolListItem represents a tool in the list response.
type ToolListItem struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Target      string   `json:"target,omitempty"`
	Parameters  []string `json:"parameters,omitempty"`
	Description string   `json:"description"`
}

// ListToolsResponse represents the response for listing tools.
type ListToolsResponse struct {
	Tools []ToolListItem `json:"tools"`
}
