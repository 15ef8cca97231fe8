// Package llm provides the chat-completions backend for agents whose
// backend reference is "llm:<model>".
package llm

import "context"

// LLMClient defines the chat completion operation agents need.
type LLMClient interface {
	CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)
}

// Ensure Client implements LLMClient interface.
var _ LLMClient = (*Client)(nil)
