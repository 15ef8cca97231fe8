package llm

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/xiaot623/appforge/internal/domain"
)

// Backend turns an invocation into one chat completion. Calls share a rate
// limiter so a looping pipeline cannot flood the model provider.
type Backend struct {
	client       LLMClient
	limiter      *rate.Limiter
	defaultModel string
	temperature  float64
}

// NewBackend creates a backend. A nil limiter disables rate limiting.
func NewBackend(client LLMClient, defaultModel string, limiter *rate.Limiter) *Backend {
	return &Backend{
		client:       client,
		limiter:      limiter,
		defaultModel: defaultModel,
		temperature:  0.2,
	}
}

// Invoke asks model for the agent's reply. "default" or an empty model uses
// the configured default.
func (b *Backend) Invoke(ctx context.Context, model string, inv domain.Invocation) (string, error) {
	if model == "" || model == "default" {
		model = b.defaultModel
	}
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	temperature := b.temperature
	resp, err := b.client.CreateChatCompletion(ctx, &ChatCompletionRequest{
		Model: model,
		Messages: []ChatMessage{
			{Role: "system", Content: inv.SystemPrompt},
			{Role: "user", Content: inv.Prompt},
		},
		Temperature:    &temperature,
		ResponseFormat: map[string]interface{}{"type": "json_object"},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return "", fmt.Errorf("model %s returned no choices", model)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("model %s returned an empty message", model)
	}
	return content, nil
}
