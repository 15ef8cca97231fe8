package llm

import (
	"os"
	"time"

	"go.uber.org/zap"
)

const (
	// EnvMode selects the LLM client implementation.
	EnvMode = "APPFORGE_MODE"
	// ModeMock scripts agent replies instead of calling the gateway.
	ModeMock = "MOCK"
)

// NewLLMClient returns a MockClient when APPFORGE_MODE=MOCK and a gateway
// client otherwise.
func NewLLMClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) LLMClient {
	if os.Getenv(EnvMode) == ModeMock {
		logger.Info("mock mode enabled, agents use scripted replies", zap.String("env", EnvMode))
		return NewMockClient()
	}
	return NewClient(baseURL, apiKey, timeout)
}
