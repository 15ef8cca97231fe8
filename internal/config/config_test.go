package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 8081, cfg.Server.InternalPort)
	assert.Equal(t, 25, cfg.Engine.StepBudget)
	assert.Equal(t, 2*time.Minute, cfg.Engine.AgentTimeout)
	assert.Equal(t, 2*time.Second, cfg.Engine.PollInterval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Agents)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "grpc", cfg.Telemetry.Protocol)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRate)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appforge.yaml")
	content := `
server:
  http_port: 9000
engine:
  step_budget: 10
  agent_timeout: 30s
llm:
  model: gpt-4o
  rate_limit: 2
agents:
  - id: architect
    capabilities: [plan]
    backend_reference: llm:gpt-4o
  - id: builder
    capabilities: [execute, deploy]
    backend_reference: http://localhost:9100
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("APPFORGE_SERVER_HTTP_PORT", "9100")
	t.Setenv("APPFORGE_LOG_LEVEL", "debug")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.HTTPPort)
	assert.Equal(t, 10, cfg.Engine.StepBudget)
	assert.Equal(t, 30*time.Second, cfg.Engine.AgentTimeout)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 2.0, cfg.LLM.RateLimit)
	assert.Equal(t, 1, cfg.LLM.Burst)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, "builder", cfg.Agents[1].ID)
	assert.Equal(t, []string{"execute", "deploy"}, cfg.Agents[1].Capabilities)
}

func TestLoadUsesConfigEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  url: \":memory:\"\n"), 0o600))
	t.Setenv(FileEnv, path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":memory:", cfg.Database.URL)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("APPFORGE_SERVER_INTERNAL_PORT", "8080")
	_, err := LoadWithFile("")
	assert.Error(t, err)

	_, err = LoadWithFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadTelemetryFromEnv(t *testing.T) {
	t.Setenv("APPFORGE_TELEMETRY_ENABLED", "true")
	t.Setenv("APPFORGE_TELEMETRY_ENDPOINT", "otel:4318")
	t.Setenv("APPFORGE_TELEMETRY_PROTOCOL", "http/protobuf")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "otel:4318", cfg.Telemetry.Endpoint)
	assert.Equal(t, "http/protobuf", cfg.Telemetry.Protocol)

	t.Setenv("APPFORGE_TELEMETRY_PROTOCOL", "udp")
	_, err = LoadWithFile("")
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.http_port", envKey("APPFORGE_SERVER_HTTP_PORT"))
	assert.Equal(t, "llm.base_url", envKey("APPFORGE_LLM_BASE_URL"))
	assert.Equal(t, "config", envKey("APPFORGE_CONFIG"))
}
