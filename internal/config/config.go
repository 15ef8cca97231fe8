// Package config loads the orchestrator configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/xiaot623/appforge/internal/domain"
	"github.com/xiaot623/appforge/internal/logging"
	"github.com/xiaot623/appforge/internal/telemetry"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "APPFORGE_"
	// FileEnv names the variable holding the optional YAML file path.
	FileEnv = "APPFORGE_CONFIG"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Config holds the orchestrator configuration.
type Config struct {
	Server    ServerConfig             `koanf:"server"`
	Database  DatabaseConfig           `koanf:"database"`
	LLM       LLMConfig                `koanf:"llm"`
	Engine    EngineConfig             `koanf:"engine"`
	Log       logging.Config           `koanf:"log"`
	Policy    PolicyConfig             `koanf:"policy"`
	Telemetry telemetry.Config         `koanf:"telemetry"`
	Agents   []domain.AgentDescriptor `koanf:"agents"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	HTTPPort        int           `koanf:"http_port"`
	InternalPort    int           `koanf:"internal_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig holds the journal DSN.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// LLMConfig configures the chat-completions backend.
type LLMConfig struct {
	BaseURL   string        `koanf:"base_url"`
	APIKey    string        `koanf:"api_key"`
	Model     string        `koanf:"model"`
	Timeout   time.Duration `koanf:"timeout"`
	RateLimit float64       `koanf:"rate_limit"` // requests per second, 0 disables
	Burst     int           `koanf:"burst"`
}

// EngineConfig configures the state machine and driver.
type EngineConfig struct {
	StepBudget   int           `koanf:"step_budget"`
	AgentTimeout time.Duration `koanf:"agent_timeout"`
	PollInterval time.Duration `koanf:"poll_interval"`
}

// PolicyConfig points at a rego file replacing the built-in action policy.
type PolicyConfig struct {
	File string `koanf:"file"`
}

// Load reads the YAML file named by APPFORGE_CONFIG, if set, and then applies
// APPFORGE_* environment overrides.
//
//	APPFORGE_SERVER_HTTP_PORT -> server.http_port
//	APPFORGE_LLM_BASE_URL     -> llm.base_url
func Load() (*Config, error) {
	return LoadWithFile(os.Getenv(FileEnv))
}

// LoadWithFile is Load with an explicit file path. An empty path skips the file.
func LoadWithFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps APPFORGE_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.InternalPort == 0 {
		cfg.Server.InternalPort = 8081
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = "file:appforge.db?cache=shared&mode=rwc"
	}

	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "http://localhost:4000"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 3 * time.Minute
	}
	if cfg.LLM.RateLimit > 0 && cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 1
	}

	if cfg.Engine.StepBudget == 0 {
		cfg.Engine.StepBudget = 25
	}
	if cfg.Engine.AgentTimeout == 0 {
		cfg.Engine.AgentTimeout = 2 * time.Minute
	}
	if cfg.Engine.PollInterval == 0 {
		cfg.Engine.PollInterval = 2 * time.Second
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "appforge"
	}
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid server.http_port %d", c.Server.HTTPPort)
	}
	if c.Server.InternalPort <= 0 || c.Server.InternalPort > 65535 {
		return fmt.Errorf("invalid server.internal_port %d", c.Server.InternalPort)
	}
	if c.Server.HTTPPort == c.Server.InternalPort {
		return fmt.Errorf("server.http_port and server.internal_port must differ")
	}
	if c.Engine.StepBudget < 0 {
		return fmt.Errorf("engine.step_budget must not be negative")
	}
	if c.LLM.RateLimit < 0 {
		return fmt.Errorf("llm.rate_limit must not be negative")
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return c.Telemetry.Validate()
}
