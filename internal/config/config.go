package config

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/harun/agentflow/internal/logger"
	"github.com/harun/agentflow/pkg/agent"
)

// Config is the agentflow process configuration.
type Config struct {
	DataDir   string                      `json:"data_dir" mapstructure:"data_dir"`
	Logging   logger.Config               `json:"logging" mapstructure:"logging"`
	Server    ServerConfig                `json:"server" mapstructure:"server"`
	Engine    EngineConfig                `json:"engine" mapstructure:"engine"`
	Stream    StreamConfig                `json:"stream" mapstructure:"stream"`
	Storage   StorageConfig               `json:"storage" mapstructure:"storage"`
	Providers ProvidersConfig             `json:"providers" mapstructure:"providers"`
	Tools     ToolsConfig                 `json:"tools" mapstructure:"tools"`
	Tracing   TracingConfig               `json:"tracing" mapstructure:"tracing"`
	Agents    map[string]agent.Definition `json:"agents" mapstructure:"agents"`
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Addr            string        `json:"addr" mapstructure:"addr"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	AuditLog        string        `json:"audit_log" mapstructure:"audit_log"`
	AuthToken       string        `json:"auth_token" mapstructure:"auth_token"` // bearer token for /v1 routes
	RateLimit       int           `json:"rate_limit" mapstructure:"rate_limit"` // requests per minute per client, 0 disables
}

// EngineConfig holds orchestration defaults applied to agents that do not override them.
type EngineConfig struct {
	MaxIterations    int           `json:"max_iterations" mapstructure:"max_iterations"`
	ParallelTools    bool          `json:"parallel_tools" mapstructure:"parallel_tools"`
	MaxParallelTools int           `json:"max_parallel_tools" mapstructure:"max_parallel_tools"`
	ToolTimeout      time.Duration `json:"tool_timeout" mapstructure:"tool_timeout"`
	ModelTimeout     time.Duration `json:"model_timeout" mapstructure:"model_timeout"`
}

// StreamConfig sizes per-conversation event streams.
type StreamConfig struct {
	QueueCapacity     int           `json:"queue_capacity" mapstructure:"queue_capacity"`
	KeepaliveInterval time.Duration `json:"keepalive_interval" mapstructure:"keepalive_interval"`
	IdleTimeout       time.Duration `json:"idle_timeout" mapstructure:"idle_timeout"`
	SweepInterval     time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`
}

// StorageConfig selects the conversation store.
type StorageConfig struct {
	Driver  string `json:"driver" mapstructure:"driver"`   // jsonl, sqlite
	Path    string `json:"path" mapstructure:"path"`       // directory for jsonl, file for sqlite
	Persist string `json:"persist" mapstructure:"persist"` // exit, round
}

// ProviderCredentials holds access settings for one model vendor.
type ProviderCredentials struct {
	APIKey  string `json:"api_key" mapstructure:"api_key"`
	BaseURL string `json:"base_url" mapstructure:"base_url"`
}

// ProvidersConfig holds credentials per provider kind.
type ProvidersConfig struct {
	OpenAI    ProviderCredentials `json:"openai" mapstructure:"openai"`
	Anthropic ProviderCredentials `json:"anthropic" mapstructure:"anthropic"`
	Gemini    ProviderCredentials `json:"gemini" mapstructure:"gemini"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	SQLiteDatabase string `json:"sqlite_database" mapstructure:"sqlite_database"`
	SQLReadOnly    bool   `json:"sql_read_only" mapstructure:"sql_read_only"`
	MemoryDir      string `json:"memory_dir" mapstructure:"memory_dir"`
}

// TracingConfig toggles OpenTelemetry.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
}

// DefaultConfig returns a configuration with every default filled in.
func DefaultConfig() *Config {
	return &Config{
		Logging: logger.DefaultConfig(),
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       120,
		},
		Engine: EngineConfig{
			MaxIterations:    20,
			ParallelTools:    true,
			MaxParallelTools: 3,
			ToolTimeout:      30 * time.Second,
			ModelTimeout:     2 * time.Minute,
		},
		Stream: StreamConfig{
			QueueCapacity:     10,
			KeepaliveInterval: 30 * time.Second,
			IdleTimeout:       5 * time.Minute,
			SweepInterval:     60 * time.Second,
		},
		Storage: StorageConfig{
			Driver:  "jsonl",
			Persist: "exit",
		},
		Tools: ToolsConfig{
			SQLReadOnly: true,
		},
		Tracing: TracingConfig{
			ServiceName: "agentflow",
		},
		Agents: map[string]agent.Definition{
			"assistant": {
				Class:        agent.DefaultClass,
				Provider:     "openai",
				Model:        "gpt-4o-mini",
				SystemPrompt: "You are a helpful assistant. Use the calculator for arithmetic.",
				Tools:        []string{"calculator"},
			},
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}

// AgentDefinitions returns the configured agents with names and engine defaults filled in.
func (c *Config) AgentDefinitions() map[string]agent.Definition {
	out := make(map[string]agent.Definition, len(c.Agents))
	for name, def := range c.Agents {
		def.Name = name
		if def.Class == "" {
			def.Class = agent.DefaultClass
		}
		if def.MaxIterations == 0 {
			def.MaxIterations = c.Engine.MaxIterations
		}
		if def.ParallelTools == nil {
			parallel := c.Engine.ParallelTools
			def.ParallelTools = &parallel
		}
		if def.MaxParallelTools == 0 {
			def.MaxParallelTools = c.Engine.MaxParallelTools
		}
		out[name] = def
	}
	return out
}

// ProviderCredentials returns credentials keyed by provider kind.
func (c *Config) ProviderCredentials() map[string]agent.Credentials {
	return map[string]agent.Credentials{
		agent.ProviderOpenAI:    {APIKey: c.Providers.OpenAI.APIKey, BaseURL: c.Providers.OpenAI.BaseURL},
		agent.ProviderAnthropic: {APIKey: c.Providers.Anthropic.APIKey, BaseURL: c.Providers.Anthropic.BaseURL},
		agent.ProviderGemini:    {APIKey: c.Providers.Gemini.APIKey, BaseURL: c.Providers.Gemini.BaseURL},
	}
}
