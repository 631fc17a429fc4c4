package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harun/agentflow/pkg/agent"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

func oneOf(field, value string, valid ...string) error {
	for _, v := range valid {
		if value == v {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: %q (must be one of: %s)", field, value, strings.Join(valid, ", "))
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	return oneOf("log level", level, "debug", "info", "warn", "error")
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", temp)
	}
	return nil
}

// ValidateAgent checks one agent definition.
func (v *Validator) ValidateAgent(name string, def agent.Definition) []error {
	var errs []error
	wrap := func(err error) {
		errs = append(errs, fmt.Errorf("agent %s: %w", name, err))
	}

	if def.Model == "" {
		wrap(fmt.Errorf("model_name is required"))
	}
	if err := oneOf("model_type", agent.NormalizeProviderKind(def.Provider), agent.ProviderKinds()...); err != nil {
		wrap(err)
	}
	if err := v.ValidateTemperature(def.Temperature); err != nil {
		wrap(err)
	}
	if def.MaxTokens < 0 {
		wrap(fmt.Errorf("max_tokens must be >= 0"))
	}
	if def.MaxParallelTools < 0 {
		wrap(fmt.Errorf("max_parallel_tools must be >= 0"))
	}
	if def.MaxIterations < 0 {
		wrap(fmt.Errorf("max_iterations must be >= 0"))
	}
	return errs
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if cfg.Server.Addr == "" {
		errs = append(errs, fmt.Errorf("server.addr is required"))
	}
	if cfg.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit must be >= 0"))
	}

	if cfg.Engine.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("engine.max_iterations must be >= 1"))
	}
	if cfg.Engine.MaxParallelTools < 1 {
		errs = append(errs, fmt.Errorf("engine.max_parallel_tools must be >= 1"))
	}
	if cfg.Engine.ToolTimeout < 0 {
		errs = append(errs, fmt.Errorf("engine.tool_timeout must be >= 0"))
	}

	if cfg.Stream.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("stream.queue_capacity must be >= 1"))
	}
	if cfg.Stream.KeepaliveInterval <= 0 || cfg.Stream.IdleTimeout <= 0 || cfg.Stream.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("stream intervals must be positive"))
	}

	if err := oneOf("storage.driver", cfg.Storage.Driver, "jsonl", "sqlite"); err != nil {
		errs = append(errs, err)
	}
	if err := oneOf("storage.persist", cfg.Storage.Persist, "exit", "round"); err != nil {
		errs = append(errs, err)
	}

	if len(cfg.Agents) == 0 {
		errs = append(errs, fmt.Errorf("at least one agent must be configured"))
	}
	names := make([]string, 0, len(cfg.Agents))
	for name := range cfg.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		errs = append(errs, v.ValidateAgent(name, cfg.Agents[name])...)
	}

	return errs
}
