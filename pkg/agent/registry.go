package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/harun/agentflow/pkg/coretools"
	"github.com/harun/agentflow/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// Registry holds the agent class table and the configured agent definitions.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]ClassConstructor
	defs    map[string]Definition

	factory *ProviderFactory
	tools   *toolexecutor.Catalog
	asker   coretools.AgentAsker
	logger  zerolog.Logger
}

// NewRegistry creates a registry whose agents draw tools from tools.
func NewRegistry(factory *ProviderFactory, tools *toolexecutor.Catalog, logger zerolog.Logger) *Registry {
	if tools == nil {
		tools = toolexecutor.NewCatalog()
	}
	return &Registry{
		classes: map[string]ClassConstructor{DefaultClass: NewCustomAgent},
		defs:    make(map[string]Definition),
		factory: factory,
		tools:   tools,
		logger:  logger.With().Str("component", "agent_registry").Logger(),
	}
}

// RegisterClass adds an agent class.
func (r *Registry) RegisterClass(name string, fn ClassConstructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes[strings.ToLower(name)] = fn
}

// SetAsker sets the runner used by ask_<agent> delegate tools.
func (r *Registry) SetAsker(asker coretools.AgentAsker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asker = asker
}

// Factory returns the provider factory.
func (r *Registry) Factory() *ProviderFactory {
	return r.factory
}

func (r *Registry) normalize(def Definition) (Definition, error) {
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return def, fmt.Errorf("agent name is required")
	}
	if def.Class == "" {
		def.Class = DefaultClass
	}
	def.Class = strings.ToLower(def.Class)
	if _, ok := r.classes[def.Class]; !ok {
		return def, fmt.Errorf("%w: %s", ErrUnknownAgentClass, def.Class)
	}
	def.Provider = NormalizeProviderKind(def.Provider)
	return def, nil
}

// Upsert adds or replaces one agent definition.
func (r *Registry) Upsert(def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, err := r.normalize(def)
	if err != nil {
		return err
	}
	r.defs[def.Name] = def
	r.logger.Debug().Str("agent", def.Name).Msg("Agent registered")
	return nil
}

// Remove deletes an agent definition and reports whether it existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.defs[name]
	delete(r.defs, name)
	return ok
}

// Reload replaces every definition. Nothing changes if any definition is invalid.
func (r *Registry) Reload(defs map[string]Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]Definition, len(defs))
	for name, def := range defs {
		if def.Name == "" {
			def.Name = name
		}
		def, err := r.normalize(def)
		if err != nil {
			return fmt.Errorf("agent %s: %w", name, err)
		}
		next[def.Name] = def
	}
	r.defs = next
	r.logger.Info().Int("agents", len(next)).Msg("Agents reloaded")
	return nil
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return def, nil
}

// List returns definitions sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetModel switches the provider kind and model of an agent.
func (r *Registry) SetModel(name, kind, model string) error {
	kind = NormalizeProviderKind(kind)
	if model == "" {
		return fmt.Errorf("model is required")
	}
	if kind != "" && !r.factory.Supports(kind) {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	if kind != "" {
		def.Provider = kind
	}
	def.Model = model
	r.defs[name] = def
	return nil
}

// Build constructs a fresh agent for name with its provider and tool catalog.
func (r *Registry) Build(name string) (*Agent, error) {
	r.mu.RLock()
	def, ok := r.defs[name]
	ctor := r.classes[def.Class]
	asker := r.asker
	delegates := make([]Definition, 0, len(def.Delegates))
	var missing []string
	for _, d := range def.Delegates {
		dd, ok := r.defs[d]
		if !ok || d == name {
			missing = append(missing, d)
			continue
		}
		delegates = append(delegates, dd)
	}
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	if ctor == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgentClass, def.Class)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("agent %s: %w: %s", name, ErrAgentNotFound, strings.Join(missing, ", "))
	}

	catalog, err := r.tools.Subset(def.Tools)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", name, err)
	}
	if len(delegates) > 0 {
		if asker == nil {
			return nil, fmt.Errorf("agent %s: delegates require a runner", name)
		}
		for _, d := range delegates {
			if err := catalog.Register(coretools.AgentProxyTool(d.Name, d.SystemPrompt, asker)); err != nil {
				return nil, fmt.Errorf("agent %s: %w", name, err)
			}
		}
	}

	if r.factory == nil {
		return nil, fmt.Errorf("%w: no provider factory", ErrProviderUnavailable)
	}
	provider, err := r.factory.Create(def.Provider, def.Model, ProviderOptions{
		Temperature: def.Temperature,
		MaxTokens:   def.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", name, err)
	}

	return ctor(def, provider, catalog)
}
