package agent

import (
	"errors"
	"time"

	"github.com/harun/agentflow/pkg/toolexecutor"
)

// Agent is one configured agent bound to a provider and its own tool catalog.
// A fresh Agent is built for every run.
type Agent struct {
	def      Definition
	provider Provider
	catalog  *toolexecutor.Catalog
}

// ClassConstructor builds an agent of one class.
type ClassConstructor func(def Definition, provider Provider, catalog *toolexecutor.Catalog) (*Agent, error)

// NewCustomAgent builds an agent driven entirely by its definition.
func NewCustomAgent(def Definition, provider Provider, catalog *toolexecutor.Catalog) (*Agent, error) {
	if def.Name == "" {
		return nil, errors.New("agent name is required")
	}
	if provider == nil {
		return nil, errors.New("provider is required")
	}
	if catalog == nil {
		catalog = toolexecutor.NewCatalog()
	}
	return &Agent{def: def, provider: provider, catalog: catalog}, nil
}

func (a *Agent) Name() string                   { return a.def.Name }
func (a *Agent) Definition() Definition         { return a.def }
func (a *Agent) Provider() Provider             { return a.provider }
func (a *Agent) Catalog() *toolexecutor.Catalog { return a.catalog }

// MaxIterations returns the model-call cap for one run.
func (a *Agent) MaxIterations() int {
	if a.def.MaxIterations > 0 {
		return a.def.MaxIterations
	}
	return DefaultMaxIterations
}

// Policy returns the tool dispatch policy of the agent.
func (a *Agent) Policy(timeout time.Duration) toolexecutor.Policy {
	policy := toolexecutor.SequentialPolicy()
	if a.def.ParallelTools == nil || *a.def.ParallelTools {
		n := a.def.MaxParallelTools
		if n < 1 {
			n = 3
		}
		policy = toolexecutor.ParallelPolicy(n)
	}
	policy.Timeout = timeout
	return policy
}
