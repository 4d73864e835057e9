package agents

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/batonflow/baton/pkg/schema"
)

// Registry is a thread-safe, name-keyed agent Source.
type Registry struct {
	source string

	mu     sync.RWMutex
	agents map[string]Agent
}

var _ Source = (*Registry)(nil)

// NewRegistry creates an empty Registry identified by its source name
// (e.g. "local", "builtin").
func NewRegistry(source string) *Registry {
	return &Registry{
		source: source,
		agents: make(map[string]Agent),
	}
}

// Name returns the registry's source name.
func (r *Registry) Name() string { return r.source }

// Register adds an agent. Returns an error on nil agents, empty names, and
// duplicate names.
func (r *Registry) Register(agent Agent) error {
	if agent == nil {
		return schema.NewError(schema.ErrCodeValidation, "agent is nil")
	}
	name := agent.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "agent name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConfiguration,
			"agent %q already registered in source %q", name, r.source)
	}

	r.agents[name] = agent
	return nil
}

// RegisterPrefixed bulk-registers agents under a prefixed namespace. Each
// agent name becomes "prefix.originalName" (e.g. "github.create_issue"),
// keeping tools from different MCP servers apart.
func (r *Registry) RegisterPrefixed(prefix string, agents []Agent) (int, error) {
	if prefix == "" {
		return 0, schema.NewError(schema.ErrCodeValidation, "agent prefix is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered := 0
	for _, a := range agents {
		prefixed := fmt.Sprintf("%s.%s", prefix, a.Name())
		if _, exists := r.agents[prefixed]; exists {
			return registered, schema.NewErrorf(schema.ErrCodeConfiguration,
				"agent %q already registered in source %q", prefixed, r.source)
		}
		r.agents[prefixed] = &prefixedAgent{inner: a, name: prefixed}
		registered++
	}
	return registered, nil
}

// Lookup retrieves an agent by name.
func (r *Registry) Lookup(name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[name]
	return agent, ok
}

// Has checks whether an agent is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// List returns info for all registered agents, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.agents))
	for _, a := range r.agents {
		info := a.Info()
		if info.Source == "" {
			info.Source = r.source
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// prefixedAgent wraps an agent under a namespaced name.
type prefixedAgent struct {
	inner Agent
	name  string
}

func (p *prefixedAgent) Name() string { return p.name }

func (p *prefixedAgent) Info() Info {
	info := p.inner.Info()
	info.Name = p.name
	return info
}

func (p *prefixedAgent) Invoke(ctx context.Context, input map[string]any) (any, error) {
	return p.inner.Invoke(ctx, input)
}
