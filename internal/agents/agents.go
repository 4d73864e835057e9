// Package agents implements the host side of the engine's AgentExecutor
// contract: loading agent definitions, registering them under prioritized
// sources, and invoking them as in-process functions, subprocesses, or
// tools discovered from MCP servers.
package agents

import (
	"context"
	"sort"
	"time"

	"github.com/batonflow/baton/pkg/schema"
)

// Agent kind constants.
const (
	KindLLM     = "llm"
	KindSystem  = "system"
	KindHuman   = "human"
	KindService = "service"
)

var validKinds = map[string]bool{
	KindLLM:     true,
	KindSystem:  true,
	KindHuman:   true,
	KindService: true,
}

// ValidateKind checks that kind is one of the valid agent kinds.
func ValidateKind(kind string) error {
	if !validKinds[kind] {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"invalid agent kind %q: must be one of llm, system, human, service", kind)
	}
	return nil
}

// Agent is a named executable task. Workflows reference agents by name only;
// how an agent does its work is entirely the implementation's concern.
type Agent interface {
	Name() string
	Info() Info
	Invoke(ctx context.Context, input map[string]any) (any, error)
}

// Info is a summary of an agent for listings.
type Info struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
}

// Definition is one agent declared in an agents/*.yaml file.
type Definition struct {
	Name        string            `json:"name" yaml:"name"`
	Kind        string            `json:"kind" yaml:"kind"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Command     string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Timeout     string            `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// When is an optional expr-lang enable rule evaluated against host
	// facts at load time. A definition whose rule evaluates to false is
	// skipped, not registered.
	When string `json:"when,omitempty" yaml:"when,omitempty"`
}

// Validate checks required fields on a definition.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "agent name is required")
	}
	if err := ValidateKind(d.Kind); err != nil {
		return schema.AsBatonError(err, schema.ErrCodeValidation).
			WithDetails(map[string]any{"agent": d.Name})
	}
	if d.Command == "" {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"agent %q has no command", d.Name)
	}
	return nil
}

// TimeoutOrDefault parses the definition's timeout, falling back to def.
func (d *Definition) TimeoutOrDefault(def time.Duration) time.Duration {
	if d.Timeout == "" {
		return def
	}
	dur, err := time.ParseDuration(d.Timeout)
	if err != nil || dur <= 0 {
		return def
	}
	return dur
}

// Source provides agents from one origin: local definition files, built-in
// functions, or tools discovered from an MCP server.
type Source interface {
	Name() string
	Lookup(name string) (Agent, bool)
	List() []Info
}

// Resolver maps an agent name to an Agent.
type Resolver interface {
	Resolve(name string) (Agent, error)
	List() []Info
}

// ChainResolver queries sources in priority order and returns the first
// match. Local sources are registered before host sources, so a local
// definition shadows a same-named host agent.
type ChainResolver struct {
	sources []Source
}

// NewChainResolver creates a resolver over the given sources, highest
// priority first.
func NewChainResolver(sources ...Source) *ChainResolver {
	return &ChainResolver{sources: sources}
}

// Append adds a source with lower priority than all existing ones.
func (r *ChainResolver) Append(src Source) {
	r.sources = append(r.sources, src)
}

// Resolve returns the first agent any source knows under the name.
func (r *ChainResolver) Resolve(name string) (Agent, error) {
	for _, src := range r.sources {
		if agent, ok := src.Lookup(name); ok {
			return agent, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeAgentUnavailable,
		"agent %q is not registered with any source", name)
}

// List returns every resolvable agent, sorted by name. When two sources
// declare the same name only the higher-priority entry appears, matching
// what Resolve would return.
func (r *ChainResolver) List() []Info {
	seen := make(map[string]bool)
	var infos []Info
	for _, src := range r.sources {
		for _, info := range src.List() {
			if seen[info.Name] {
				continue
			}
			seen[info.Name] = true
			infos = append(infos, info)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
