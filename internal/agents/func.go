package agents

import "context"

// FuncAgent adapts a Go function into an Agent. Hosts embedding the engine
// register these for work that lives in-process; the e2e suite uses them as
// scriptable agents.
type FuncAgent struct {
	name        string
	kind        string
	description string
	fn          func(ctx context.Context, input map[string]any) (any, error)
}

var _ Agent = (*FuncAgent)(nil)

// NewFuncAgent wraps fn as an agent. kind defaults to "service".
func NewFuncAgent(name string, fn func(ctx context.Context, input map[string]any) (any, error)) *FuncAgent {
	return &FuncAgent{name: name, kind: KindService, fn: fn}
}

// WithKind sets the agent kind reported in listings.
func (a *FuncAgent) WithKind(kind string) *FuncAgent {
	a.kind = kind
	return a
}

// WithDescription sets the description reported in listings.
func (a *FuncAgent) WithDescription(desc string) *FuncAgent {
	a.description = desc
	return a
}

// Name returns the agent's name.
func (a *FuncAgent) Name() string { return a.name }

// Info returns the agent summary for listings.
func (a *FuncAgent) Info() Info {
	return Info{Name: a.name, Kind: a.kind, Description: a.description}
}

// Invoke calls the wrapped function.
func (a *FuncAgent) Invoke(ctx context.Context, input map[string]any) (any, error) {
	return a.fn(ctx, input)
}
