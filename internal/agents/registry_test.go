package agents

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batonflow/baton/pkg/schema"
)

func echoAgent(name string) *FuncAgent {
	return NewFuncAgent(name, func(_ context.Context, input map[string]any) (any, error) {
		return input, nil
	})
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry("local")
	require.NoError(t, reg.Register(echoAgent("planner")))

	assert.Equal(t, 1, reg.Count())
	assert.True(t, reg.Has("planner"))

	got, ok := reg.Lookup("planner")
	require.True(t, ok)
	assert.Equal(t, "planner", got.Name())
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	reg := NewRegistry("local")
	require.NoError(t, reg.Register(echoAgent("dup")))

	err := reg.Register(echoAgent("dup"))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeConfiguration, schema.ErrorCode(err))
}

func TestRegistry_Register_Invalid(t *testing.T) {
	reg := NewRegistry("local")

	err := reg.Register(nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))

	err = reg.Register(echoAgent(""))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestRegistry_RegisterPrefixed(t *testing.T) {
	reg := NewRegistry("github")
	n, err := reg.RegisterPrefixed("github", []Agent{
		echoAgent("create_issue"),
		echoAgent("list_prs"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	agent, ok := reg.Lookup("github.create_issue")
	require.True(t, ok)
	assert.Equal(t, "github.create_issue", agent.Name())
	assert.Equal(t, "github.create_issue", agent.Info().Name)

	// Unprefixed name is not resolvable.
	_, ok = reg.Lookup("create_issue")
	assert.False(t, ok)
}

func TestRegistry_RegisterPrefixed_EmptyPrefix(t *testing.T) {
	reg := NewRegistry("x")
	_, err := reg.RegisterPrefixed("", []Agent{echoAgent("a")})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestRegistry_List_SortedWithSource(t *testing.T) {
	reg := NewRegistry("builtin")
	require.NoError(t, reg.Register(echoAgent("zeta")))
	require.NoError(t, reg.Register(echoAgent("alpha")))

	infos := reg.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, "zeta", infos[1].Name)
	assert.Equal(t, "builtin", infos[0].Source)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry("local")
	require.NoError(t, reg.Register(echoAgent("shared")))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = reg.Lookup("shared")
				_ = reg.List()
			}
		}()
	}
	wg.Wait()
}

func TestChainResolver_PriorityOrder(t *testing.T) {
	local := NewRegistry("local")
	host := NewRegistry("host")

	require.NoError(t, local.Register(NewFuncAgent("planner", func(_ context.Context, _ map[string]any) (any, error) {
		return "local", nil
	})))
	require.NoError(t, host.Register(NewFuncAgent("planner", func(_ context.Context, _ map[string]any) (any, error) {
		return "host", nil
	})))
	require.NoError(t, host.Register(echoAgent("reviewer")))

	resolver := NewChainResolver(local, host)

	// Local shadows host for the shared name.
	agent, err := resolver.Resolve("planner")
	require.NoError(t, err)
	out, err := agent.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "local", out)

	// Host-only names still resolve.
	_, err = resolver.Resolve("reviewer")
	require.NoError(t, err)
}

func TestChainResolver_Unknown(t *testing.T) {
	resolver := NewChainResolver(NewRegistry("local"))

	_, err := resolver.Resolve("ghost")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeAgentUnavailable, schema.ErrorCode(err))
	assert.True(t, schema.IsConfigurationError(err))
}

func TestChainResolver_List_DeduplicatesByPriority(t *testing.T) {
	local := NewRegistry("local")
	host := NewRegistry("host")
	require.NoError(t, local.Register(echoAgent("planner")))
	require.NoError(t, host.Register(echoAgent("planner")))
	require.NoError(t, host.Register(echoAgent("coder")))

	resolver := NewChainResolver(local, host)
	infos := resolver.List()

	require.Len(t, infos, 2)
	assert.Equal(t, "coder", infos[0].Name)
	assert.Equal(t, "planner", infos[1].Name)
	assert.Equal(t, "local", infos[1].Source)
}
