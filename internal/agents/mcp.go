package agents

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/batonflow/baton/pkg/schema"
)

const (
	mcpProtocolVersion = "2024-11-05"
	mcpCallTimeout     = 30 * time.Second
	mcpStartTimeout    = 10 * time.Second
)

// MCPServerConfig describes how to launch an MCP server whose tools become
// agents.
type MCPServerConfig struct {
	Name    string   // source prefix for discovered tools
	Command string   // server binary path
	Args    []string // CLI arguments
	Env     []string // environment variables, nil inherits the host env
}

// MCPSource manages one MCP server subprocess. Tools discovered over the
// stdio protocol register as agents named "<server>.<tool>". Requests are
// serialized: the stdio transport carries one JSON-RPC exchange at a time.
type MCPSource struct {
	config   MCPServerConfig
	registry *Registry
	logger   *slog.Logger

	mu     sync.Mutex // serializes request/response exchanges
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	cancel context.CancelFunc
	nextID atomic.Int64

	started bool
}

var _ Source = (*MCPSource)(nil)

// NewMCPSource creates a stopped source. Call Start to launch the server
// and discover its tools.
func NewMCPSource(config MCPServerConfig, logger *slog.Logger) *MCPSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPSource{
		config:   config,
		registry: NewRegistry(config.Name),
		logger:   logger,
	}
}

// Name returns the configured server name.
func (s *MCPSource) Name() string { return s.config.Name }

// Lookup retrieves a discovered tool agent by its prefixed name.
func (s *MCPSource) Lookup(name string) (Agent, bool) { return s.registry.Lookup(name) }

// List returns info for all discovered tool agents.
func (s *MCPSource) List() []Info { return s.registry.List() }

// Start launches the server subprocess, performs the initialize handshake,
// and registers the tools it advertises.
func (s *MCPSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeConfiguration,
			"MCP server %q already started", s.config.Name)
	}

	srvCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := exec.CommandContext(srvCtx, s.config.Command, s.config.Args...)
	if s.config.Env != nil {
		cmd.Env = s.config.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		s.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeAgentUnavailable,
			"stdin pipe for MCP server %q", s.config.Name).WithCause(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		s.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeAgentUnavailable,
			"stdout pipe for MCP server %q", s.config.Name).WithCause(err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		s.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeAgentUnavailable,
			"start MCP server %q", s.config.Name).WithCause(err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.stdout = bufio.NewReader(stdout)
	s.cancel = cancel
	s.started = true
	s.mu.Unlock()

	if err := s.initialize(ctx); err != nil {
		_ = s.Stop()
		return err
	}
	if err := s.discover(ctx); err != nil {
		_ = s.Stop()
		return err
	}

	s.logger.Info("MCP server started",
		"server", s.config.Name, "tools", s.registry.Count())
	return nil
}

// Stop closes stdin to signal shutdown, then waits briefly before killing
// the process.
func (s *MCPSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false
	s.cancel()

	if s.cmd.Process != nil {
		_ = s.stdin.Close()

		done := make(chan error, 1)
		go func() { done <- s.cmd.Wait() }()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			_ = s.cmd.Process.Kill()
			<-done
		}
	}

	s.logger.Info("MCP server stopped", "server", s.config.Name)
	return nil
}

// initialize performs the MCP initialize handshake.
func (s *MCPSource) initialize(ctx context.Context) error {
	_, err := s.call(ctx, "initialize", map[string]any{
		"protocolVersion": mcpProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "baton",
			"version": "1.0.0",
		},
	}, mcpStartTimeout)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeAgentUnavailable,
			"handshake with MCP server %q failed", s.config.Name).WithCause(err)
	}
	return nil
}

// discover sends tools/list and registers each advertised tool as an agent.
func (s *MCPSource) discover(ctx context.Context) error {
	result, err := s.call(ctx, "tools/list", map[string]any{}, mcpStartTimeout)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeAgentUnavailable,
			"tools/list on MCP server %q failed", s.config.Name).WithCause(err)
	}

	toolsRaw, ok := result["tools"].([]any)
	if !ok {
		return nil // no tools
	}

	var discovered []Agent
	for _, t := range toolsRaw {
		tool, ok := t.(map[string]any)
		if !ok {
			continue
		}
		name, _ := tool["name"].(string)
		if name == "" {
			continue
		}
		desc, _ := tool["description"].(string)
		discovered = append(discovered, &mcpToolAgent{
			name:        name,
			description: desc,
			source:      s,
		})
	}

	if len(discovered) > 0 {
		if _, err := s.registry.RegisterPrefixed(s.config.Name, discovered); err != nil {
			return err
		}
		s.logger.Info("discovered MCP tools",
			"server", s.config.Name, "count", len(discovered))
	}
	return nil
}

// call performs one JSON-RPC exchange over the server's stdio, holding the
// transport lock for the duration.
func (s *MCPSource) call(ctx context.Context, method string, params map[string]any, timeout time.Duration) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil, fmt.Errorf("MCP server %q not running", s.config.Name)
	}

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      s.nextID.Add(1),
		"method":  method,
		"params":  params,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}
	data = append(data, '\n')
	if _, err := s.stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write %s request: %w", method, err)
	}

	type response struct {
		resp map[string]any
		err  error
	}
	done := make(chan response, 1)
	go func() {
		line, err := s.stdout.ReadBytes('\n')
		if err != nil {
			done <- response{err: fmt.Errorf("read %s response: %w", method, err)}
			return
		}
		var resp map[string]any
		if err := json.Unmarshal(line, &resp); err != nil {
			done <- response{err: fmt.Errorf("decode %s response: %w", method, err)}
			return
		}
		done <- response{resp: resp}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if errField, exists := r.resp["error"]; exists {
			errJSON, _ := json.Marshal(errField)
			return nil, fmt.Errorf("%s error: %s", method, string(errJSON))
		}
		result, _ := r.resp["result"].(map[string]any)
		return result, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("%s timeout after %s", method, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// mcpToolAgent invokes one discovered tool via tools/call.
type mcpToolAgent struct {
	name        string
	description string
	source      *MCPSource
}

func (a *mcpToolAgent) Name() string { return a.name }

func (a *mcpToolAgent) Info() Info {
	return Info{
		Name:        a.name,
		Kind:        KindService,
		Description: a.description,
		Source:      a.source.config.Name,
	}
}

func (a *mcpToolAgent) Invoke(ctx context.Context, input map[string]any) (any, error) {
	result, err := a.source.call(ctx, "tools/call", map[string]any{
		"name":      a.name,
		"arguments": input,
	}, mcpCallTimeout)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"MCP tool %q failed: %s", a.name, err.Error()).WithCause(err)
	}
	return result, nil
}
