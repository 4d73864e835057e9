// Package mcp exposes baton over the Model Context Protocol: five tools on
// a stdio server so that MCP clients can run and validate workflows, list
// agents, decide pending approvals, and query run history.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/batonflow/baton/internal/agents"
	"github.com/batonflow/baton/internal/events"
	"github.com/batonflow/baton/internal/journal"
	"github.com/batonflow/baton/internal/validation"
	"github.com/batonflow/baton/pkg/engine"
	"github.com/batonflow/baton/pkg/schema"
)

// WorkflowRunner executes workflow definitions. Satisfied by
// *engine.Executor.
type WorkflowRunner interface {
	Execute(ctx context.Context, def *schema.WorkflowDefinition, input any) (*engine.ExecutionResult, error)
}

// BatonServerDeps holds the dependencies for creating a BatonServer.
// Every field is optional; tools whose dependency is missing report a tool
// error instead of failing the whole server.
type BatonServerDeps struct {
	Runner    WorkflowRunner
	Validator *validation.WorkflowValidator
	Agents    agents.Resolver
	History   *journal.Query
	Hub       *events.Hub
	Approvals *Approvals
	Logger    *slog.Logger
}

// BatonServer wraps an MCP server with baton-specific tool handlers.
type BatonServer struct {
	runner    WorkflowRunner
	validator *validation.WorkflowValidator
	agents    agents.Resolver
	history   *journal.Query
	hub       *events.Hub
	approvals *Approvals
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewBatonServer creates a BatonServer with all 5 tools registered. When
// deps.Approvals is nil a fresh manager is created; wire Approvals() into
// the engine as its UIManager so that baton.approve can reach pending
// prompts.
func NewBatonServer(deps BatonServerDeps) *BatonServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	approvals := deps.Approvals
	if approvals == nil {
		approvals = NewApprovals(logger)
	}

	s := &BatonServer{
		runner:    deps.Runner,
		validator: deps.Validator,
		agents:    deps.Agents,
		history:   deps.History,
		hub:       deps.Hub,
		approvals: approvals,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"baton",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Baton is a workflow orchestration engine. Use baton.run to execute a workflow file, baton.validate to check one without running it, baton.agents to list resolvable agents, baton.approve to decide a pending approval step, and baton.query to read run history with optional jq filters. A run blocks while an approval step waits; call baton.approve with its run_id to let it continue."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	approvals.notify = func(method string, params map[string]any) {
		mcpSrv.SendNotificationToAllClients(method, params)
	}
	return s
}

// Approvals returns the pending-approval manager. It implements
// engine.UIManager; pass it to engine.NewExecutor so approval steps park
// here until baton.approve resolves them.
func (s *BatonServer) Approvals() *Approvals {
	return s.approvals
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes. Engine lifecycle events are forwarded to connected clients
// as notifications while serving.
func (s *BatonServer) Serve(ctx context.Context) error {
	if s.hub != nil {
		stop, err := s.forwardEvents(ctx)
		if err != nil {
			return err
		}
		defer stop()
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom
// transports.
func (s *BatonServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// forwardEvents pushes hub events to all connected clients as
// notifications/message. Clients blocked in baton.run see step progress
// without polling baton.query.
func (s *BatonServer) forwardEvents(ctx context.Context) (stop func(), err error) {
	ch, cancel, err := s.hub.Subscribe(ctx, events.Filter{})
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e := <-ch:
				s.mcpServer.SendNotificationToAllClients("notifications/message", map[string]any{
					"type":        e.Type,
					"run_id":      e.RunID,
					"workflow_id": e.WorkflowID,
					"step_id":     e.StepID,
					"payload":     e.Payload,
				})
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *BatonServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: agentsTool(), Handler: s.handleAgents},
		{Tool: approveTool(), Handler: s.handleApprove},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("baton.run",
		mcp.WithDescription("Execute a workflow and return its result, including every step's output data"),
		mcp.WithString("workflow", mcp.Description("Path to a workflow YAML/JSON file on the baton host")),
		mcp.WithObject("definition", mcp.Description("Inline workflow definition (alternative to workflow)")),
		mcp.WithObject("input", mcp.Description("Workflow input, available to steps as 'input'")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("baton.validate",
		mcp.WithDescription("Validate a workflow definition without executing it. Returns structural, semantic, and graph issues"),
		mcp.WithString("workflow", mcp.Description("Path to a workflow YAML/JSON file on the baton host")),
		mcp.WithObject("definition", mcp.Description("Inline workflow definition (alternative to workflow)")),
	)
}

func agentsTool() mcp.Tool {
	return mcp.NewTool("baton.agents",
		mcp.WithDescription("List every agent workflows can reference, with kind and source"),
		mcp.WithString("kind", mcp.Description("Filter by agent kind (llm, system, human, service)")),
	)
}

func approveTool() mcp.Tool {
	return mcp.NewTool("baton.approve",
		mcp.WithDescription("Decide a pending approval step. The blocked run resumes with the decision"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run waiting for approval")),
		mcp.WithString("decision", mcp.Required(),
			mcp.Enum("approve", "reject"),
			mcp.Description("Whether to approve or reject the step"),
		),
		mcp.WithString("step_id", mcp.Description("Approval step ID (required only when several approvals are pending for the run)")),
		mcp.WithString("reason", mcp.Description("Free-form reason, recorded in the server log")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("baton.query",
		mcp.WithDescription("Query run history from the journal. Without run_id returns {runs:[...]}; with run_id returns {run:{...},events:[...]}. An optional jq expression filters the document; results always arrive as a JSON array of jq outputs"),
		mcp.WithString("run_id", mcp.Description("Inspect a single run, including its event stream")),
		mcp.WithString("query", mcp.Description("jq expression applied to the document (default: identity)")),
		mcp.WithObject("filter", mcp.Description("Run listing filter: workflow_id, status, since (RFC3339), limit")),
	)
}
