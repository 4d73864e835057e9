package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/batonflow/baton/internal/agents"
	"github.com/batonflow/baton/internal/events"
	"github.com/batonflow/baton/internal/journal"
	"github.com/batonflow/baton/internal/logging"
	"github.com/batonflow/baton/internal/ui"
	"github.com/batonflow/baton/pkg/engine"
	"github.com/batonflow/baton/pkg/schema"
)

// host bundles the wired collaborators behind a command: agent resolution,
// the event hub, the optional journal recorder and the engine executor.
type host struct {
	cfg      Config
	logger   *slog.Logger
	registry *agents.Registry
	resolver *agents.ChainResolver
	mcp      []*agents.MCPSource
	hub      *events.Hub
	journal  *journal.LibSQLJournal
	recorder *journal.Recorder
	executor *engine.Executor
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger builds the host logger: a stderr text handler at the given
// level, wrapped so run/workflow/step/agent ids flow from the context into
// every record. The LevelVar lets serve apply log level changes live.
func newLogger(level *slog.LevelVar) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(logging.NewCorrelationHandler(handler))
}

// buildUI wraps inner with the configured CEL approval rules. With no rules
// the inner manager is returned as is.
func buildUI(cfg Config, inner engine.UIManager, logger *slog.Logger) (engine.UIManager, error) {
	if len(cfg.ApprovalRules) == 0 {
		return inner, nil
	}
	return ui.NewPolicyUI(inner, cfg.ApprovalRules, logger)
}

// applyApprovalTimeout fills the configured default wait bound into approval
// steps that declare none. Steps with their own timeout keep it.
func applyApprovalTimeout(def *schema.WorkflowDefinition, timeout string) {
	if timeout == "" || def == nil {
		return
	}
	for i := range def.Steps {
		step := &def.Steps[i]
		if step.Type == schema.StepTypeApproval && step.ApprovalTimeout == "" {
			step.ApprovalTimeout = timeout
		}
	}
}

// buildHost wires the full execution stack for one command: local agent
// definitions, configured MCP servers, circuit breakers, the event hub,
// the journal recorder (when enabled) and the executor. Call Close when
// done; it stops the recorder and the MCP subprocesses.
func buildHost(ctx context.Context, cfg Config, logger *slog.Logger, uiMgr engine.UIManager) (*host, error) {
	h := &host{
		cfg:      cfg,
		logger:   logger,
		registry: agents.NewRegistry("local"),
		hub:      events.NewHub(),
	}

	loader := agents.NewLoader(logger)
	loaded, err := loader.LoadDir(ctx, cfg.AgentsDir, h.registry)
	if err != nil {
		return nil, err
	}
	if loaded > 0 {
		logger.Debug("local agents loaded", "count", loaded, "dir", cfg.AgentsDir)
	}

	h.resolver = agents.NewChainResolver(h.registry)
	for _, sc := range cfg.MCPServers {
		src := agents.NewMCPSource(sc, logger)
		if err := src.Start(ctx); err != nil {
			// A dead MCP server loses its agents, not the whole host.
			logger.Warn("mcp server unavailable",
				"server", sc.Name, "command", sc.Command, "error", err.Error())
			continue
		}
		h.mcp = append(h.mcp, src)
		h.resolver.Append(src)
	}

	if cfg.Journal {
		if err := os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o700); err != nil {
			h.Close()
			return nil, err
		}
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			h.Close()
			return nil, err
		}
		h.journal = j
		if err := j.Migrate(ctx); err != nil {
			h.Close()
			return nil, err
		}
		h.recorder = journal.NewRecorder(j, h.hub, logger)
		if err := h.recorder.Start(ctx); err != nil {
			h.Close()
			return nil, err
		}
	}

	breakers := agents.NewBreakerRegistry(agents.DefaultBreakerConfig())
	h.executor = engine.NewExecutor(
		agents.NewExecutor(h.resolver, breakers, logger),
		uiMgr,
		engine.Config{
			PoolSize: cfg.PoolSize,
			Sink:     h.hub,
			Logger:   logger,
		},
	)
	return h, nil
}

// Close releases the host in reverse construction order. The recorder stops
// first so buffered events drain into the journal before it closes.
func (h *host) Close() {
	if h.executor != nil {
		h.executor.Close()
	}
	if h.recorder != nil {
		h.recorder.Stop()
	}
	if h.journal != nil {
		_ = h.journal.Close()
	}
	for _, src := range h.mcp {
		_ = src.Stop()
	}
}
