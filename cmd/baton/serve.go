package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/batonflow/baton/internal/journal"
	"github.com/batonflow/baton/internal/validation"
	"github.com/batonflow/baton/pkg/engine"
	"github.com/batonflow/baton/pkg/mcp"
	"github.com/batonflow/baton/pkg/schema"
)

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfig()
	level := new(slog.LevelVar)
	level.Set(parseLogLevel(cfg.LogLevel))
	logger := newLogger(level)

	// Approval prompts park inside the MCP server until a client decides
	// them with baton.approve; configured rules may auto-decide first.
	approvals := mcp.NewApprovals(logger)
	uiMgr, err := buildUI(cfg, approvals, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := buildHost(ctx, cfg, logger, uiMgr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer h.Close()

	validator, err := validation.NewWorkflowValidator(h.registry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	deps := mcp.BatonServerDeps{
		Runner:    &serveRunner{executor: h.executor, approvalTimeout: cfg.ApprovalTimeout},
		Validator: validator,
		Agents:    h.resolver,
		Hub:       h.hub,
		Approvals: approvals,
		Logger:    logger,
	}
	if h.journal != nil {
		deps.History = journal.NewQuery(h.journal)
	}
	srv := mcp.NewBatonServer(deps)

	go watchConfig(ctx, cfg, level, logger)

	logger.Info("baton mcp server listening on stdio",
		"journal", cfg.Journal, "agents_dir", cfg.AgentsDir)
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// serveRunner fills host defaults into definitions before they execute.
type serveRunner struct {
	executor        *engine.Executor
	approvalTimeout string
}

func (r *serveRunner) Execute(ctx context.Context, def *schema.WorkflowDefinition, input any) (*engine.ExecutionResult, error) {
	applyApprovalTimeout(def, r.approvalTimeout)
	return r.executor.Execute(ctx, def, input)
}

// watchConfig reloads settings on SIGHUP. The log level applies live;
// anything else is reported as needing a restart.
func watchConfig(ctx context.Context, cfg Config, level *slog.LevelVar, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		next := loadConfig()
		diff := diffConfigs(cfg, next)
		if diff.LogLevelChanged {
			level.Set(parseLogLevel(next.LogLevel))
			logger.Info("log level changed", "level", next.LogLevel)
		}
		if len(diff.RestartNeeded) > 0 {
			logger.Warn("config changes need a restart to apply",
				"fields", diff.RestartNeeded)
		}
		cfg = next
	}
}
