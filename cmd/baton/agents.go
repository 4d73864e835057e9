package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/batonflow/baton/internal/agents"
)

// mcpStartTimeout bounds how long agent listing waits for each configured
// MCP server to come up and report its tools.
const mcpStartTimeout = 15 * time.Second

func runAgents(args []string) {
	fs := flag.NewFlagSet("agents", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print agents as JSON")
	kind := fs.String("kind", "", "filter by kind: llm, system, human, service")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfig()
	level := new(slog.LevelVar)
	level.Set(parseLogLevel(cfg.LogLevel))
	logger := newLogger(level)

	ctx := context.Background()
	registry := agents.NewRegistry("local")
	if _, err := agents.NewLoader(logger).LoadDir(ctx, cfg.AgentsDir, registry); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	resolver := agents.NewChainResolver(registry)
	var sources []*agents.MCPSource
	for _, sc := range cfg.MCPServers {
		src := agents.NewMCPSource(sc, logger)
		startCtx, cancel := context.WithTimeout(ctx, mcpStartTimeout)
		err := src.Start(startCtx)
		cancel()
		if err != nil {
			logger.Warn("mcp server unavailable", "server", sc.Name, "error", err.Error())
			continue
		}
		sources = append(sources, src)
		resolver.Append(src)
	}
	defer func() {
		for _, src := range sources {
			_ = src.Stop()
		}
	}()

	infos := resolver.List()
	if *kind != "" {
		filtered := infos[:0]
		for _, info := range infos {
			if info.Kind == *kind {
				filtered = append(filtered, info)
			}
		}
		infos = filtered
	}

	if *asJSON {
		out, _ := json.MarshalIndent(infos, "", "  ")
		fmt.Println(string(out))
		return
	}

	if len(infos) == 0 {
		fmt.Println("No agents found")
		return
	}
	fmt.Printf("%-28s %-8s %-10s %s\n", "NAME", "KIND", "SOURCE", "DESCRIPTION")
	for _, info := range infos {
		fmt.Printf("%-28s %-8s %-10s %s\n", info.Name, info.Kind, info.Source, info.Description)
	}
}
