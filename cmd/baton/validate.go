package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/batonflow/baton/internal/agents"
	"github.com/batonflow/baton/internal/validation"
	"github.com/batonflow/baton/pkg/schema"
)

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	file := fs.String("f", "", "workflow file (YAML or JSON)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "Error: -f workflow file is required")
		os.Exit(1)
	}

	def, err := schema.LoadDefinition(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Local agent definitions back the agent existence checks. Agents served
	// over MCP resolve at run time, so an unknown name here is a warning,
	// never an error.
	cfg := loadConfig()
	level := new(slog.LevelVar)
	level.Set(parseLogLevel(cfg.LogLevel))
	logger := newLogger(level)

	registry := agents.NewRegistry("local")
	if _, err := agents.NewLoader(logger).LoadDir(context.Background(), cfg.AgentsDir, registry); err != nil {
		logger.Warn("loading local agents failed", "dir", cfg.AgentsDir, "error", err.Error())
	}

	validator, err := validation.NewWorkflowValidator(registry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	result := validator.Validate(def)
	if result.Valid() && len(result.Warnings) == 0 {
		fmt.Printf("%s: valid\n", def.ID)
		return
	}

	fmt.Println(result.String())
	if !result.Valid() {
		os.Exit(1)
	}
}
