package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/batonflow/baton/internal/expressions"
	"github.com/batonflow/baton/internal/ui"
	"github.com/batonflow/baton/pkg/engine"
	"github.com/batonflow/baton/pkg/schema"
)

func runRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	file := fs.String("f", "", "workflow file (YAML or JSON)")
	inputFile := fs.String("i", "", "input JSON file (- for stdin)")
	query := fs.String("query", "", "jq expression applied to the run document")
	noJournal := fs.Bool("no-journal", false, "do not record this run in the journal")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "Error: -f workflow file is required")
		os.Exit(1)
	}

	cfg := loadConfig()
	if *noJournal {
		cfg.Journal = false
	}

	level := new(slog.LevelVar)
	level.Set(parseLogLevel(cfg.LogLevel))
	logger := newLogger(level)

	def, err := schema.LoadDefinition(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	applyApprovalTimeout(def, cfg.ApprovalTimeout)

	input, err := loadInput(*inputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	uiMgr, err := buildUI(cfg, ui.NewConsoleUI(), logger)
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

	result, err := h.executor.Execute(ctx, def, input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	doc := runDocument(result)
	if *query != "" {
		if err := printQueried(ctx, doc, *query); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	} else {
		out, _ := json.MarshalIndent(doc, "", "  ")
		fmt.Println(string(out))
	}

	if !result.Success {
		os.Exit(1)
	}
}

// runDocument flattens an ExecutionResult into the JSON document run emits
// on stdout. Progress lines go to stderr, so stdout stays pipeable.
func runDocument(result *engine.ExecutionResult) map[string]any {
	doc := map[string]any{
		"run_id":       result.RunID,
		"workflow_id":  result.WorkflowID,
		"success":      result.Success,
		"status":       result.Status,
		"started_at":   result.StartedAt,
		"completed_at": result.CompletedAt,
	}
	if result.Context != nil {
		doc["results"] = result.Context.ResultData()
		doc["iterations"] = result.Context.Iterations()
	}
	if result.Error != nil {
		doc["error"] = result.Error
	}
	return doc
}

// printQueried evaluates a jq expression against the run document and
// prints each output on its own line. The document is round-tripped
// through JSON first so jq sees plain types, not time.Time and friends.
func printQueried(ctx context.Context, doc map[string]any, expression string) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var plain map[string]any
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}

	outputs, err := expressions.NewGoJQEngine().EvaluateAll(ctx, expression, plain)
	if err != nil {
		return err
	}
	for _, out := range outputs {
		line, err := json.Marshal(out)
		if err != nil {
			return err
		}
		fmt.Println(string(line))
	}
	return nil
}

// loadInput reads the workflow input from a JSON file, or stdin for "-".
func loadInput(path string) (any, error) {
	if path == "" {
		return nil, nil
	}

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("parse input JSON: %w", err)
	}
	return input, nil
}
