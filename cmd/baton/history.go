package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/batonflow/baton/internal/journal"
)

func runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	query := fs.String("query", "", "jq expression applied to the run document(s)")
	workflow := fs.String("workflow", "", "filter runs by workflow id")
	status := fs.String("status", "", "filter runs by status: running, succeeded, failed")
	since := fs.String("since", "", "filter runs started at or after this RFC3339 time")
	limit := fs.Int("limit", 20, "maximum runs to list")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	runID := fs.Arg(0)

	cfg := loadConfig()
	if _, err := os.Stat(cfg.JournalPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: no journal at %s (runs are recorded when journal is enabled)\n",
			cfg.JournalPath)
		os.Exit(1)
	}

	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer j.Close()

	ctx := context.Background()
	if err := j.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	q := journal.NewQuery(j)

	var outputs []any
	if runID != "" {
		outputs, err = q.EvalRun(ctx, runID, *query)
	} else {
		filter := journal.RunFilter{
			WorkflowID: *workflow,
			Status:     *status,
			Limit:      *limit,
		}
		if *since != "" {
			ts, perr := time.Parse(time.RFC3339, *since)
			if perr != nil {
				fmt.Fprintf(os.Stderr, "Error: -since must be RFC3339: %v\n", perr)
				os.Exit(1)
			}
			filter.Since = &ts
		}
		outputs, err = q.EvalRuns(ctx, filter, *query)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	for _, out := range outputs {
		line, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(line))
	}
}
