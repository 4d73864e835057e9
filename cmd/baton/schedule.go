package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/batonflow/baton/internal/scheduler"
	"github.com/batonflow/baton/internal/ui"
	"github.com/batonflow/baton/pkg/schema"
)

func runSchedule(args []string) {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	file := fs.String("f", "", "schedules YAML file")
	list := fs.Bool("list", false, "print schedules with their next run and exit")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "Error: -f schedules file is required")
		os.Exit(1)
	}

	schedules, err := scheduler.LoadSchedules(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg := loadConfig()
	level := new(slog.LevelVar)
	level.Set(parseLogLevel(cfg.LogLevel))
	logger := newLogger(level)

	if *list {
		printSchedules(schedules, logger)
		return
	}

	// Scheduled runs are headless: approvals decide by configured rules or
	// fail through the step's on_error edge.
	uiMgr, err := buildUI(cfg, ui.NoopUI{}, logger)
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

	sched, err := scheduler.NewScheduler(schedules, &workflowRunner{host: h}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := sched.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Scheduling %d workflow(s). Ctrl-C to stop.\n", len(schedules))
	<-ctx.Done()
	_ = sched.Stop()
}

// workflowRunner executes schedule firings through the wired engine.
type workflowRunner struct {
	host *host
}

func (r *workflowRunner) RunWorkflow(ctx context.Context, workflowPath string, input map[string]any) error {
	def, err := schema.LoadDefinition(workflowPath)
	if err != nil {
		return err
	}
	applyApprovalTimeout(def, r.host.cfg.ApprovalTimeout)

	var in any
	if input != nil {
		in = input
	}
	result, err := r.host.executor.Execute(ctx, def, in)
	if err != nil {
		return err
	}
	if !result.Success && result.Error != nil {
		return result.Error
	}
	return nil
}

// listOnlyRunner backs -list; the loop never starts, so it never fires.
type listOnlyRunner struct{}

func (listOnlyRunner) RunWorkflow(context.Context, string, map[string]any) error {
	return schema.NewError(schema.ErrCodeConfiguration, "schedule listing does not run workflows")
}

func printSchedules(schedules []scheduler.Schedule, logger *slog.Logger) {
	sched, err := scheduler.NewScheduler(schedules, listOnlyRunner{}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%-20s %-16s %-24s %s\n", "NAME", "CRON", "NEXT RUN", "WORKFLOW")
	for _, st := range sched.Statuses() {
		fmt.Printf("%-20s %-16s %-24s %s\n",
			st.Name, st.Cron, st.NextRun.Format(time.RFC3339), st.Workflow)
	}
}
