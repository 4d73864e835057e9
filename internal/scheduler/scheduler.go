// Package scheduler fires workflows from a cron schedules file. State is
// in-memory: next-run times are computed at construction and advanced after
// each firing, so a restart simply realigns every schedule to the clock.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/batonflow/baton/pkg/schema"
)

const tickInterval = 60 * time.Second

// Runner executes a workflow file. Satisfied by the CLI's run wiring
// (avoids an engine import here).
type Runner interface {
	RunWorkflow(ctx context.Context, workflowPath string, input map[string]any) error
}

// Status is a point-in-time view of one schedule, for listings.
type Status struct {
	Schedule
	NextRun   time.Time  `json:"next_run"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Running   bool       `json:"running"`
}

type entry struct {
	schedule Schedule
	cronSpec cron.Schedule

	nextRun   time.Time
	lastRun   *time.Time
	lastError string
}

// Scheduler ticks every minute and fires schedules whose next run is due.
// A schedule never overlaps itself: while one firing is in flight, due
// ticks for the same schedule are skipped and the next run recomputed.
type Scheduler struct {
	entries []*entry
	runner  Runner
	parser  cron.Parser
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	jobs   sync.WaitGroup

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewScheduler builds a scheduler over already-validated schedules.
// Next-run times are computed from now.
func NewScheduler(schedules []Schedule, runner Runner, logger *slog.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "scheduler needs a runner")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger.With("component", "scheduler"),
		inflight: make(map[string]struct{}),
	}

	now := time.Now().UTC()
	for _, sched := range schedules {
		spec, err := s.parser.Parse(sched.Cron)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
				"schedule %q: invalid cron expression %q", sched.Name, sched.Cron).WithCause(err)
		}
		s.entries = append(s.entries, &entry{
			schedule: sched,
			cronSpec: spec,
			nextRun:  spec.Next(now),
		})
	}
	return s, nil
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return schema.NewError(schema.ErrCodeConfiguration, "scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", "schedules", len(s.entries))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires every due schedule. Firings run on their own goroutines so a
// long workflow (or a parked approval) cannot stall the other schedules.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	for _, e := range s.entries {
		s.mu.Lock()
		due := !e.nextRun.After(now)
		if due {
			e.nextRun = e.cronSpec.Next(now)
		}
		s.mu.Unlock()
		if !due {
			continue
		}

		if !s.tryAcquire(e.schedule.Name) {
			s.logger.Warn("schedule still running, skipping",
				"schedule", e.schedule.Name)
			continue
		}

		s.jobs.Add(1)
		go func(e *entry, firedAt time.Time) {
			defer s.jobs.Done()
			defer s.release(e.schedule.Name)
			s.fire(ctx, e, firedAt)
		}(e, now)
	}
}

// fire runs one schedule and records the outcome.
func (s *Scheduler) fire(ctx context.Context, e *entry, firedAt time.Time) {
	s.logger.Info("firing schedule",
		"schedule", e.schedule.Name,
		"workflow", e.schedule.Workflow)

	err := s.runner.RunWorkflow(ctx, e.schedule.Workflow, e.schedule.Input)

	s.mu.Lock()
	ts := firedAt
	e.lastRun = &ts
	if err != nil {
		e.lastError = err.Error()
	} else {
		e.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled run failed",
			"schedule", e.schedule.Name,
			"error", err.Error())
		return
	}
	s.logger.Info("scheduled run finished", "schedule", e.schedule.Name)
}

// tryAcquire returns true and marks the schedule in-flight if it is not
// already running.
func (s *Scheduler) tryAcquire(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

// release removes the schedule from the in-flight set.
func (s *Scheduler) release(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}

// CalculateNextRun computes the next firing for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeConfiguration,
			"parse cron expression %q", cronExpr).WithCause(err)
	}
	return schedule.Next(from), nil
}

// Statuses reports every schedule with its computed next run. Safe to call
// whether or not the loop is started; the CLI schedule listing uses it.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		st := Status{
			Schedule:  e.schedule,
			NextRun:   e.nextRun,
			LastError: e.lastError,
			Running:   s.isInflight(e.schedule.Name),
		}
		if e.lastRun != nil {
			ts := *e.lastRun
			st.LastRun = &ts
		}
		out = append(out, st)
	}
	return out
}

func (s *Scheduler) isInflight(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	_, ok := s.inflight[name]
	return ok
}

// Stop cancels the loop and waits for it and any in-flight firings.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.jobs.Wait()

	s.logger.Info("scheduler stopped")
	return nil
}
