// Package scheduler runs registered plans on a cron cadence.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/veyra/planrun/pkg/plan"
)

// PlanRunner is the interface the scheduler uses to run plans. Satisfied by a
// thin adapter over the executor (avoids import cycle).
type PlanRunner interface {
	RunPlan(ctx context.Context, p *plan.Plan) error
}

// Job is one scheduled plan.
type Job struct {
	Name       string
	Plan       *plan.Plan
	CronExpr   string
	schedule   cron.Schedule
	NextRunAt  time.Time
	LastRunAt  time.Time
	LastStatus string
}

// Scheduler ticks on a coarse timer and runs plans whose next-run time is
// due. Runs of the same job never overlap; a tick that finds a job still
// in flight skips it.
type Scheduler struct {
	runner PlanRunner
	parser cron.Parser
	logger *slog.Logger

	tickEvery time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
	mu        sync.Mutex
	jobs      map[string]*Job

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithTickInterval overrides the default 60s tick.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickEvery = d }
}

// NewScheduler creates a Scheduler.
func NewScheduler(runner PlanRunner, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		runner:    runner,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:    logger,
		tickEvery: 60 * time.Second,
		jobs:      make(map[string]*Job),
		inflight:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a plan under a cron expression. The job name must be unique.
func (s *Scheduler) Register(name string, p *plan.Plan, cronExpr string) error {
	if name == "" {
		return plan.NewError(plan.ErrCodeValidation, "job name is empty")
	}
	if p == nil {
		return plan.NewErrorf(plan.ErrCodeValidation, "job %q has a nil plan", name)
	}

	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return plan.NewErrorf(plan.ErrCodeValidation,
			"parse cron expression %q: %s", cronExpr, err.Error()).WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return plan.NewErrorf(plan.ErrCodeConflict, "job %q already registered", name)
	}
	s.jobs[name] = &Job{
		Name:      name,
		Plan:      p,
		CronExpr:  cronExpr,
		schedule:  schedule,
		NextRunAt: schedule.Next(time.Now().UTC()),
	}
	return nil
}

// Jobs returns a snapshot of the registered jobs.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("tick", s.tickEvery))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()

	// Initial tick fires immediately.
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

// tick runs every due job. Job executions happen inline on the scheduler
// goroutine in registration-independent map order.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	due := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if !j.NextRunAt.After(now) {
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		if !s.tryAcquire(j.Name) {
			continue
		}
		s.runJob(ctx, j, now)
		s.release(j.Name)
	}
}

// runJob executes one scheduled plan and advances its timestamps.
func (s *Scheduler) runJob(ctx context.Context, j *Job, now time.Time) {
	s.logger.Info("running scheduled plan",
		slog.String("job", j.Name),
		slog.String("plan", j.Plan.Name),
	)

	err := s.runner.RunPlan(ctx, j.Plan)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.Error("scheduled plan run failed",
			slog.String("job", j.Name),
			slog.String("error", err.Error()),
		)
	}

	s.mu.Lock()
	j.LastRunAt = now
	j.LastStatus = status
	j.NextRunAt = j.schedule.Next(time.Now().UTC())
	s.mu.Unlock()
}

// tryAcquire marks the job in-flight unless it already is.
func (s *Scheduler) tryAcquire(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

func (s *Scheduler) release(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}

// CalculateNextRun computes the next fire time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler, waiting for any in-flight job to
// finish. The wait happens outside s.mu: runJob takes the same lock on the
// loop goroutine to record job state, so holding it here would deadlock.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	<-done

	s.logger.Info("scheduler stopped")
	return nil
}
