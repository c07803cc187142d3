// Package scheduler runs named maintenance jobs on fixed intervals and
// records each run in the scheduled_jobs table.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Run statuses written to the job recorder.
const (
	StatusOK             = "ok"
	StatusError          = "error"
	StatusSkippedRunning = "skipped_running"
)

// Job defines a schedulable unit of work.
type Job struct {
	Name  string                          // Unique job identifier.
	Every time.Duration                   // Run interval.
	Run   func(ctx context.Context) error // The work; errors are logged and recorded.
}

// Config holds scheduler settings.
type Config struct {
	TickInterval time.Duration
}

// DefaultConfig returns sensible scheduler defaults.
func DefaultConfig() Config {
	return Config{TickInterval: 15 * time.Second}
}

// JobRecorder persists run bookkeeping. *store.Store satisfies it.
type JobRecorder interface {
	UpsertScheduledJob(ctx context.Context, jobName, status string, runAt time.Time) error
}

type entry struct {
	job     *Job
	next    time.Time
	running atomic.Bool
}

// Scheduler manages job registration and tick dispatch. A job that is
// still running when it comes due again is skipped for that tick.
type Scheduler struct {
	cfg      Config
	recorder JobRecorder
	now      func() time.Time

	mu   sync.RWMutex
	jobs map[string]*entry
	wg   sync.WaitGroup
}

// New creates a Scheduler. recorder may be nil.
func New(cfg Config, recorder JobRecorder) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	return &Scheduler{
		cfg:      cfg,
		recorder: recorder,
		now:      time.Now,
		jobs:     make(map[string]*entry),
	}
}

// Register adds a job, replacing any job with the same name. The first
// run is due one interval after registration.
func (s *Scheduler) Register(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = &entry{job: job, next: s.now().Add(job.Every)}
	slog.Info("Scheduler job registered", "name", job.Name, "every", job.Every)
}

// Unregister removes a job by name.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, name)
}

// Jobs returns the current registered jobs (snapshot).
func (s *Scheduler) Jobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e.job)
	}
	return out
}

// Run starts the scheduler tick loop. Blocks until context is cancelled,
// then waits for running jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("Scheduler started", "tick", s.cfg.TickInterval, "jobs", len(s.Jobs()))
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			slog.Info("Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx, s.now())
		}
	}
}

// RunNow runs the named job immediately, outside the tick schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) bool {
	s.mu.RLock()
	e, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	s.dispatch(ctx, e, s.now())
	return true
}

// Wait blocks until dispatched jobs have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// tick dispatches every job whose next run time has passed.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*entry
	for _, e := range s.jobs {
		if now.Before(e.next) {
			continue
		}
		e.next = now.Add(e.job.Every)
		due = append(due, e)
	}
	s.mu.Unlock()

	for _, e := range due {
		s.dispatch(ctx, e, now)
	}
}

// dispatch runs a job asynchronously unless its previous run is still going.
func (s *Scheduler) dispatch(ctx context.Context, e *entry, now time.Time) {
	if !e.running.CompareAndSwap(false, true) {
		slog.Warn("Scheduler job skipped: previous run still active", "job", e.job.Name)
		s.logJobRun(ctx, e.job.Name, StatusSkippedRunning, now)
		return
	}

	slog.Debug("Scheduler dispatching job", "job", e.job.Name)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer e.running.Store(false)

		status := StatusOK
		if err := e.job.Run(ctx); err != nil {
			status = StatusError
			slog.Warn("Scheduler job failed", "job", e.job.Name, "error", err)
		}
		s.logJobRun(context.WithoutCancel(ctx), e.job.Name, status, now)
	}()
}

// logJobRun persists the run status to the scheduled_jobs table (best-effort).
func (s *Scheduler) logJobRun(ctx context.Context, name, status string, tick time.Time) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.UpsertScheduledJob(ctx, name, status, tick); err != nil {
		slog.Debug("Scheduler job bookkeeping failed", "job", name, "error", err)
	}
}
