// Package scheduler triggers monitor runs on cron specs inside one process.
// Runs never overlap: a trigger that fires while any job is still running is
// skipped, not queued.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// DefaultJobTimeout bounds a single scheduled run.
const DefaultJobTimeout = 30 * time.Minute

// Scheduler manages the cron entries of the monitor.
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]cron.EntryID
	loc     *time.Location
	log     *slog.Logger
	timeout time.Duration

	running sync.Mutex // held for the duration of any job
	base    context.Context
	skipped map[string]int
	mu      sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.log = l } }

// WithJobTimeout overrides DefaultJobTimeout.
func WithJobTimeout(d time.Duration) Option { return func(s *Scheduler) { s.timeout = d } }

// New creates a scheduler evaluating specs in timezone ("" means local).
func New(timezone string, opts ...Option) (*Scheduler, error) {
	loc := time.Local
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
		}
		loc = l
	}
	s := &Scheduler{
		jobs:    make(map[string]cron.EntryID),
		loc:     loc,
		log:     slog.Default(),
		timeout: DefaultJobTimeout,
		base:    context.Background(),
		skipped: make(map[string]int),
	}
	for _, o := range opts {
		o(s)
	}
	logger := cronLogger{s.log}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return s, nil
}

// AddJob registers job under name with a standard five-field cron spec.
func (s *Scheduler) AddJob(name, spec string, job Job) error {
	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("schedule job %s (%q): %w", name, spec, err)
	}
	s.jobs[name] = id
	s.log.Info("job scheduled", "job", name, "spec", spec)
	return nil
}

// run executes job unless another job holds the run lock.
func (s *Scheduler) run(name string, job Job) {
	if !s.running.TryLock() {
		s.mu.Lock()
		s.skipped[name]++
		s.mu.Unlock()
		s.log.Warn("job skipped, previous run still active", "job", name)
		return
	}
	defer s.running.Unlock()

	ctx, cancel := context.WithTimeout(s.base, s.timeout)
	defer cancel()

	start := time.Now()
	s.log.Info("job started", "job", name)
	if err := job(ctx); err != nil {
		s.log.Error("job failed", "job", name, "error", err, "duration", time.Since(start))
		return
	}
	s.log.Info("job completed", "job", name, "duration", time.Since(start))
}

// Skipped reports how many triggers of name were dropped due to overlap.
func (s *Scheduler) Skipped(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped[name]
}

// Run starts the cron loop and blocks until ctx is cancelled, then waits for
// an in-flight job to finish. Jobs inherit ctx.
func (s *Scheduler) Run(ctx context.Context) {
	s.base = ctx
	s.cron.Start()
	s.log.Info("scheduler started", "jobs", len(s.jobs), "timezone", s.loc.String())
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// JobInfo describes a scheduled job.
type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}

// Jobs lists the registered jobs. NextRun is zero until the loop runs.
func (s *Scheduler) Jobs() []JobInfo {
	out := make([]JobInfo, 0, len(s.jobs))
	for name, id := range s.jobs {
		e := s.cron.Entry(id)
		out = append(out, JobInfo{Name: name, NextRun: e.Next, LastRun: e.Prev})
	}
	return out
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, kv ...any) { l.log.Debug("cron: "+msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kv, "error", err)...)
}
