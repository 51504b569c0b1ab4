// Package scheduler runs the bot's recurring maintenance jobs, such as the
// daily admin digest. Uses robfig/cron for expression parsing and
// execution.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultJobTimeout bounds a single job run.
const DefaultJobTimeout = 5 * time.Minute

// JobFunc is the work performed when a job fires.
type JobFunc func(ctx context.Context) error

// Job is a named recurring task.
type Job struct {
	// Name identifies the job in logs and status output.
	Name string

	// Schedule is a 5-field cron expression or a descriptor such as
	// "@midnight" or "@every 1h".
	Schedule string

	// Timeout overrides DefaultJobTimeout when positive.
	Timeout time.Duration

	Run JobFunc
}

// Status is the observable state of one job.
type Status struct {
	Name      string        `json:"name"`
	Schedule  string        `json:"schedule"`
	NextRunAt time.Time     `json:"next_run_at,omitempty"`
	LastRunAt time.Time     `json:"last_run_at,omitempty"`
	LastError string        `json:"last_error,omitempty"`
	Duration  time.Duration `json:"last_run_duration,omitempty"`
	RunCount  int           `json:"run_count"`
}

type entry struct {
	job     Job
	id      cron.EntryID
	running bool
	status  Status
}

// Scheduler manages recurring jobs.
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]*entry
	logger  *slog.Logger
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New creates a scheduler evaluating schedules in loc. A nil loc means
// local time.
func New(loc *time.Location, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(cron.NewParser(
				cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
			)),
		),
		jobs:   make(map[string]*entry),
		logger: logger.With("component", "scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job. The schedule is validated immediately.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("scheduler: job name is required")
	}
	if job.Schedule == "" {
		return fmt.Errorf("scheduler: job %q: schedule is required", job.Name)
	}
	if job.Run == nil {
		return fmt.Errorf("scheduler: job %q: run function is required", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("scheduler: job %q already exists", job.Name)
	}

	e := &entry{job: job, status: Status{Name: job.Name, Schedule: job.Schedule}}
	id, err := s.cron.AddFunc(job.Schedule, func() { s.execute(e) })
	if err != nil {
		return fmt.Errorf("scheduler: job %q: invalid schedule %q: %w", job.Name, job.Schedule, err)
	}
	e.id = id
	s.jobs[job.Name] = e

	s.logger.Info("job added", "job", job.Name, "schedule", job.Schedule)
	return nil
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop halts scheduling and waits up to grace for running jobs.
func (s *Scheduler) Stop(grace time.Duration) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(grace):
		s.logger.Warn("scheduler stop timed out, cancelling running jobs")
	}
	s.cancel()
	s.logger.Info("scheduler stopped")
}

// RunNow executes the named job synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: job %q not found", name)
	}
	return s.execute(e)
}

// Statuses returns every job's state sorted by name.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.jobs))
	for _, e := range s.jobs {
		st := e.status
		if s.started {
			st.NextRunAt = s.cron.Entry(e.id).Next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// execute runs one job with a duplicate-run guard, panic recovery and a
// timeout.
func (s *Scheduler) execute(e *entry) (err error) {
	s.mu.Lock()
	if e.running {
		s.mu.Unlock()
		s.logger.Warn("skipping job (already running)", "job", e.job.Name)
		return fmt.Errorf("scheduler: job %q already running", e.job.Name)
	}
	e.running = true
	s.mu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: job %q panicked: %v", e.job.Name, r)
			s.logger.Error("scheduled job panicked", "job", e.job.Name, "panic", r)
		}

		s.mu.Lock()
		e.running = false
		e.status.LastRunAt = start
		e.status.Duration = time.Since(start)
		e.status.RunCount++
		e.status.LastError = ""
		if err != nil {
			e.status.LastError = err.Error()
		}
		s.mu.Unlock()
	}()

	timeout := e.job.Timeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	s.logger.Info("executing scheduled job", "job", e.job.Name)
	err = e.job.Run(ctx)
	if err != nil {
		s.logger.Error("scheduled job failed", "job", e.job.Name, "error", err, "duration", time.Since(start))
	} else {
		s.logger.Info("scheduled job completed", "job", e.job.Name, "duration", time.Since(start))
	}
	return err
}
