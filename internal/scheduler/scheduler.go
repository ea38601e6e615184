// Package scheduler runs background maintenance jobs on cron schedules and
// keeps a registry of them so they can be listed and triggered by name.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	// ErrUnknownJob is returned when no job has the requested name.
	ErrUnknownJob = errors.New("scheduler: unknown job")
	// ErrDuplicateJob is returned when a job name is registered twice.
	ErrDuplicateJob = errors.New("scheduler: job already registered")
	// ErrJobRunning is returned when a manual run overlaps a running one.
	ErrJobRunning = errors.New("scheduler: job is already running")
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// JobStatus is a snapshot of one registered job.
type JobStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule,omitempty"`
	Next      time.Time `json:"next,omitempty"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int64     `json:"runs"`
	Running   bool      `json:"running"`
}

type entry struct {
	job      Job
	schedule string
	id       cron.EntryID // zero for manual-only jobs
	running  atomic.Bool

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
	runs    int64
}

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates a new scheduler. Schedules take an optional seconds field.
func New(log zerolog.Logger) *Scheduler {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		log:     log.With().Str("component", "scheduler").Logger(),
		entries: make(map[string]*entry),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job on a cron schedule. An empty schedule registers it
// for manual runs only.
// Schedule examples:
//   - "0 0 3 * * *"   - 03:00 every day
//   - "@hourly"       - Every hour
//   - "@every 30s"    - Every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}

	e := &entry{job: job, schedule: schedule}
	if schedule != "" {
		id, err := s.cron.AddFunc(schedule, func() {
			if err := s.execute(e); errors.Is(err, ErrJobRunning) {
				s.log.Warn().Str("job", name).Msg("Skipped scheduled run, previous run still active")
			}
		})
		if err != nil {
			return fmt.Errorf("job %s: %w", name, err)
		}
		e.id = id
	}
	s.entries[name] = e

	s.log.Info().
		Str("schedule", schedule).
		Str("job", name).
		Msg("Job registered")

	return nil
}

// RunNow executes a registered job immediately (outside schedule).
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	s.log.Info().Str("job", name).Msg("Running job immediately")
	return s.execute(e)
}

// execute runs a job unless it is already running and records the outcome.
func (s *Scheduler) execute(e *entry) error {
	name := e.job.Name()
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	defer e.running.Store(false)

	s.log.Debug().Str("job", name).Msg("Running job")
	start := time.Now()
	err := e.job.Run()

	e.mu.Lock()
	e.lastRun = start
	e.lastErr = err
	e.runs++
	e.mu.Unlock()

	if err != nil {
		s.log.Error().
			Err(err).
			Str("job", name).
			Msg("Job failed")
		return err
	}
	s.log.Debug().
		Str("job", name).
		Dur("duration", time.Since(start)).
		Msg("Job completed")
	return nil
}

// Jobs returns the status of every registered job, sorted by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.entries))
	for name, e := range s.entries {
		st := JobStatus{
			Name:     name,
			Schedule: e.schedule,
			Running:  e.running.Load(),
		}
		if e.id != 0 {
			st.Next = s.cron.Entry(e.id).Next
		}
		e.mu.Lock()
		st.LastRun = e.lastRun
		st.Runs = e.runs
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		e.mu.Unlock()
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
