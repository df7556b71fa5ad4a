// Package scheduler runs named periodic jobs on cron schedules. The device
// uses it to push status snapshots to a connected peer.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anstrom/netstick/internal/logging"
)

// Scheduler manages named periodic jobs.
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[string]*ScheduledJob
	mu      sync.RWMutex
	running bool
	logger  *logging.Logger
}

// ScheduledJob is one registered job.
type ScheduledJob struct {
	Name     string
	Schedule string
	CronID   cron.EntryID
	LastRun  time.Time
	Runs     int
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		jobs:   make(map[string]*ScheduledJob),
		logger: logger.WithComponent("scheduler"),
	}
}

// ValidateSchedule checks a standard five-field cron expression or a
// descriptor such as "@every 30s".
func ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// Start begins running registered jobs.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop stops the scheduler and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// AddJob registers fn under name. A job already registered under name is
// replaced. A run is skipped while the previous run of the same job is
// still going.
func (s *Scheduler) AddJob(name, spec string, fn func()) error {
	if err := ValidateSchedule(spec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.CronID)
	}

	job := &ScheduledJob{Name: name, Schedule: spec}
	id, err := s.cron.AddFunc(spec, func() {
		s.mu.Lock()
		job.LastRun = time.Now()
		job.Runs++
		s.mu.Unlock()
		fn()
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	job.CronID = id
	s.jobs[name] = job

	s.logger.Info("Added scheduled job", "name", name, "schedule", spec)
	return nil
}

// RemoveJob removes a registered job.
func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("job not found: %s", name)
	}
	s.cron.Remove(job.CronID)
	delete(s.jobs, name)

	s.logger.Info("Removed scheduled job", "name", name)
	return nil
}

// GetJobs returns a snapshot of the registered jobs.
func (s *Scheduler) GetJobs() []ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]ScheduledJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, *j)
	}
	return jobs
}

// NextRun returns when the named job runs next, or the zero time if it is
// unknown or the scheduler is stopped.
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(job.CronID).Next
}
