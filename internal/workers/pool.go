// Package workers provides the bounded job queue that runs peer commands.
// Jobs are executed by a fixed number of worker goroutines in submission
// order; the coordinator runs it with a single worker so one command
// finishes before the next starts.
package workers

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anstrom/netstick/internal/logging"
	"github.com/anstrom/netstick/internal/metrics"
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = stderrors.New("job queue is full")
	// ErrShutdown is returned by Submit after Shutdown.
	ErrShutdown = stderrors.New("worker pool is shut down")
)

// Job represents a unit of work to be executed by a worker.
type Job interface {
	// Execute performs the job and returns an error if it fails.
	Execute(ctx context.Context) error
	// ID returns a unique identifier for the job.
	ID() string
	// Type returns the job type for metrics and logging.
	Type() string
}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines to create.
	Size int
	// QueueSize is the maximum number of jobs waiting to run.
	QueueSize int
	// ShutdownTimeout is the maximum time to wait for workers to finish.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:            1,
		QueueSize:       4,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Pool manages worker goroutines draining a bounded job queue.
type Pool struct {
	config  Config
	jobs    chan Job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *logging.Logger
	metrics *metrics.PrometheusMetrics

	startOnce  sync.Once
	shutdown32 int32 // atomic shutdown flag
	submitMu   sync.RWMutex
	pending    atomic.Int32
}

// New creates a new worker pool with the given configuration.
func New(config Config, logger *logging.Logger, m *metrics.PrometheusMetrics) *Pool {
	if config.Size <= 0 {
		config.Size = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		config:  config,
		jobs:    make(chan Job, config.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.WithComponent("workers"),
		metrics: m,
	}
}

// Start begins the worker pool operations.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("Starting worker pool",
			"worker_count", p.config.Size,
			"queue_size", p.config.QueueSize)

		for i := 0; i < p.config.Size; i++ {
			p.wg.Add(1)
			go p.run(i)
		}
	})
}

// Submit queues job without blocking. It returns ErrQueueFull when every
// queue slot is taken.
func (p *Pool) Submit(job Job) error {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if atomic.LoadInt32(&p.shutdown32) == 1 {
		return ErrShutdown
	}

	select {
	case p.jobs <- job:
		p.pending.Add(1)
		p.logger.Debug("Job submitted",
			"job_id", job.ID(),
			"job_type", job.Type())
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of jobs queued or running.
func (p *Pool) Pending() int {
	return int(p.pending.Load())
}

// Shutdown stops accepting jobs, cancels the context passed to running
// jobs and waits for the workers to exit.
func (p *Pool) Shutdown() error {
	p.submitMu.Lock()
	if !atomic.CompareAndSwapInt32(&p.shutdown32, 0, 1) {
		p.submitMu.Unlock()
		return nil
	}
	close(p.jobs)
	p.submitMu.Unlock()

	p.logger.Info("Shutting down worker pool")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Worker pool shutdown completed")
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("Worker pool shutdown timeout, waiting for running job")
		<-done
	}
	return nil
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", "worker_id", id)
	defer p.logger.Debug("Worker stopped", "worker_id", id)

	for job := range p.jobs {
		if p.ctx.Err() != nil {
			p.pending.Add(-1)
			continue
		}
		p.execute(id, job)
	}
}

func (p *Pool) execute(id int, job Job) {
	defer p.pending.Add(-1)
	start := time.Now()

	err := p.safeExecute(job)
	duration := time.Since(start)

	if err != nil {
		p.metrics.IncrementCommands(job.Type(), "failed")
		p.logger.Warn("Job failed",
			"job_id", job.ID(),
			"job_type", job.Type(),
			"duration", duration,
			"worker_id", id,
			"error", err)
		return
	}
	p.metrics.IncrementCommands(job.Type(), "completed")
	p.logger.Debug("Job completed",
		"job_id", job.ID(),
		"job_type", job.Type(),
		"duration", duration,
		"worker_id", id)
}

func (p *Pool) safeExecute(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Job panicked", "job_id", job.ID(), "panic", r)
			err = stderrors.New("job panicked")
		}
	}()
	return job.Execute(p.ctx)
}

// FuncJob adapts a function to the Job interface.
type FuncJob struct {
	id      string
	jobType string
	fn      func(ctx context.Context) error
}

// NewFuncJob creates a job running fn.
func NewFuncJob(id, jobType string, fn func(ctx context.Context) error) *FuncJob {
	return &FuncJob{id: id, jobType: jobType, fn: fn}
}

// Execute implements the Job interface.
func (j *FuncJob) Execute(ctx context.Context) error {
	return j.fn(ctx)
}

// ID implements the Job interface.
func (j *FuncJob) ID() string {
	return j.id
}

// Type implements the Job interface.
func (j *FuncJob) Type() string {
	return j.jobType
}
