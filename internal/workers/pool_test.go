package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netstick/internal/logging"
)

// MockJob implements the Job interface for testing
type MockJob struct {
	id       string
	jobType  string
	duration time.Duration
	err      error
	executed int32
	onRun    func()
}

func NewMockJob(id, jobType string, duration time.Duration, err error) *MockJob {
	return &MockJob{
		id:       id,
		jobType:  jobType,
		duration: duration,
		err:      err,
	}
}

func (m *MockJob) Execute(ctx context.Context) error {
	atomic.AddInt32(&m.executed, 1)
	if m.onRun != nil {
		m.onRun()
	}
	if m.duration > 0 {
		select {
		case <-time.After(m.duration):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

func (m *MockJob) ID() string {
	return m.id
}

func (m *MockJob) Type() string {
	return m.jobType
}

func (m *MockJob) ExecutedCount() int32 {
	return atomic.LoadInt32(&m.executed)
}

func newTestPool(config Config) *Pool {
	return New(config, logging.NewNop(), nil)
}

func TestNewPool(t *testing.T) {
	t.Run("creates pool with valid configuration", func(t *testing.T) {
		pool := newTestPool(Config{Size: 1, QueueSize: 4, ShutdownTimeout: time.Second})

		assert.NotNil(t, pool)
		assert.Equal(t, 4, cap(pool.jobs))
		assert.Equal(t, 1, pool.config.Size)
	})

	t.Run("creates pool with default values", func(t *testing.T) {
		pool := newTestPool(Config{})

		assert.NotNil(t, pool)
		assert.Equal(t, 1, pool.config.Size)
		assert.NotNil(t, pool.ctx)
	})
}

func TestPoolLifecycle(t *testing.T) {
	t.Run("start and shutdown pool successfully", func(t *testing.T) {
		pool := newTestPool(Config{Size: 1, QueueSize: 4, ShutdownTimeout: 2 * time.Second})
		pool.Start()

		job := NewMockJob("test-1", "status", 10*time.Millisecond, nil)
		require.NoError(t, pool.Submit(job))

		assert.Eventually(t, func() bool { return job.ExecutedCount() == 1 }, time.Second, 5*time.Millisecond)
		assert.NoError(t, pool.Shutdown())
	})

	t.Run("handles multiple start and shutdown calls gracefully", func(t *testing.T) {
		pool := newTestPool(Config{Size: 1, QueueSize: 1, ShutdownTimeout: time.Second})

		pool.Start()
		pool.Start()

		assert.NoError(t, pool.Shutdown())
		assert.NoError(t, pool.Shutdown())
	})
}

func TestSubmitQueueFull(t *testing.T) {
	pool := newTestPool(Config{Size: 1, QueueSize: 2, ShutdownTimeout: time.Second})
	pool.Start()
	defer func() { _ = pool.Shutdown() }()

	started := make(chan struct{})
	release := make(chan struct{})
	blocker := NewMockJob("blocker", "network_scan", 0, nil)
	blocker.onRun = func() {
		close(started)
		<-release
	}
	require.NoError(t, pool.Submit(blocker))
	<-started

	require.NoError(t, pool.Submit(NewMockJob("q1", "port_scan", 0, nil)))
	require.NoError(t, pool.Submit(NewMockJob("q2", "port_scan", 0, nil)))
	assert.Equal(t, 3, pool.Pending())

	err := pool.Submit(NewMockJob("q3", "port_scan", 0, nil))
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	assert.Eventually(t, func() bool { return pool.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSequentialExecution(t *testing.T) {
	pool := newTestPool(Config{Size: 1, QueueSize: 8, ShutdownTimeout: 2 * time.Second})
	pool.Start()
	defer func() { _ = pool.Shutdown() }()

	var (
		mu      sync.Mutex
		order   []string
		running atomic.Int32
		overlap atomic.Bool
	)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("job-%d", i)
		job := NewFuncJob(id, "test", func(context.Context) error {
			if running.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			running.Add(-1)
			return nil
		})
		require.NoError(t, pool.Submit(job))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	}, 2*time.Second, 5*time.Millisecond)

	assert.False(t, overlap.Load(), "jobs must not overlap on a single worker")
	assert.Equal(t, []string{"job-0", "job-1", "job-2", "job-3", "job-4"}, order)
}

func TestJobFailureAndPanic(t *testing.T) {
	pool := newTestPool(Config{Size: 1, QueueSize: 4, ShutdownTimeout: time.Second})
	pool.Start()
	defer func() { _ = pool.Shutdown() }()

	failing := NewMockJob("failing", "analyze", 0, errors.New("job failed"))
	require.NoError(t, pool.Submit(failing))
	require.NoError(t, pool.Submit(NewFuncJob("panics", "analyze", func(context.Context) error {
		panic("boom")
	})))
	after := NewMockJob("after", "status", 0, nil)
	require.NoError(t, pool.Submit(after))

	assert.Eventually(t, func() bool { return after.ExecutedCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), failing.ExecutedCount(), "failed jobs are not retried")
}

func TestGracefulShutdown(t *testing.T) {
	t.Run("cancels the running job", func(t *testing.T) {
		pool := newTestPool(Config{Size: 1, QueueSize: 2, ShutdownTimeout: 2 * time.Second})
		pool.Start()

		long := NewMockJob("long", "network_scan", 5*time.Second, nil)
		require.NoError(t, pool.Submit(long))
		assert.Eventually(t, func() bool { return long.ExecutedCount() == 1 }, time.Second, time.Millisecond)

		start := time.Now()
		require.NoError(t, pool.Shutdown())
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("rejects submissions after shutdown", func(t *testing.T) {
		pool := newTestPool(Config{Size: 1, QueueSize: 1, ShutdownTimeout: time.Second})
		pool.Start()
		require.NoError(t, pool.Shutdown())

		err := pool.Submit(NewMockJob("late", "status", 0, nil))
		assert.ErrorIs(t, err, ErrShutdown)
	})
}

func TestFuncJob(t *testing.T) {
	called := false
	job := NewFuncJob("id-1", "wifi_scan", func(context.Context) error {
		called = true
		return nil
	})

	assert.Equal(t, "id-1", job.ID())
	assert.Equal(t, "wifi_scan", job.Type())
	assert.NoError(t, job.Execute(context.Background()))
	assert.True(t, called)
}
