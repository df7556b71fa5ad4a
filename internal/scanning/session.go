package scanning

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is one running scan. Cancellation is cooperative: Cancel sets a
// flag the engines sample between probes, and a probe already in flight runs
// to its own timeout.
type Session struct {
	ID      string
	Kind    string
	Started time.Time

	cancelled atomic.Bool
	percent   atomic.Int32

	mu    sync.RWMutex
	stage string
}

// NewSession creates a session for the named command.
func NewSession(kind string) *Session {
	return &Session{
		ID:      uuid.NewString(),
		Kind:    kind,
		Started: time.Now(),
		stage:   kind,
	}
}

// Cancel requests the scan stop at its next checkpoint. It is safe to call
// more than once and from any goroutine.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (s *Session) Cancelled() bool {
	return s.cancelled.Load()
}

// Percent returns the last reported progress percentage.
func (s *Session) Percent() int {
	return int(s.percent.Load())
}

// Stage returns the stage of the last progress report.
func (s *Session) Stage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stage
}

func (s *Session) record(p Progress) {
	s.percent.Store(int32(p.Percent))
	s.mu.Lock()
	s.stage = p.Stage
	s.mu.Unlock()
}
