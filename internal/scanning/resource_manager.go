package scanning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anstrom/netstick/internal/metrics"
)

const (
	// maxScanDuration is how long a session may run before it is reported as stuck.
	maxScanDuration = 30 * time.Minute
)

// SessionManager hands out scan slots. The coordinator runs it with a single
// slot so at most one engine invocation is live at any time.
type SessionManager struct {
	capacity  int
	semaphore chan struct{}
	active    map[string]*Session
	order     []string
	mutex     sync.RWMutex
	closed    bool
	metrics   *metrics.PrometheusMetrics
}

// NewSessionManager creates a manager with the given number of slots.
func NewSessionManager(capacity int, m *metrics.PrometheusMetrics) *SessionManager {
	if capacity <= 0 {
		capacity = 1
	}

	return &SessionManager{
		capacity:  capacity,
		semaphore: make(chan struct{}, capacity),
		active:    make(map[string]*Session),
		metrics:   m,
	}
}

// Begin waits for a free slot and starts a session for the named command.
func (sm *SessionManager) Begin(ctx context.Context, kind string) (*Session, error) {
	sm.mutex.RLock()
	closed := sm.closed
	sm.mutex.RUnlock()
	if closed {
		return nil, fmt.Errorf("session manager is closed")
	}

	select {
	case sm.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s := NewSession(kind)
	sm.mutex.Lock()
	sm.active[s.ID] = s
	sm.order = append(sm.order, s.ID)
	count := len(sm.active)
	sm.mutex.Unlock()

	sm.metrics.SetActiveScans(count)
	return s, nil
}

// End releases the slot held by s.
func (sm *SessionManager) End(s *Session) {
	if s == nil {
		return
	}

	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if _, exists := sm.active[s.ID]; !exists {
		return
	}
	delete(sm.active, s.ID)
	for i, id := range sm.order {
		if id == s.ID {
			sm.order = append(sm.order[:i], sm.order[i+1:]...)
			break
		}
	}

	select {
	case <-sm.semaphore:
	default:
	}
	sm.metrics.SetActiveScans(len(sm.active))
}

// Current returns the oldest live session, or nil when idle.
func (sm *SessionManager) Current() *Session {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	if len(sm.order) == 0 {
		return nil
	}
	return sm.active[sm.order[0]]
}

// CancelAll sets the cancellation flag of every live session and returns how
// many there were.
func (sm *SessionManager) CancelAll() int {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	for _, s := range sm.active {
		s.Cancel()
	}
	return len(sm.active)
}

// ActiveCount returns the number of live sessions.
func (sm *SessionManager) ActiveCount() int {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return len(sm.active)
}

// AvailableSlots returns the number of free slots.
func (sm *SessionManager) AvailableSlots() int {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.capacity - len(sm.active)
}

// IsHealthy returns false once the manager is closed or a session has
// outlived maxScanDuration.
func (sm *SessionManager) IsHealthy() bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	if sm.closed {
		return false
	}
	return sm.stuckLocked(time.Now()) == 0
}

func (sm *SessionManager) stuckLocked(now time.Time) int {
	stuck := 0
	for _, s := range sm.active {
		if now.Sub(s.Started) > maxScanDuration {
			stuck++
		}
	}
	return stuck
}

// Close cancels live sessions and refuses new ones.
func (sm *SessionManager) Close() error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.closed {
		return nil
	}
	sm.closed = true

	for _, s := range sm.active {
		s.Cancel()
	}
	return nil
}

// GetStats returns a snapshot for the health endpoint.
func (sm *SessionManager) GetStats() map[string]interface{} {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	stats := map[string]interface{}{
		"capacity":        sm.capacity,
		"active_scans":    len(sm.active),
		"available_slots": sm.capacity - len(sm.active),
		"stuck_scans":     sm.stuckLocked(time.Now()),
		"closed":          sm.closed,
	}
	if len(sm.order) > 0 {
		s := sm.active[sm.order[0]]
		stats["operation"] = s.Kind
		stats["scan_id"] = s.ID
		stats["progress"] = s.Percent()
	}
	return stats
}
