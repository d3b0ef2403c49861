package health

import (
	"context"
	"sync"
	"time"

	"github.com/sboxhq/sbox/pkg/log"
)

// TransitionFunc is called when a tracked session's health flips. It runs
// on the monitor goroutine; implementations must not block.
type TransitionFunc func(sessionID string, healthy bool, status Status)

// Monitor runs periodic health checks against live sessions. The session
// manager tracks a session when its container starts and untracks it on
// stop, so the monitor never discovers sessions on its own.
type Monitor struct {
	config       Config
	onTransition TransitionFunc

	mu      sync.Mutex
	entries map[string]*sessionMonitor
}

// sessionMonitor tracks health check state for a single session
type sessionMonitor struct {
	checker Checker
	status  *Status
	cancel  context.CancelFunc
}

// NewMonitor creates a monitor. onTransition may be nil.
func NewMonitor(config Config, onTransition TransitionFunc) *Monitor {
	if config.Interval <= 0 {
		config = DefaultConfig()
	}
	return &Monitor{
		config:       config,
		onTransition: onTransition,
		entries:      make(map[string]*sessionMonitor),
	}
}

// Track starts checking a session. Tracking an already-tracked session
// replaces its checker and resets its status.
func (m *Monitor) Track(sessionID string, checker Checker) {
	ctx, cancel := context.WithCancel(context.Background())
	entry := &sessionMonitor{
		checker: checker,
		status:  NewStatus(),
		cancel:  cancel,
	}

	m.mu.Lock()
	if old, ok := m.entries[sessionID]; ok {
		old.cancel()
	}
	m.entries[sessionID] = entry
	m.mu.Unlock()

	go m.run(ctx, sessionID, entry)
}

// Untrack stops checking a session
func (m *Monitor) Untrack(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.entries[sessionID]; ok {
		entry.cancel()
		delete(m.entries, sessionID)
	}
}

// Status returns a copy of the tracked status for a session
func (m *Monitor) Status(sessionID string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[sessionID]
	if !ok {
		return Status{}, false
	}
	return *entry.status, true
}

// Stop stops all tracking
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range m.entries {
		entry.cancel()
	}
	m.entries = make(map[string]*sessionMonitor)
}

func (m *Monitor) run(ctx context.Context, sessionID string, entry *sessionMonitor) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.runCheck(ctx, sessionID, entry)

	for {
		select {
		case <-ticker.C:
			m.runCheck(ctx, sessionID, entry)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) runCheck(ctx context.Context, sessionID string, entry *sessionMonitor) {
	checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	result := entry.checker.Check(checkCtx)

	m.mu.Lock()
	wasHealthy := entry.status.Healthy
	if !result.Healthy && entry.status.InStartPeriod(m.config) {
		// Grace period: record the check without counting the failure
		entry.status.LastCheck = result.CheckedAt
		entry.status.LastResult = result
		m.mu.Unlock()
		return
	}
	entry.status.Update(result, m.config)
	nowHealthy := entry.status.Healthy
	snapshot := *entry.status
	m.mu.Unlock()

	if wasHealthy == nowHealthy {
		return
	}

	if nowHealthy {
		log.Logger.Info().
			Str("component", "health.monitor").
			Str("session_id", sessionID).
			Msg("session repl recovered")
	} else {
		log.Logger.Warn().
			Str("component", "health.monitor").
			Str("session_id", sessionID).
			Int("consecutive_failures", snapshot.ConsecutiveFailures).
			Str("last_error", snapshot.LastResult.Message).
			Msg("session repl unhealthy")
	}

	if m.onTransition != nil {
		m.onTransition(sessionID, nowHealthy, snapshot)
	}
}
