// Package cache provides an in-process TTL cache for pipeline results.
package cache

import (
	"log/slog"
	"sync"
	"time"
)

// Cleaner is implemented by caches that support a periodic expiry sweep.
type Cleaner interface {
	CleanExpired() int
}

// Manager sweeps expired entries from registered caches on an interval.
// Expiry is already enforced on read, so the sweep only bounds memory.
type Manager struct {
	mu          sync.Mutex
	caches      []Cleaner
	logger      *slog.Logger
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	started     bool
	stopped     bool
}

// NewManager creates a new cache manager. A nil logger discards sweep logs.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		logger:      logger,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

// Register adds a cache to the manager for cleanup
func (m *Manager) Register(cache Cleaner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches = append(m.caches, cache)
}

// Sweep runs one cleanup pass over every registered cache.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	caches := append([]Cleaner(nil), m.caches...)
	m.mu.Unlock()

	total := 0
	for _, c := range caches {
		total += c.CleanExpired()
	}
	return total
}

// StartCleanup begins periodic cleanup of all registered caches
func (m *Manager) StartCleanup(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped || interval <= 0 {
		return
	}
	m.started = true
	go m.cleanup(interval)
}

func (m *Manager) cleanup(interval time.Duration) {
	defer close(m.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("Expired cache entries removed", "count", n)
			}
		case <-m.stopCleanup:
			return
		}
	}
}

// Stop gracefully stops the cleanup routine. A stopped manager cannot be
// restarted.
func (m *Manager) Stop() {
	m.mu.Lock()
	run := m.started && !m.stopped
	m.stopped = true
	m.mu.Unlock()

	if run {
		close(m.stopCleanup)
		<-m.cleanupDone
	}
}
