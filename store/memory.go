package store

import (
	"context"
	"sync"
	"time"

	"github.com/nhalm/ratecount/window"
)

type memoryEntry struct {
	count     int64
	expiresAt int64
}

// Memory is an in-memory Counter using a map with mutex protection.
//
// WARNING: This implementation is NOT suitable for distributed deployments.
// Each process keeps its own counts, so a client spreading requests across several
// instances is counted separately by each of them.
//
// Use Memory only for:
//   - Local development and testing
//   - Single-instance deployments where horizontal scaling is not needed
//
// For production distributed systems, use the Redis counter instead.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]*memoryEntry
	clock    Clock
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemory creates an in-memory counter with automatic cleanup of finished windows.
// A background goroutine runs every sweep interval (default: one minute) to remove
// counters whose window has ended.
//
// Important: You must call Close() when done to stop the cleanup goroutine.
func NewMemory(opts ...Option) *Memory {
	o := newOptions(opts)
	m := &Memory{
		entries:  make(map[string]*memoryEntry),
		clock:    o.clock,
		interval: o.sweepInterval,
		stopCh:   make(chan struct{}),
	}

	go m.cleanup()
	return m
}

// Increase adds step to the counter of key in the current window and returns the new
// total. The operation is atomic due to the lock, so concurrent callers in the same
// process never lose an update.
//
// Note: The context parameter is accepted for interface compatibility but is not used.
func (m *Memory) Increase(ctx context.Context, key string, ttl time.Duration, step int64) (int64, error) {
	count, _, err := m.IncreaseWindow(ctx, key, ttl, step)
	return count, err
}

// IncreaseWindow is Increase, also returning the window the count belongs to.
func (m *Memory) IncreaseWindow(_ context.Context, key string, ttl time.Duration, step int64) (int64, window.Window, error) {
	w := window.New(m.clock.Now(), ttl)
	if step < 1 {
		return 0, w, ErrInvalidStep
	}

	field := w.Field(key)

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[field]
	if !ok {
		entry = &memoryEntry{expiresAt: w.End}
		m.entries[field] = entry
	}
	entry.count += step
	return entry.count, w, nil
}

// Len returns the number of live window counters.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}

// Close stops the background cleanup goroutine and releases resources.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	return nil
}

// runCleanup removes every counter whose window ended before now.
func (m *Memory) runCleanup() int {
	now := m.clock.Now().Unix()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for field, entry := range m.entries {
		if now > entry.expiresAt {
			delete(m.entries, field)
			removed++
		}
	}
	return removed
}

func (m *Memory) cleanup() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runCleanup()
		case <-m.stopCh:
			return
		}
	}
}
