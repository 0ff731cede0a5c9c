// Package cache holds the in-memory layers shared by the sync core and the
// loop that keeps them from growing stale.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	blog "bookkeep/internal/log"
)

// Cache is the subset of LRU used by callers that only need key lookups.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, val T) bool
	Delete(key string)
	Purge()
	Size() int
}

// Cleaner is anything with entries that can go stale.
type Cleaner interface {
	CleanExpired() int
}

// Manager sweeps registered caches on an interval.
type Manager struct {
	mu       sync.Mutex
	cleaners []Cleaner
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) Register(c Cleaner) {
	m.mu.Lock()
	m.cleaners = append(m.cleaners, c)
	m.mu.Unlock()
}

// Sweep runs one pass over every registered cache.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	cleaners := append([]Cleaner(nil), m.cleaners...)
	m.mu.Unlock()

	n := 0
	for _, c := range cleaners {
		n += c.CleanExpired()
	}
	return n
}

// Start launches the sweep loop until ctx ends or Stop is called. A second
// Start while running is a no-op.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx, interval, m.done)
}

// Stop ends the loop and waits for it. Calling it without a running loop is
// fine.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := m.Sweep(); n > 0 {
				slog.DebugContext(ctx, "Expired cache entries removed",
					blog.FieldComponent, blog.ComponentImages, blog.FieldCount, n)
			}
		}
	}
}
