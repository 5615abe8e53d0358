package lock

import (
	"context"
	"sync"
)

// MemoryManager is a process-local lock manager. Suitable for
// single-instance deployments and tests; multi-instance deployments use
// RedisManager.
type MemoryManager struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewMemoryManager creates a new in-process lock manager
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{locks: make(map[string]chan struct{})}
}

// Acquire blocks until the key's lock is held or ctx is done
func (m *MemoryManager) Acquire(ctx context.Context, key string) (func(), error) {
	for {
		m.mu.Lock()
		holder, held := m.locks[key]
		if !held {
			ch := make(chan struct{})
			m.locks[key] = ch
			m.mu.Unlock()
			return func() {
				m.mu.Lock()
				delete(m.locks, key)
				m.mu.Unlock()
				close(ch)
			}, nil
		}
		m.mu.Unlock()

		select {
		case <-holder:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
