package cache

import (
	"context"
	"sync"
	"time"
)

const lockPollInterval = 25 * time.Millisecond

// LockManager hands out short-lived advisory locks keyed by conversation
// id so two concurrent turns in the same conversation serialize rather
// than interleave their writes. A lock older than the TTL is considered
// abandoned and may be stolen.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]time.Time
	ttl   time.Duration
	clock func() time.Time
}

// NewLockManager creates a lock manager with the given TTL.
func NewLockManager(ttl time.Duration) *LockManager {
	return &LockManager{
		held:  make(map[string]time.Time),
		ttl:   ttl,
		clock: time.Now,
	}
}

// Acquire blocks until the lock for key is available or ctx is done.
// The returned release function is safe to call once.
func (m *LockManager) Acquire(ctx context.Context, key string) (func(), error) {
	for {
		if m.tryAcquire(key) {
			var once sync.Once
			return func() {
				once.Do(func() { m.release(key) })
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func (m *LockManager) tryAcquire(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	if takenAt, ok := m.held[key]; ok && now.Sub(takenAt) < m.ttl {
		return false
	}
	m.held[key] = now
	return true
}

func (m *LockManager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
}
